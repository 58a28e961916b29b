// Package config loads the JSON configuration file described in spec.md
// §6.4. Every option has a default; keys beginning with "#" are accepted as
// comments and stripped before unmarshalling.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level configuration document.
type Config struct {
	Internal           Internal           `json:"Internal"`
	REST               REST               `json:"REST"`
	RonDB              RonDBCluster       `json:"RonDB"`
	RonDBMetadataCluster *RonDBCluster    `json:"RonDBMetadataCluster,omitempty"`
	Security           Security           `json:"Security"`
	Log                Log                `json:"Log"`
	PIDFile            string             `json:"PIDFile"`
}

type Internal struct {
	ReqBufferSize        int `json:"ReqBufferSize"`
	RespBufferSize       int `json:"RespBufferSize"`
	PreAllocatedBuffers  int `json:"PreAllocatedBuffers"`
	BatchMaxSize         int `json:"BatchMaxSize"`
	OperationIDMaxSize   int `json:"OperationIDMaxSize"`
}

type REST struct {
	Enable     bool   `json:"Enable"`
	ServerIP   string `json:"ServerIP"`
	ServerPort int    `json:"ServerPort"`
	NumThreads int    `json:"NumThreads"`
}

type Mgmd struct {
	IP   string `json:"IP"`
	Port int    `json:"Port"`
}

type RonDBCluster struct {
	Mgmds                     []Mgmd `json:"Mgmds"`
	ConnectionPoolSize        int    `json:"ConnectionPoolSize"`
	NodeIDs                   []int  `json:"NodeIDs"`
	ConnectionRetries         int    `json:"ConnectionRetries"`
	ConnectionRetryDelayInSec int    `json:"ConnectionRetryDelayInSec"`
	OpRetryOnTransientErrorsCount int `json:"OpRetryOnTransientErrorsCount"`
	OpRetryInitialDelayInMS   int    `json:"OpRetryInitialDelayInMS"`
	OpRetryJitterInMS         int    `json:"OpRetryJitterInMS"`
}

type TLS struct {
	EnableTLS                 bool   `json:"EnableTLS"`
	CertificateFile           string `json:"CertificateFile"`
	PrivateKeyFile            string `json:"PrivateKeyFile"`
	RootCACertFile            string `json:"RootCACertFile"`
	RequireAndVerifyClientCert bool  `json:"RequireAndVerifyClientCert"`
}

type APIKey struct {
	UseHopsworksAPIKeys          bool `json:"UseHopsworksAPIKeys"`
	CacheRefreshIntervalMS       int  `json:"CacheRefreshIntervalMS"`
	CacheUnusedEntriesEvictionMS int  `json:"CacheUnusedEntriesEvictionMS"`
	CacheRefreshIntervalJitterMS int  `json:"CacheRefreshIntervalJitterMS"`
}

type Security struct {
	TLS    TLS    `json:"TLS"`
	APIKey APIKey `json:"APIKey"`
}

type Log struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAge     int    `json:"MaxAge"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		Internal: Internal{
			ReqBufferSize:       256 * 1024,
			RespBufferSize:      256 * 1024,
			PreAllocatedBuffers: 2048,
			BatchMaxSize:        4096,
			OperationIDMaxSize:  256,
		},
		REST: REST{
			Enable:     true,
			ServerIP:   "0.0.0.0",
			ServerPort: 4406,
			NumThreads: 16,
		},
		RonDB: RonDBCluster{
			Mgmds:                     []Mgmd{{IP: "127.0.0.1", Port: 1186}},
			ConnectionPoolSize:        1,
			NodeIDs:                   []int{0},
			ConnectionRetries:         5,
			ConnectionRetryDelayInSec: 5,
			OpRetryOnTransientErrorsCount: 3,
			OpRetryInitialDelayInMS:   500,
			OpRetryJitterInMS:         100,
		},
		Security: Security{
			TLS: TLS{EnableTLS: false},
			APIKey: APIKey{
				UseHopsworksAPIKeys:          true,
				CacheRefreshIntervalMS:       10_000,
				CacheUnusedEntriesEvictionMS: 300_000,
				CacheRefreshIntervalJitterMS: 2_000,
			},
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		PIDFile: "",
	}
}

// Load reads and parses the configuration file at path, applying defaults
// for any key left unset. Lines whose first non-whitespace JSON object key
// starts with "#" are treated as comments: stripComments removes them
// before unmarshalling since encoding/json has no native comment support.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	stripped := stripComments(raw)
	if err := json.Unmarshal(stripped, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// stripComments removes any object key whose name begins with "#" from a
// JSON document, by round-tripping through a generic map and re-encoding.
// This tolerates comment keys anywhere in the document, including nested
// objects.
func stripComments(raw []byte) []byte {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Fall back to the raw bytes; the caller's Unmarshal will surface
		// the real syntax error.
		return raw
	}
	clean := stripCommentKeys(doc)
	out, err := json.Marshal(clean)
	if err != nil {
		return raw
	}
	return out
}

func stripCommentKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			if len(k) > 0 && k[0] == '#' {
				continue
			}
			m[k] = stripCommentKeys(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = stripCommentKeys(e)
		}
		return out
	default:
		return v
	}
}

// Validate applies the cross-field constraints from spec.md §6.4.
func (c *Config) Validate() error {
	if c.Internal.ReqBufferSize < 256 || c.Internal.ReqBufferSize%4 != 0 {
		return fmt.Errorf("Internal.ReqBufferSize must be >= 256 and a multiple of 4")
	}
	if c.Internal.RespBufferSize < 256 || c.Internal.RespBufferSize%4 != 0 {
		return fmt.Errorf("Internal.RespBufferSize must be >= 256 and a multiple of 4")
	}
	if err := c.RonDB.validate(); err != nil {
		return fmt.Errorf("RonDB: %w", err)
	}
	if c.RonDBMetadataCluster != nil {
		if err := c.RonDBMetadataCluster.validate(); err != nil {
			return fmt.Errorf("RonDBMetadataCluster: %w", err)
		}
	}
	ak := c.Security.APIKey
	if ak.CacheRefreshIntervalMS <= 0 {
		return fmt.Errorf("Security.APIKey.CacheRefreshIntervalMS must be > 0")
	}
	if ak.CacheUnusedEntriesEvictionMS <= ak.CacheRefreshIntervalMS {
		return fmt.Errorf("Security.APIKey.CacheUnusedEntriesEvictionMS must exceed CacheRefreshIntervalMS")
	}
	if ak.CacheRefreshIntervalJitterMS >= ak.CacheRefreshIntervalMS {
		return fmt.Errorf("Security.APIKey.CacheRefreshIntervalJitterMS must be less than CacheRefreshIntervalMS")
	}
	return nil
}

func (r *RonDBCluster) validate() error {
	if r.ConnectionPoolSize != 1 {
		return fmt.Errorf("ConnectionPoolSize must currently be 1, got %d", r.ConnectionPoolSize)
	}
	if len(r.NodeIDs) != r.ConnectionPoolSize {
		return fmt.Errorf("len(NodeIDs) must equal ConnectionPoolSize")
	}
	return nil
}

// MetadataCluster returns the metadata-cluster configuration, defaulting to
// RonDB when RonDBMetadataCluster is absent (spec.md §6.4).
func (c *Config) MetadataCluster() RonDBCluster {
	if c.RonDBMetadataCluster != nil {
		return *c.RonDBMetadataCluster
	}
	return c.RonDB
}

// Print writes cfg back out as indented JSON, for --print-config.
func Print(cfg *Config) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return "", err
	}
	return buf.String(), nil
}
