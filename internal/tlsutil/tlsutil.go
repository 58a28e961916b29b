// Package tlsutil builds a *tls.Config from the Security.TLS.* options of
// spec.md §6.4, adapted from the certificate-loading conventions of the
// teacher's pkg/security/certs.go (load PEM cert/key pairs, build a CA
// pool, decide client-cert verification).
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Options mirrors the Security.TLS.* configuration keys.
type Options struct {
	EnableTLS                  bool
	CertificateFile            string
	PrivateKeyFile             string
	RootCACertFile             string
	RequireAndVerifyClientCert bool
}

// Build loads the configured certificate/key pair and CA bundle and
// returns a server-side *tls.Config, or nil if TLS is disabled.
func Build(opts Options) (*tls.Config, error) {
	if !opts.EnableTLS {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(opts.CertificateFile, opts.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: load certificate/key: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if opts.RootCACertFile != "" {
		pool, err := loadCertPool(opts.RootCACertFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
	}

	if opts.RequireAndVerifyClientCert {
		if cfg.ClientCAs == nil {
			return nil, fmt.Errorf("tlsutil: RequireAndVerifyClientCert set but RootCACertFile is empty")
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: read CA bundle %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, fmt.Errorf("tlsutil: no certificates found in %s", path)
	}
	return pool, nil
}
