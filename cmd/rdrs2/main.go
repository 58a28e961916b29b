package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logicalclocks/rdrs2go/internal/bufpool"
	"github.com/logicalclocks/rdrs2go/internal/cache/apikeycache"
	"github.com/logicalclocks/rdrs2go/internal/cache/fvcache"
	"github.com/logicalclocks/rdrs2go/internal/config"
	"github.com/logicalclocks/rdrs2go/internal/dal/boltdal"
	"github.com/logicalclocks/rdrs2go/internal/dispatcher"
	"github.com/logicalclocks/rdrs2go/internal/httpapi"
	"github.com/logicalclocks/rdrs2go/internal/log"
	"github.com/logicalclocks/rdrs2go/internal/tlsutil"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath  string
	printConfig bool
	helpConfig  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rdrs2",
	Short: "rdrs2 - online feature store serving layer",
	Long: `rdrs2 serves low-latency primary-key reads, assembled feature
vectors and read-only aggregation queries against an NDB/RonDB-backed
feature store over HTTP/JSON.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"rdrs2 version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().StringVar(&configPath, "config", "/etc/rdrs2/config.json", "path to the JSON configuration file")
	rootCmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	rootCmd.Flags().BoolVar(&helpConfig, "help-config", false, "describe every configuration key and exit")
}

func run(cmd *cobra.Command, args []string) error {
	if helpConfig {
		printConfigHelp()
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if printConfig {
		out, err := config.Print(cfg)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		JSONOutput: cfg.Log.FilePath != "",
	})
	logger := log.WithComponent("main")

	if cfg.PIDFile != "" {
		if err := os.WriteFile(cfg.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			return fmt.Errorf("write pid file %s: %w", cfg.PIDFile, err)
		}
		defer os.Remove(cfg.PIDFile)
	}

	tlsCfg, err := tlsutil.Build(tlsutil.Options{
		EnableTLS:                  cfg.Security.TLS.EnableTLS,
		CertificateFile:            cfg.Security.TLS.CertificateFile,
		PrivateKeyFile:             cfg.Security.TLS.PrivateKeyFile,
		RootCACertFile:             cfg.Security.TLS.RootCACertFile,
		RequireAndVerifyClientCert: cfg.Security.TLS.RequireAndVerifyClientCert,
	})
	if err != nil {
		return err
	}

	storage, err := boltdal.Open(boltdalPath(cfg))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	ctx := context.Background()
	if err := storage.Connect(ctx); err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}

	fv := fvcache.New(storage, fvcache.Config{
		NShards:          16,
		UnusedEvictionMS: int64(cfg.Security.APIKey.CacheUnusedEntriesEvictionMS),
		SweepIntervalMS:  int64(cfg.Security.APIKey.CacheRefreshIntervalMS),
	})
	defer fv.Shutdown()

	apiKeys := apikeycache.New(storage, apikeycache.Config{
		NShards:                 16,
		RefreshIntervalMS:       int64(cfg.Security.APIKey.CacheRefreshIntervalMS),
		RefreshIntervalJitterMS: int64(cfg.Security.APIKey.CacheRefreshIntervalJitterMS),
		UnusedEvictionMS:        int64(cfg.Security.APIKey.CacheUnusedEntriesEvictionMS),
	})
	defer apiKeys.Shutdown()

	bufs := bufpool.New(bufpool.Config{
		ReqBufferSize:       cfg.Internal.ReqBufferSize,
		RespBufferSize:      cfg.Internal.RespBufferSize,
		PreAllocatedBuffers: cfg.Internal.PreAllocatedBuffers,
	})

	d := dispatcher.New(fv, apiKeys, storage, bufs, dispatcher.Config{
		MaxRequestBytes:    cfg.Internal.ReqBufferSize,
		BatchMaxSize:       cfg.Internal.BatchMaxSize,
		OperationIDMaxSize: cfg.Internal.OperationIDMaxSize,
		RequireAPIKey:      cfg.Security.APIKey.UseHopsworksAPIKeys,
	})

	srv := httpapi.New(d, bufs)
	addr := net.JoinHostPort(cfg.REST.ServerIP, strconv.Itoa(cfg.REST.ServerPort))

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Bool("tls", tlsCfg != nil).Msg("listening")
		errCh <- srv.ListenAndServe(addr, tlsCfg)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case sig := <-sigCh:
		switch sig {
		case syscall.SIGTERM:
			logger.Info().Msg("received SIGTERM, shutting down")
			return nil
		default:
			logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			// os.Exit skips deferred calls, so remove the PID file here
			if cfg.PIDFile != "" {
				os.Remove(cfg.PIDFile)
			}
			os.Exit(128 + int(sig.(syscall.Signal)))
			return nil
		}
	}
}

func boltdalPath(cfg *config.Config) string {
	if cfg.PIDFile != "" {
		return cfg.PIDFile + ".boltdal"
	}
	return "rdrs2.boltdal"
}

func printConfigHelp() {
	fmt.Println(`Configuration keys (JSON file, path given by --config):

Internal.ReqBufferSize / RespBufferSize   request/response buffer sizes in bytes (>=256, multiple of 4)
Internal.PreAllocatedBuffers              buffers pre-warmed into each pool
Internal.BatchMaxSize                     max operations per batch request
Internal.OperationIDMaxSize               max operation-id length

REST.Enable / ServerIP / ServerPort / NumThreads   HTTP listener configuration

RonDB.Mgmds[].IP/Port, ConnectionPoolSize (must be 1), NodeIDs[],
RonDB.ConnectionRetries, ConnectionRetryDelayInSec,
RonDB.OpRetryOnTransientErrorsCount, OpRetryInitialDelayInMS, OpRetryJitterInMS

RonDBMetadataCluster   same shape as RonDB; defaults to RonDB if absent

Security.TLS.EnableTLS / CertificateFile / PrivateKeyFile / RootCACertFile / RequireAndVerifyClientCert
Security.APIKey.UseHopsworksAPIKeys, CacheRefreshIntervalMS (>0),
Security.APIKey.CacheUnusedEntriesEvictionMS (> CacheRefreshIntervalMS),
Security.APIKey.CacheRefreshIntervalJitterMS (< CacheRefreshIntervalMS)

Log.Level / FilePath / MaxSizeMB / MaxBackups / MaxAge

PIDFile   path written on startup, removed on exit`)
}
