package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sqlited/sqlited/internal/config"
	"github.com/sqlited/sqlited/internal/logging"
	"github.com/sqlited/sqlited/internal/server"
)

func newServerCommand() *cobra.Command {
	var (
		dataDir       string
		workerCount   int
		maxConns      int
		host          string
		port          int
		adminAddr     string
		allowListPath string
		configPath    string
		trace         bool
		traceError    bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the sqlited server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New(logging.Options{Trace: trace, TraceError: traceError})

			v, err := config.New(configPath)
			if err != nil {
				return err
			}
			if workerCount > 0 {
				v.Set(config.KeyWorkerCount, workerCount)
			}
			if maxConns > 0 {
				v.Set(config.KeyMaxConns, maxConns)
			}
			if host != "" {
				v.Set(config.KeyHost, host)
			}
			if port > 0 {
				v.Set(config.KeyPort, port)
			}
			if dataDir != "" {
				v.Set(config.KeyDataDir, dataDir)
			}
			if allowListPath != "" {
				v.Set(config.KeyAllowListPath, allowListPath)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			srv, err := server.New(ctx, server.Options{
				Host:           v.GetString(config.KeyHost),
				Port:           v.GetInt(config.KeyPort),
				AdminAddr:      adminAddr,
				WorkerCount:    v.GetInt(config.KeyWorkerCount),
				DataDir:        v.GetString(config.KeyDataDir),
				ProcessorTun:   config.ProcessorTunables(v),
				WorkerTun:      config.WorkerTunables(v),
				AllowListPath:  v.GetString(config.KeyAllowListPath),
				HandshakeTitle: "sqlited-" + version,
			}, log)
			if err != nil {
				return err
			}

			log.Info().
				Str("host", v.GetString(config.KeyHost)).
				Int("port", v.GetInt(config.KeyPort)).
				Int("workers", v.GetInt(config.KeyWorkerCount)).
				Msg("starting sqlited")

			return runUntilDone(ctx, srv)
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "D", "", "data directory (default "+"./data"+")")
	cmd.Flags().IntVar(&workerCount, "worker-count", 0, "number of Worker goroutines (0 = use config default)")
	cmd.Flags().IntVar(&maxConns, "max-conns", 0, "maximum connections per worker (0 = use config default)")
	cmd.Flags().StringVar(&host, "host", "", "listen host (empty = use config default)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (0 = use config default)")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:8090", "admin HTTP surface address, empty disables it")
	cmd.Flags().StringVar(&allowListPath, "allow-list", "", "host allow-list file path, empty allows all hosts")
	cmd.Flags().StringVar(&configPath, "config", "", "sqlited.yaml config file path")
	cmd.Flags().BoolVar(&trace, "trace", false, "enable debug-level logging")
	cmd.Flags().BoolVar(&traceError, "trace-error", false, "include stack traces on error-level log records")

	return cmd
}

// runUntilDone blocks until the server stops, either because ctx was
// cancelled (SIGINT/SIGTERM) or Serve itself failed to start.
func runUntilDone(ctx context.Context, srv *server.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
		srv.Stop()
		return <-errCh
	case err := <-errCh:
		return err
	}
}
