package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/justapithecus/ftecho/cli/config"
	"github.com/justapithecus/ftecho/log"
	"github.com/justapithecus/ftecho/metrics"
	"github.com/justapithecus/ftecho/server"
	"github.com/justapithecus/ftecho/storage"
)

// ServeCommand returns the serve command: the long-running transfer server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the transfer server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				EnvVars: []string{"FTECHO_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Listen address (host:port)",
			},
			&cli.StringFlag{
				Name:    "storage",
				Aliases: []string{"s"},
				Usage:   "Storage root directory",
			},
			&cli.IntFlag{
				Name:  "max-conns",
				Usage: "Maximum concurrent connections",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadServeConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger := log.NewLogger(cfg.LogLevel)

	st, err := storage.Open(cfg.StorageRoot)
	if err != nil {
		return cli.Exit("storage: "+err.Error(), 1)
	}

	collector := metrics.NewCollector()
	srv := server.New(st, server.Options{
		ChunkSize:   cfg.ChunkSize,
		IdleTimeout: cfg.IdleTimeout.Duration,
		Logger:      logger,
		Metrics:     collector,
	})

	ln, err := server.Listen(cfg.Listen, cfg.MaxConns)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := srv.Serve(ctx, ln); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	snap := collector.Snapshot()
	logger.Info("shutdown complete",
		zap.Int64("connections", snap.ConnectionsAccepted),
		zap.Int64("bytes_received", snap.BytesReceived),
		zap.Int64("bytes_sent", snap.BytesSent),
		zap.Int64("protocol_errors", snap.ProtocolErrors))
	return nil
}

// loadServeConfig layers flags over the config file over the defaults.
func loadServeConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}

	if v := c.String("listen"); v != "" {
		cfg.Listen = v
	}
	if v := c.String("storage"); v != "" {
		cfg.StorageRoot = v
	}
	if v := c.Int("max-conns"); v != 0 {
		cfg.MaxConns = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
