package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"

	"github.com/sinkdns/sinkdns/admin"
	"github.com/sinkdns/sinkdns/config"
)

const version = "1.0.0"

var flagcfgpath string

var rootCmd = &cobra.Command{
	Use:     "sinkdns",
	Short:   "sinkdns is a filtering DNS forwarder",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run()
	},
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	rootCmd.Flags().StringVarP(&flagcfgpath, "config", "c", "sinkdns.toml",
		"location of the config file, if config file not found, a config will generate")
}

func setup(cfg *config.Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())

	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "warn":
		logger.SetLevel(zlog.LevelWarn)
	case "error":
		logger.SetLevel(zlog.LevelError)
	default:
		logger.SetLevel(zlog.LevelInfo)
	}

	zlog.SetDefault(logger)
}

func run() error {
	cfg, err := config.Load(flagcfgpath, version)
	if err != nil {
		return err
	}

	setup(cfg)

	zlog.Info("Starting sinkdns...", "version", version)

	a, err := admin.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())

			zlog.Info("Metrics listening...", "addr", cfg.Metrics)

			if err := http.ListenAndServe(cfg.Metrics, mux); err != nil {
				zlog.Error("Metrics server failed", "error", err.Error())
			}
		}()
	}

	go func() {
		if err := a.Run(ctx); err != nil {
			zlog.Error("Background tasks failed", "error", err.Error())
		}
	}()

	<-ctx.Done()

	zlog.Info("Stopping sinkdns...")

	return a.Stop()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zlog.Error("sinkdns failed", "error", err.Error())
		os.Exit(1)
	}
}
