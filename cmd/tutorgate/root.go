package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/ineyio/tutorgate"
	"github.com/ineyio/tutorgate/internal/app"
)

const (
	configFlag      = "config"
	logLevelFlag    = "log-level"
	logFormatFlag   = "log-format"
	metricsAddrFlag = "metrics-addr"
)

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:            "tutorgate",
		Usage:           "Course-grounded tutoring with quotas and provider fallback",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Value:   "tutorgate.yaml",
				Usage:   "Path to the YAML config",
				Sources: cli.EnvVars("TUTORGATE_CONFIG"),
			},
			&cli.StringFlag{
				Name:  logLevelFlag,
				Value: "info",
				Usage: "Log level: debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  logFormatFlag,
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  metricsAddrFlag,
				Usage: "Serve Prometheus metrics on this address while the command runs",
			},
		},
		Commands: []*cli.Command{
			askCommand(),
			quotaCommand(),
		},
	}
}

// setup loads the config and wires the app. The returned func stops the
// metrics server and closes backend connections.
func setup(ctx context.Context, cmd *cli.Command) (*app.App, func(), error) {
	logger, err := newLogger(errWriter(cmd), cmd.String(logLevelFlag), cmd.String(logFormatFlag))
	if err != nil {
		return nil, nil, err
	}

	cfg, err := tutorgate.LoadConfig(cmd.String(configFlag))
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	a, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithRegistry(reg))
	if err != nil {
		return nil, nil, err
	}

	stop := serveMetrics(cmd.String(metricsAddrFlag), reg, logger)
	return a, func() {
		stop()
		if err := a.Close(); err != nil {
			logger.Warn("close", "error", err)
		}
	}, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --%s %q", logLevelFlag, level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --%s %q", logFormatFlag, format)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

func reader(cmd *cli.Command) io.Reader {
	if r := cmd.Root().Reader; r != nil {
		return r
	}
	return os.Stdin
}
