// Command filesrv serves a directory of static files over HTTP/1.1.
//
//	filesrv [flags] <port>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kfcemployee/filesrv/internal/config"
	"github.com/kfcemployee/filesrv/internal/logging"
	"github.com/kfcemployee/filesrv/internal/metrics"
	"github.com/kfcemployee/filesrv/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, "filesrv:", err)
		}
		return 1
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, "filesrv:", err)
		return 1
	}
	log := logging.New(stderr, level)

	if undo, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...any) {
		log.Debug().Logf(format, a...)
	})); err == nil {
		defer undo()
	}

	// a write to a closed socket must come back as EPIPE
	signal.Ignore(syscall.SIGPIPE)

	if err := serve(cfg, log); err != nil {
		log.Err().Err(err).Log("exiting")
		return 1
	}
	return 0
}

func serve(cfg config.Config, log *logging.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(cfg, server.Deps{
		Logger:        log,
		Metrics:       metrics.New(reg),
		HandleSignals: true,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return srv.Run(gctx)
	})

	if cfg.MetricsAddr != "" {
		hs := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Log("metrics listening")
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return hs.Shutdown(sctx)
		})
	}

	return g.Wait()
}

// parseArgs builds the config: defaults, then --config, then the other flags, then the port.
func parseArgs(args []string, stderr io.Writer) (config.Config, error) {
	fs := pflag.NewFlagSet("filesrv", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: filesrv [flags] <port>")
		fs.PrintDefaults()
	}

	var (
		path        = fs.StringP("config", "c", "", "TOML config file")
		root        = fs.StringP("root", "r", "", "document root")
		host        = fs.String("host", "", "IPv4 address to listen on")
		workers     = fs.IntP("workers", "w", 0, "worker goroutines")
		logLevel    = fs.String("log-level", "", "trace, debug, info, warning or error")
		metricsAddr = fs.String("metrics-addr", "", "serve prometheus metrics on this address")
	)
	if err := fs.Parse(args); err != nil {
		// pflag already printed the usage for --help
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(stderr, "filesrv:", err)
			fs.Usage()
		}
		return config.Config{}, errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return config.Config{}, errUsage
	}
	port, err := strconv.Atoi(fs.Arg(0))
	if err != nil || port < 0 || port > 65535 {
		fmt.Fprintf(stderr, "filesrv: bad port %q\n", fs.Arg(0))
		fs.Usage()
		return config.Config{}, errUsage
	}

	cfg := config.Default()
	if *path != "" {
		if cfg, err = config.Load(*path); err != nil {
			return config.Config{}, err
		}
	}
	if fs.Changed("root") {
		cfg.DocRoot = *root
	}
	if fs.Changed("host") {
		cfg.Host = *host
	}
	if fs.Changed("workers") {
		cfg.Workers = *workers
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddr
	}
	cfg.Port = port

	return cfg, cfg.Validate()
}
