package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aluiziolira/go-pagespeed/config"
	"github.com/aluiziolira/go-pagespeed/export"
	"github.com/aluiziolira/go-pagespeed/models"
	"github.com/aluiziolira/go-pagespeed/scorer"
	"github.com/aluiziolira/go-pagespeed/sources"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:          "pagespeed",
		Short:        "Batch PageSpeed Insights scores for a list of URLs",
		Long:         "Scores URLs from flags, a file, or a sitemap against the PageSpeed Insights API and exports the metrics as a table, CSV, XLSX, or JSON lines.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
	}

	flags := cmd.Flags()
	flags.String("key", "", "PageSpeed Insights API key (or PAGESPEED_API_KEY)")
	flags.String("strategy", defaults.Strategy, "Device profile: mobile or desktop")
	flags.StringArray("url", nil, "URL to score (repeatable)")
	flags.String("urls-file", "", "File with one URL per line, - for stdin")
	flags.String("sitemap", "", "Sitemap XML URL to read loc entries from")
	flags.Bool("dedupe", defaults.Dedupe, "Drop repeated URLs before scoring")
	flags.String("output", defaults.OutputFile, "Output path without extension")
	flags.StringSlice("format", defaults.OutputFormats, "Output formats: csv, xlsx, json (empty to skip files)")
	flags.Int("parallel", defaults.MaxInFlight, "Maximum concurrent API requests")
	flags.Duration("timeout", defaults.Timeout, "Per-request timeout (0 keeps the transport default)")
	flags.String("endpoint", defaults.Endpoint, "runPagespeed endpoint")
	flags.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.String("log-format", defaults.LogFormat, "Log format: auto, console, or json")
	flags.BoolP("verbose", "v", false, "Enable debug logging")

	bindings := map[string]string{
		"api_key":      "key",
		"strategy":     "strategy",
		"url":          "url",
		"urls_file":    "urls-file",
		"sitemap":      "sitemap",
		"dedupe":       "dedupe",
		"output":       "output",
		"format":       "format",
		"parallel":     "parallel",
		"timeout":      "timeout",
		"endpoint":     "endpoint",
		"metrics_addr": "metrics-addr",
		"log_format":   "log-format",
		"verbose":      "verbose",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

func run(ctx context.Context, v *viper.Viper, stdout, stderr io.Writer) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		zap.L().Error("invalid configuration", zap.Error(err))
		return err
	}

	strategy, err := models.ParseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	urls, err := sources.NewResolver(cfg, nil).Resolve(ctx)
	if err != nil {
		var sitemapErr *sources.SitemapFetchError
		if errors.As(err, &sitemapErr) {
			zap.L().Error("could not load sitemap",
				zap.String("sitemap", sitemapErr.URL),
				zap.Int("status", sitemapErr.StatusCode),
				zap.Error(err),
			)
		}
		return err
	}
	if err := sources.Validate(cfg.APIKey, urls); err != nil {
		zap.L().Warn("nothing to score", zap.Error(err))
		return err
	}

	s, err := scorer.New(cfg)
	if err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.L().Error("metrics server failed", zap.Error(err))
			}
		}()
		zap.L().Info("metrics server enabled", zap.String("addr", cfg.MetricsAddr))
	}

	result, err := s.Run(ctx, cfg.APIKey, urls, strategy, func(completed, total int) {
		fmt.Fprintf(stderr, "\rProcessed: %d/%d", completed, total)
		if completed == total {
			fmt.Fprintln(stderr)
		}
	})
	if err != nil {
		return err
	}

	export.RenderTable(stdout, result.Reports)

	var paths []string
	if len(cfg.OutputFormats) > 0 {
		paths, err = writeOutputs(cfg, result)
		if err != nil {
			zap.L().Error("export failed", zap.Error(err))
			return err
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("metrics server shutdown failed", zap.Error(err))
		}
		cancel()
	}

	printSummary(stdout, result, paths)
	return nil
}

func writeOutputs(cfg *config.Config, result *models.BatchResult) ([]string, error) {
	writer, err := export.NewWriters(cfg.OutputFormats, cfg.OutputFile)
	if err != nil {
		return nil, eris.Wrap(err, "open outputs")
	}
	if err := writer.Write(result.Reports); err != nil {
		_ = writer.Close()
		return nil, eris.Wrap(err, "write outputs")
	}
	if err := writer.Close(); err != nil {
		return nil, eris.Wrap(err, "close outputs")
	}
	if err := writer.Validate(); err != nil {
		return nil, eris.Wrap(err, "validate outputs")
	}
	return writer.Paths(), nil
}

func printSummary(w io.Writer, result *models.BatchResult, paths []string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Batch complete")

	duration := result.EndTime.Sub(result.StartTime)
	successRate := 0.0
	if result.Len() > 0 {
		successRate = float64(result.Succeeded) / float64(result.Len()) * 100
	}

	fmt.Fprintf(w, "  Run ID:        %s\n", result.RunID)
	fmt.Fprintf(w, "  Strategy:      %s\n", result.Strategy)
	fmt.Fprintf(w, "  URLs:          %d\n", result.Len())
	fmt.Fprintf(w, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(w, "  Failed:        %d\n", result.Failed)
	fmt.Fprintf(w, "  Duration:      %v\n", duration.Round(time.Millisecond))
	for _, p := range paths {
		fmt.Fprintf(w, "  Output file:   %s\n", p)
	}
	fmt.Fprintln(w, separator)
}

func initLogger(cfg *config.Config) error {
	format := cfg.LogFormat
	if format == "auto" {
		format = "json"
		if isTerminal(os.Stderr) {
			format = "console"
		}
	}

	var zapCfg zap.Config
	if format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.DisableStacktrace = true
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
