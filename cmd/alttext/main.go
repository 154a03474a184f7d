// Command alttext annotates the images of a social feed with their alt text.
//
// Usage:
//
//	alttext -config alttext.yaml              # watch the configured pages
//	alttext -url https://x.com/home           # watch one page, events on stdout
//	alttext -file saved.html [-markdown]      # annotate a saved page and exit
//	alttext -mcp [-config alttext.yaml]       # MCP server on stdio
//	alttext -http :8080 [-config ...]         # HTTP API next to the watcher
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/alttext"
)

var version = "dev"

const usage = "usage: alttext -config <file> | -url <url> | -file <page.html> | -mcp | -http <addr>"

// errUsage means nothing to do was given on the command line.
var errUsage = errors.New("nothing to watch or serve")

type options struct {
	configPath string
	singleURL  string
	file       string
	pageURL    string
	markdown   bool
	mcp        bool
	httpAddr   string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to a YAML or TOML config file")
	flag.StringVar(&o.singleURL, "url", "", "watch a single URL")
	flag.StringVar(&o.file, "file", "", "annotate a saved HTML page and print it")
	flag.StringVar(&o.pageURL, "page-url", "", "with -file: URL the page was saved from")
	flag.BoolVar(&o.markdown, "markdown", false, "with -file: print Markdown instead of HTML")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools on stdio")
	flag.StringVar(&o.httpAddr, "http", "", "serve the HTTP API on this address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, logger, o)
	stop()

	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	case err != nil:
		logger.Error("alttext: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	if o.file != "" {
		return runFile(ctx, logger, o)
	}

	cfg := alttext.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = alttext.LoadConfigFile(o.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if o.singleURL != "" {
		cfg.Pages = append(cfg.Pages, alttext.PageConfig{URL: o.singleURL, StealthLevel: 1})
	}
	if o.httpAddr != "" {
		cfg.HTTP.Addr = o.httpAddr
	}
	if !o.mcp && len(cfg.Pages) == 0 && cfg.PagesDB == "" && cfg.HTTP.Addr == "" {
		return errUsage
	}

	sinkCfg := cfg.Sinks
	if o.mcp {
		// stdout carries the MCP protocol.
		sinkCfg = withoutStdout(sinkCfg, logger)
	}
	sinks, err := alttext.BuildSinks(sinkCfg, logger)
	if err != nil {
		return err
	}

	a := alttext.New(cfg, logger, sinks...)
	defer a.Stop()
	if len(cfg.Pages) > 0 || cfg.PagesDB != "" {
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}

	svc := alttext.NewService(alttext.ServiceConfig{
		Annotator:       a,
		ThumbnailTestID: cfg.Annotate.ThumbnailTestID,
		Logger:          logger,
	})

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: svc.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("alttext: http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("alttext: http", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	if o.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "alttext", Version: version}, nil)
		svc.RegisterMCP(srv)
		logger.Info("alttext: mcp on stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

func runFile(ctx context.Context, logger *slog.Logger, o options) error {
	page, err := os.ReadFile(o.file)
	if err != nil {
		return err
	}
	var thumb string
	if o.configPath != "" {
		cfg, err := alttext.LoadConfigFile(o.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		thumb = cfg.Annotate.ThumbnailTestID
	}

	res, err := alttext.AnnotateHTML(ctx, string(page), alttext.OfflineOptions{
		PageURL:         o.pageURL,
		ThumbnailTestID: thumb,
		Markdown:        o.markdown,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	logger.Info("alttext: annotated",
		"file", o.file,
		"annotated", res.Stats.Annotated,
		"skipped", res.Stats.NoContainer+res.Stats.Hidden,
		"failed", res.Stats.Failed,
	)
	if o.markdown {
		_, err = fmt.Fprintln(os.Stdout, res.Markdown)
	} else {
		_, err = fmt.Fprintln(os.Stdout, res.HTML)
	}
	return err
}

func withoutStdout(in []alttext.SinkConfig, logger *slog.Logger) []alttext.SinkConfig {
	out := in[:0:0]
	for _, sc := range in {
		if sc.Type == "stdout" || sc.Type == "" {
			logger.Warn("alttext: stdout sink disabled in MCP mode")
			continue
		}
		out = append(out, sc)
	}
	return out
}
