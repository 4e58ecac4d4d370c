package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"plex/pkg/asset"
	"plex/pkg/cache"
	"plex/pkg/config"
	"plex/pkg/display"
	"plex/pkg/downloader"
	"plex/pkg/metrics"
	"plex/pkg/multiplex"
	"plex/pkg/source"
)

const usage = `Usage: plex [flags] <command> [args]

Commands:
  load <id=locator>...                  load one image, identifiers best first
  manifest <file.json> <query> [id...]  locate identifiers with a jq query ($id)
  page <url|file>                       load every <img> of an HTML page
  script <file.star> [id...]            locate identifiers with a Starlark script
  version                               print build information

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code, err := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

// options holds the parsed global flags.
type options struct {
	fill        bool
	noCache     bool
	cacheDir    string
	tui         bool
	metricsFile string
	verbose     bool
	timeout     time.Duration
	manifestIDs string
}

// Run executes one plex command and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	var opts options
	fs := pflag.NewFlagSet("plex", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.BoolVar(&opts.fill, "fill", true, "show lower-quality versions while the best one loads")
	fs.BoolVar(&opts.noCache, "no-cache", false, "do not read or write the asset cache")
	fs.StringVar(&opts.cacheDir, "cache-dir", "", "cache directory (default $XDG_CACHE_HOME/plex)")
	fs.BoolVar(&opts.tui, "tui", false, "show progress bars")
	fs.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	fs.DurationVar(&opts.timeout, "timeout", 0, "per-fetch timeout (default from config)")
	fs.StringVar(&opts.manifestIDs, "ids", "", "jq query listing the identifiers, for manifest without ids")
	fs.SetInterspersed(false)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, nil
		}
		return 2, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2, nil
	}
	if rest[0] == "version" {
		fmt.Fprintln(stdout, config.GetBuildInfo())
		return 0, nil
	}

	sysCfg, err := config.Init()
	if err != nil {
		return 1, fmt.Errorf("error initializing config: %w", err)
	}
	settings := sysCfg.GetSettings()
	if fs.Changed("fill") {
		settings.IntermediateFill = opts.fill
	}
	if fs.Changed("timeout") {
		settings.Fetch.Timeout = opts.timeout
	}
	if opts.noCache {
		settings.Cache.Enabled = false
	}
	w := sysCfg.Checkout()
	if opts.cacheDir != "" {
		w.SetCacheDir(opts.cacheDir)
	}
	w.SetSettings(settings)
	sysCfg.Freeze()

	var disp display.Display
	if opts.tui {
		disp = display.NewTUI(stderr)
	} else {
		disp = display.NewWriterDisplay(stderr)
	}
	defer disp.Close()
	disp.SetVerbose(opts.verbose)

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return 1, err
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	a := newApp(sysCfg, disp, logger, metrics.New(registry))

	runErr := a.dispatch(ctx, rest[0], rest[1:], opts)

	if opts.metricsFile != "" {
		if err := metrics.WriteTextfile(opts.metricsFile, registry); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		return 1, runErr
	}
	return 0, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level.SetLevel(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// app is the wiring shared by every image loaded in one run.
type app struct {
	disp     display.Display
	logger   *zap.Logger
	metrics  *metrics.Metrics
	dl       downloader.Downloader
	gateway  *downloader.Gateway
	cache    cache.Layer
	settings config.Settings
}

func newApp(cfg config.ReadOnly, disp display.Display, logger *zap.Logger, m *metrics.Metrics) *app {
	settings := cfg.GetSettings()
	dl := downloader.NewDefaultDownloader(downloader.WithUserAgent(settings.Fetch.UserAgent))
	a := &app{
		disp:     disp,
		logger:   logger,
		metrics:  m,
		dl:       dl,
		settings: settings,
		gateway: downloader.NewGateway(dl,
			downloader.WithTimeout(settings.Fetch.Timeout),
			downloader.WithLogger(logger.Named("gateway"))),
	}
	if settings.Cache.Enabled {
		a.cache = cache.NewLayered(logger.Named("cache"),
			cache.NewMemory(settings.Cache.MemoryEntries),
			cache.NewDisk(cfg.GetAssetCacheDir(), settings.CompressionTag(), logger.Named("disk")))
	}
	return a
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string, opts options) error {
	switch cmd {
	case "load":
		if len(args) == 0 {
			return fmt.Errorf("load needs at least one id=locator pair")
		}
		src, ids, err := source.ParsePairs(args)
		if err != nil {
			return err
		}
		return a.loadImage(ctx, "load", "load:"+strings.Join(args, " "), src, ids)

	case "manifest":
		if len(args) < 2 {
			return fmt.Errorf("manifest needs a file and a query")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read manifest: %w", err)
		}
		src, err := source.NewJQ(data, args[1], a.logger.Named("jq"))
		if err != nil {
			return err
		}
		ids := args[2:]
		if len(ids) == 0 {
			if opts.manifestIDs == "" {
				return fmt.Errorf("manifest needs identifiers or --ids")
			}
			if ids, err = source.Identifiers(data, opts.manifestIDs); err != nil {
				return err
			}
		}
		return a.loadImage(ctx, filepath.Base(args[0]), "manifest:"+absPath(args[0])+":"+args[1], src, ids)

	case "page":
		if len(args) != 1 {
			return fmt.Errorf("page needs exactly one url or file")
		}
		return a.loadPage(ctx, args[0])

	case "script":
		if len(args) == 0 {
			return fmt.Errorf("script needs a file")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		src, err := source.NewScript(args[0], string(data), a.logger.Named("script"))
		if err != nil {
			return err
		}
		ids := args[1:]
		if len(ids) == 0 {
			if ids, err = src.Ranking(); err != nil {
				return err
			}
		}
		return a.loadImage(ctx, filepath.Base(args[0]), "script:"+absPath(args[0]), src, ids)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// loadImage runs one coordinator until it settles and reports whether any
// version could be displayed.
func (a *app) loadImage(ctx context.Context, label, scope string, src any, ids []string) error {
	del := display.NewDelegate(a.disp, label)
	observed := metrics.Wrap[string, *asset.Asset](a.metrics, label, del)
	cfg := multiplex.Config[string, *asset.Asset]{
		DataSource:       src,
		Fetcher:          a.gateway,
		Delegate:         observed,
		IntermediateFill: a.settings.IntermediateFill,
		Logger:           a.logger.Named("coordinator").With(zap.String("image", label)),
	}
	if a.cache != nil {
		cfg.Cache = cache.NewScoped(a.cache, scope)
	}
	c := multiplex.New(cfg)
	// Closed before Finish, so no notification races the cleanup.
	defer observed.Finish()
	defer c.Close()

	if err := c.SetRanking(ids); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	if err := c.Wait(ctx); err != nil {
		return err
	}
	if v, _ := del.Displayed(); v == nil {
		return fmt.Errorf("%s: no version could be loaded", label)
	}
	return nil
}

// loadPage loads the images of an HTML page, fetch.concurrency at a time.
func (a *app) loadPage(ctx context.Context, target string) error {
	var base *url.URL
	if u, err := url.Parse(target); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		base = u
	}

	var buf bytes.Buffer
	task := a.disp.StartTask("page")
	task.SetStage("Fetch", target)
	err := a.dl.Download(ctx, target, &buf, task)
	task.Done()
	if err != nil {
		return fmt.Errorf("failed to fetch page: %w", err)
	}

	images, err := source.PageImages(&buf, "", base)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		a.disp.Print(fmt.Sprintf("no images in %s\n", target))
		return nil
	}

	var g errgroup.Group
	g.SetLimit(a.settings.Fetch.Concurrency)
	for i, img := range images {
		label := fmt.Sprintf("#%d %s", i, img)
		scope := fmt.Sprintf("page:%s#%d", target, i)
		g.Go(func() error {
			return a.loadImage(ctx, label, scope, img, img.Ranking())
		})
	}
	return g.Wait()
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
