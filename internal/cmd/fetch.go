package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zfogg/sidechain/lazyload/internal/config"
	"github.com/zfogg/sidechain/lazyload/internal/feed"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"github.com/zfogg/sidechain/lazyload/internal/output"
	"github.com/zfogg/sidechain/lazyload/internal/server"
	"github.com/zfogg/sidechain/lazyload/internal/service"
	"go.uber.org/zap"
)

var (
	fetchManifest   string
	fetchStep       float64
	fetchInterval   time.Duration
	fetchPriority   int
	fetchNoObserver bool
	fetchProxy      string
	fetchServe      string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url...]",
	Short: "Load a feed of images the way a scrolling page would",
	Long: `Lays the images out in a single column (or at the positions given in a
JSON manifest), scrolls a viewport from top to bottom and reports how each
load ended.

Manifests are JSON ({"viewport": {...}, "images": [...]}) or plain text with
one "url [priority]" per line. Use --manifest - to read stdin.`,
	Example: `  lazyload fetch https://cdn.example.com/a.png https://cdn.example.com/b.png
  lazyload fetch --manifest feed.json --interval 200ms --proxy https://img.example.com/proxy`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && fetchManifest == "" {
			return fmt.Errorf("give at least one url or --manifest")
		}

		m, err := loadManifest(args)
		if err != nil {
			return err
		}
		if len(m.Images) == 0 {
			output.PrintWarning("feed has no images")
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.Load()
		if fetchProxy != "" {
			cfg.Fetch.ProxyURL = fetchProxy
		}

		rt, err := service.Build(ctx, cfg, service.ModeCLI)
		if err != nil {
			return err
		}
		defer rt.Close(context.Background())

		session := newFetchSession(rt, m, cfg)
		rt.Metrics.Track(session.Loader())

		if fetchServe != "" {
			srv := server.New(server.Config{
				Loader:          session.Loader(),
				Viewport:        session.Viewport(),
				Metrics:         rt.Metrics,
				Gatherer:        rt.Gatherer,
				TracerProvider:  rt.TracerProvider(),
				DefaultPriority: lazyload.Priority(cfg.Loader.DefaultPriority),
			})
			serveCtx, cancelServe := context.WithCancel(ctx)
			defer cancelServe()
			go func() {
				if err := srv.Run(serveCtx, fetchServe); err != nil {
					logger.Log.Error("Status server failed", zap.Error(err))
				}
			}()
		}

		report, err := session.Run(ctx)
		if report != nil {
			if printErr := printReport(report); printErr != nil {
				return printErr
			}
		}
		if err != nil {
			return fmt.Errorf("fetch interrupted: %w", err)
		}
		if n := report.Count("errored"); n > 0 {
			return fmt.Errorf("%d of %d images failed to load", n, len(report.Results))
		}
		return nil
	},
}

func loadManifest(args []string) (*feed.Manifest, error) {
	if fetchManifest == "" {
		return feed.FromURLs(args, fetchPriority), nil
	}

	m, err := feed.LoadFile(fetchManifest)
	if err != nil {
		return nil, err
	}
	// URLs on the command line are appended below the manifest.
	m.Images = append(m.Images, feed.FromURLs(args, fetchPriority).Images...)
	return m, nil
}

func newFetchSession(rt *service.Runtime, m *feed.Manifest, cfg *config.Config) *service.Session {
	opts := service.SessionOptions{
		ViewportWidth:   m.Viewport.Width,
		ViewportHeight:  m.Viewport.Height,
		RootMargin:      cfg.Viewport.RootMargin,
		Step:            fetchStep,
		Interval:        fetchInterval,
		NoObserver:      fetchNoObserver,
		ProxyURL:        cfg.Fetch.ProxyURL,
		DefaultPriority: lazyload.Priority(cfg.Loader.DefaultPriority),
	}
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = cfg.Viewport.Width
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = cfg.Viewport.Height
	}
	if verbose {
		opts.OnScroll = func(visible lazyload.Rect, stats lazyload.Stats) {
			output.PrintInfo("viewport y=%.0f  queued=%d active=%d loaded=%d",
				visible.Y, stats.Queued, stats.Active, stats.Loaded)
		}
	}

	// The session adds its own detector, so none is passed here.
	return service.NewSession(rt.Fetcher, m, opts, rt.LoaderOptions(nil)...)
}

func printReport(report *service.Report) error {
	if output.GetFormat() == output.FormatJSON {
		return output.Print("", report)
	}

	urlWidth := output.TerminalWidth(120) - 60
	if urlWidth < 24 {
		urlWidth = 24
	}

	headers := []string{"ID", "STATE", "URL", "TYPE", "SIZE", "BYTES", "ERROR"}
	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		size := ""
		if res.Width > 0 {
			size = fmt.Sprintf("%dx%d", res.Width, res.Height)
		}
		state := res.State
		if res.Proxied {
			state += " (proxy)"
		}
		rows = append(rows, []string{
			res.ID,
			output.StatusColor(state),
			output.Truncate(res.URL, urlWidth),
			res.ContentType,
			size,
			strconv.Itoa(res.Bytes),
			res.ErrorKind,
		})
	}
	if err := output.PrintTable(headers, rows); err != nil {
		return err
	}

	fmt.Fprintln(output.Out)
	if err := output.PrintRecord("Summary", []string{"images", "loaded", "errored", "cache_hits", "promoted", "duration"}, map[string]any{
		"images":     len(report.Results),
		"loaded":     report.Count("loaded"),
		"errored":    report.Count("errored"),
		"cache_hits": report.Stats.CacheHits,
		"promoted":   report.Stats.Promoted,
		"duration":   report.Duration.Round(time.Millisecond),
	}); err != nil {
		return err
	}

	for _, res := range report.Results {
		if res.Suggestion != "" {
			output.PrintWarning("%s: %s", res.ID, res.Suggestion)
		}
	}
	return nil
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchManifest, "manifest", "m", "", "Feed manifest file (JSON or text, - for stdin)")
	fetchCmd.Flags().Float64Var(&fetchStep, "step", 0, "Pixels to scroll per tick (default: one viewport height)")
	fetchCmd.Flags().DurationVar(&fetchInterval, "interval", 100*time.Millisecond, "Pause between scroll ticks")
	fetchCmd.Flags().IntVarP(&fetchPriority, "priority", "p", 0, "Priority for URLs given as arguments (1 highest, 5 lowest)")
	fetchCmd.Flags().BoolVar(&fetchNoObserver, "no-observer", false, "Disable viewport detection and load in feed order")
	fetchCmd.Flags().StringVar(&fetchProxy, "proxy", "", "Image proxy to retry failed loads through (overrides fetch.proxy_url)")
	fetchCmd.Flags().StringVar(&fetchServe, "serve", "", "Expose the status API and /metrics on this address while fetching")
}
