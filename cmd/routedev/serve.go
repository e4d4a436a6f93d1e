package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/splax/routedev/internal/app"
	"github.com/splax/routedev/internal/bridge"
	"github.com/splax/routedev/internal/devlog"
	"github.com/splax/routedev/internal/domain"
	"github.com/splax/routedev/internal/forward"
	httpx "github.com/splax/routedev/internal/http"
	"github.com/splax/routedev/internal/instrument"
	"github.com/splax/routedev/internal/service/devtools"
	"github.com/splax/routedev/internal/service/editor"
	"github.com/splax/routedev/internal/service/events"
	"github.com/splax/routedev/internal/service/scaffold"
	"github.com/splax/routedev/internal/service/stats"
	"github.com/splax/routedev/internal/service/terminal"
	"github.com/splax/routedev/internal/watch"
	"github.com/splax/routedev/pkg/config"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr    string
	serveWSPort  int
	serveAppDir  string
	serveSilent  bool
	serveNoWS    bool
	serveNoWatch bool
	serveForward string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the instrumented application and the devtools bridge",
	Long: `Start the instrumented application together with the devtools endpoints.

Examples:
  routedev serve                       # app on :3000, bridge on :8887
  routedev serve --addr :8080          # custom application address
  routedev serve --silent              # no per-event log lines
  routedev serve --no-websocket        # bridge only on the app address`,
	RunE: runServe,
}

func init() {
	defaults := config.DefaultDevtoolsConfig()
	serveCmd.Flags().StringVar(&serveAddr, "addr", defaults.Addr, "application listen address")
	serveCmd.Flags().IntVar(&serveWSPort, "ws-port", defaults.WSPort, "websocket bridge port")
	serveCmd.Flags().StringVar(&serveAppDir, "app-dir", defaults.AppDir, "application source directory")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "disable development log lines")
	serveCmd.Flags().BoolVar(&serveNoWS, "no-websocket", false, "do not start the separate websocket listener")
	serveCmd.Flags().StringVar(&serveForward, "forward-to", "", "devtools server that also receives every recorded event")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "do not watch the application directory")
	rootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cmd *cobra.Command, cfg *config.DevtoolsConfig) error {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = serveAddr
	}
	if flags.Changed("ws-port") {
		cfg.WSPort = serveWSPort
	}
	if flags.Changed("app-dir") {
		cfg.AppDir = serveAppDir
	}
	if flags.Changed("silent") {
		cfg.Silent = serveSilent
	}
	if flags.Changed("no-websocket") {
		cfg.WithWebsocket = !serveNoWS
	}
	if flags.Changed("forward-to") {
		cfg.Forward.URL = serveForward
	}
	if flags.Changed("no-watch") {
		cfg.Watch = !serveNoWatch
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, &cfg); err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	hub := bridge.NewHub()
	defer hub.Close()
	terminals := terminal.NewManager(cfg.Shell, root, log)
	defer terminals.Close()

	svc := devtools.New(devtools.Deps{
		Queue:      events.NewQueue(cfg.QueueSize),
		Aggregator: stats.NewAggregator(),
		DevLog:     devlog.New(cfg, log),
		Metrics:    instrument.NewMetrics(nil),
		Hub:        hub,
		Editor:     editor.New(root, cfg.AppDir, cfg.EditorCommand, log),
		Terminal:   terminals,
		Scaffolder: scaffold.New(filepath.Join(cfg.AppDir, "routes")),
		Logger:     log,
	})
	var sink instrument.Sink = svc
	var forwarder *forward.Forwarder
	if cfg.Forward.URL != "" {
		emitter, err := forward.NewEmitter(cfg.Forward.URL, cfg.Forward.Token, nil)
		if err != nil {
			return fmt.Errorf("configure forwarding: %w", err)
		}
		forwarder = forward.NewForwarder(emitter, cfg.Forward.Interval, log)
		sink = instrument.SinkFunc(func(ev domain.Event) {
			svc.Record(ev)
			forwarder.Record(ev)
		})
	}
	augmentor := instrument.NewAugmentor(sink, instrument.DefaultSnapshotPolicy, log)
	application := app.NewHandler(augmentor.AugmentTable(app.DemoTable()), log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}
	router := httpx.NewRouter(log, svc, hub, limiter, application)
	router.SetIngestToken(cfg.IngestToken)
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	defer router.Close()

	servers := []*http.Server{{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}}
	if cfg.WithWebsocket && cfg.WSAddr() != cfg.Addr {
		servers = append(servers, &http.Server{Addr: cfg.WSAddr(), Handler: router, ReadHeaderTimeout: 5 * time.Second})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.Info("http server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		svc.Run(gctx)
		return nil
	})
	if forwarder != nil {
		g.Go(func() error {
			forwarder.Run(gctx)
			return nil
		})
	}
	if cfg.Watch {
		startWatcher(gctx, g, cfg, svc, log)
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("graceful shutdown failed", "addr", srv.Addr, "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	log.Info("routedev stopped")
	return err
}

func startWatcher(ctx context.Context, g *errgroup.Group, cfg config.DevtoolsConfig, svc *devtools.Service, log *slog.Logger) {
	if info, err := os.Stat(cfg.AppDir); err != nil || !info.IsDir() {
		log.Info("app directory not found, file watching disabled", "app_dir", cfg.AppDir)
		return
	}
	watcher, err := watch.NewWatcher(cfg.AppDir, cfg.Debounce)
	if err != nil {
		log.Warn("file watcher unavailable", "error", err)
		return
	}
	watcher.OnChange = svc.NotifyFileChange
	watcher.OnError = func(err error) {
		log.Warn("file watcher error", "error", err)
	}
	g.Go(func() error {
		return watcher.Run(ctx)
	})
}
