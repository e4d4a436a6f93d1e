package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/splax/routedev/internal/client"
	"github.com/splax/routedev/internal/state"
	"github.com/splax/routedev/pkg/config"
)

var (
	tailURL      string
	tailDetached bool
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow route statistics from a running devtools bridge",
	Long: `Connect to the devtools bridge and print per-route execution statistics
whenever they change.

With redis configured the connected window publishes its state so that
"routedev tail --detached" instances mirror it without their own bridge
connection.`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "", "bridge websocket url (default ws://localhost:<wsPort>/__devtools/ws)")
	tailCmd.Flags().BoolVar(&tailDetached, "detached", false, "mirror the state published by another window through redis")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := state.NewStore(state.Initial())
	out := &statsPrinter{w: cmd.OutOrStdout()}
	unsubscribe := store.Subscribe(func(prev, next state.State) {
		if !sameRoutes(prev, next) {
			out.print(next)
		}
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	var syncer *state.Syncer
	if cfg.Redis.Addr != "" {
		channel, err := state.NewRedisChannel(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			return fmt.Errorf("connect sync channel: %w", err)
		}
		defer channel.Close()
		syncer = state.NewSyncer(store, channel, "tail-"+uuid.NewString(), log)
	}

	if tailDetached {
		if syncer == nil {
			return errors.New("--detached requires redis.addr to be configured")
		}
		if err := syncer.Reconcile(gctx); err != nil && !errors.Is(err, state.ErrNoSnapshot) {
			return fmt.Errorf("initial reconcile: %w", err)
		}
		detach := syncer.Attach(context.Background())
		defer detach()
		store.Dispatch(state.SetDetachedWindow(true))
		defer store.Dispatch(state.SetDetachedWindow(false))
		g.Go(func() error { return syncer.Run(gctx) })
		return ignoreCanceled(g.Wait())
	}

	if syncer != nil {
		detach := syncer.Attach(gctx)
		defer detach()
		g.Go(func() error { return syncer.Run(gctx) })
	}

	c := client.New(bridgeURL(cfg), store, client.Options{Logger: log})
	if err := c.Connect(gctx); err != nil {
		return err
	}
	defer c.Close()
	if err := c.Pull(); err != nil {
		return err
	}
	g.Go(func() error { return c.Run(gctx) })
	return ignoreCanceled(g.Wait())
}

func bridgeURL(cfg config.DevtoolsConfig) string {
	if tailURL != "" {
		return tailURL
	}
	return fmt.Sprintf("ws://localhost:%d/__devtools/ws", cfg.WSPort)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sameRoutes(prev, next state.State) bool {
	if len(prev.Routes) != len(next.Routes) {
		return false
	}
	for id, rs := range next.Routes {
		old, ok := prev.Routes[id]
		if !ok || old.LoaderTriggerCount != rs.LoaderTriggerCount ||
			old.ActionTriggerCount != rs.ActionTriggerCount {
			return false
		}
	}
	return true
}

type statsPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *statsPrinter) print(s state.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(s.Routes))
	for id := range s.Routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUTE\tLOADERS\tACTIONS\tLOWEST\tAVERAGE\tHIGHEST")
	for _, id := range ids {
		rs := s.Routes[id]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2fms\t%.2fms\t%.2fms\n", id,
			rs.LoaderTriggerCount, rs.ActionTriggerCount,
			rs.LowestExecutionTime, rs.AverageExecutionTime, rs.HighestExecutionTime)
	}
	tw.Flush()
	fmt.Fprintln(p.w, strings.Repeat("-", 40))
}
