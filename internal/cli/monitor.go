package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigildev/vigil/internal/bridge"
	"github.com/vigildev/vigil/internal/config"
	"github.com/vigildev/vigil/internal/engine"
	"github.com/vigildev/vigil/internal/events"
	"github.com/vigildev/vigil/internal/history"
	"github.com/vigildev/vigil/internal/monitor"
	"github.com/vigildev/vigil/internal/notify"
	"github.com/vigildev/vigil/internal/probe"
	"github.com/vigildev/vigil/internal/proc"
	"github.com/vigildev/vigil/internal/store"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the supervision loop in the foreground",
		Long: `Starts the monitor: enumerates running IDE instances, supervises
their embedded assistants, and serves the loopback control API that the
other vigil commands talk to. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor()
		},
	}
}

func runMonitor() error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	provider, err := config.NewProvider(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	defer provider.Close()
	cfg := provider.Current()

	log := loggerFor("monitor")

	// Accessibility probe layer.
	querier := probe.NewExecQuerier()
	querier.HelperPath = cfg.Probe.QueryHelper
	querier.Timeout = time.Duration(cfg.Probe.TimeoutMS) * time.Millisecond
	if cfg.Probe.SignatureFile != "" {
		if err := querier.Signatures.LoadSignatureFile(cfg.Probe.SignatureFile); err != nil {
			log.Warn("signature file not loaded", "path", cfg.Probe.SignatureFile, "err", err)
		}
	}
	clicker := probe.NewExecClicker()
	clicker.HelperPath = cfg.Probe.ClickHelper
	clicker.Timeout = time.Duration(cfg.Probe.TimeoutMS) * time.Millisecond

	// Command bridge.
	injector := bridge.NewExecInjector()
	injector.HelperPath = cfg.Bridge.InjectHelper
	bridgeMgr := bridge.NewManager(injector,
		bridge.WithPortRange(cfg.Bridge.PortRangeStart, cfg.Bridge.PortRangeEnd),
		bridge.WithCommandTimeout(time.Duration(cfg.Bridge.CommandTimeoutMS)*time.Millisecond),
		bridge.WithLogger(log.With("component", "bridge")),
	)

	// Intervention journal.
	var journal *history.Journal
	if cfg.History.Enabled {
		dbPath := cfg.History.Path
		if dbPath == "" {
			stateDir, err := config.StateDir()
			if err != nil {
				return fmt.Errorf("resolving state dir: %w", err)
			}
			dbPath = filepath.Join(stateDir, "history.db")
		}
		journal, err = history.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening history journal: %w", err)
		}
		defer journal.Close()
		if cfg.History.RetentionDays > 0 {
			retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
			if n, err := journal.Prune(retention); err != nil {
				log.Warn("history prune failed", "err", err)
			} else if n > 0 {
				log.Info("pruned history entries", "count", n)
			}
		}
	}

	// Event bus and emitter.
	bus := events.NewBus()
	emitter := events.NewEmitter(bus, 256)
	emitter.Start()

	notifier := notify.New(cfg.Notifications)
	st := store.New()
	eng := engine.New(querier, clicker, bridgeMgr,
		engine.WithLogger(log.With("component", "engine")))
	tick := monitor.NewTick(st, eng, notifier, journal, emitter,
		log.With("component", "tick"))
	loop := monitor.NewLoop(provider, proc.NewLister(), st, tick, bridgeMgr, emitter,
		log.With("component", "loop"))

	server := monitor.NewServer(loop, bus, journal, log.With("component", "api"))
	if err := server.Start(cfg.Control.Port); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	err = loop.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn("control api shutdown failed", "err", serr)
	}

	if err == context.Canceled {
		return nil
	}
	return err
}
