package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"volition/internal/config"
	"volition/internal/logging"
	"volition/internal/motivation"
	"volition/internal/personality"
	"volition/internal/spontaneous"
	"volition/internal/store"
	"volition/internal/wants"
)

var (
	// Global flags
	stateDir string
	verbose  bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "volition",
	Short: "volition - Bounded autonomous motivation engine",
	Long: `volition maintains a registry of weighted "wants" that grow under
satisfaction, shrink under frustration and decay, and die when starved.
High-intensity wants can surface as spontaneous messages, content-filtered
and rate-limited before anything reaches a user.

All intensity is hard-capped below 1.0 and every want is mortal; the
sovereign override can kill and permanently suppress any want.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(stateDir)
		if err != nil {
			return err
		}

		debug := cfg.Logging.DebugMode || verbose
		if err := logging.Initialize(cfg.StateDir, debug, cfg.Logging.Level); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		zcfg := zap.NewProductionConfig()
		if debug {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// runCmd runs the engine loop until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the motivation engine loop",
	Long: `Starts the decay ticker and the spontaneous delivery ticker, restores
state from the snapshot database, and saves it back on shutdown.
Spontaneous messages are printed to stdout.`,
	RunE: runEngine,
}

// statusCmd prints engine metrics
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show want registry and queue metrics",
	RunE:  showStatus,
}

// decayCmd applies one decay tick
var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply one decay tick to all active wants",
	RunE:  runDecay,
}

// suppressCmd is the sovereign override
var suppressCmd = &cobra.Command{
	Use:   "suppress [want-id]",
	Short: "Kill a want and permanently block its recreation",
	Args:  cobra.ExactArgs(1),
	RunE:  suppressWant,
}

// exportCmd dumps the full engine state as JSON
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the persisted engine state as JSON",
	RunE:  exportState,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "State directory (default .volition)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(suppressCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// engine bundles the live components plus their snapshot store.
type engine struct {
	wants   *wants.Engine
	tracker *personality.Tracker
	queue   *spontaneous.Queue
	layer   *motivation.Layer
	store   *store.Store
}

// openEngine assembles the components and restores persisted state.
func openEngine() (*engine, error) {
	st, err := store.NewStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	e := &engine{
		wants: wants.NewEngine(wants.Options{
			DefaultCeiling:   cfg.Wants.DefaultCeiling,
			DefaultDecayRate: cfg.Wants.DefaultDecayRate,
		}),
		tracker: personality.NewTracker(nil),
		queue: spontaneous.NewQueue(spontaneous.Options{
			DailyCap: cfg.Queue.MaxPerUserPerDay,
			Cooldown: time.Duration(cfg.Queue.CooldownMinutes) * time.Minute,
		}),
		store: st,
	}
	e.layer = motivation.NewLayer(e.wants, rand.New(rand.NewSource(time.Now().UnixNano())))

	saved, found, err := st.LoadEngineState()
	if err != nil {
		st.Close()
		return nil, err
	}
	if found {
		e.wants.ImportState(saved.Wants)
		e.queue.ImportState(saved.Queue)
		if len(saved.Personality) > 0 {
			if err := e.tracker.Restore(saved.Personality); err != nil {
				logger.Warn("Discarding corrupt personality snapshot", zap.Error(err))
			}
		}
	}
	return e, nil
}

// save writes all component state back to the snapshot store.
func (e *engine) save() error {
	persona, err := e.tracker.Serialize()
	if err != nil {
		return err
	}
	return e.store.SaveEngineState(store.EngineState{
		Wants:       e.wants.ExportState(),
		Personality: persona,
		Queue:       e.queue.ExportState(),
	})
}

func (e *engine) close() {
	if err := e.store.Close(); err != nil {
		logger.Warn("Failed to close store", zap.Error(err))
	}
}

func runEngine(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.close()

	logger.Info("Engine started",
		zap.String("state_dir", cfg.StateDir),
		zap.Duration("decay_interval", cfg.DecayInterval()),
		zap.Duration("tick_interval", cfg.TickInterval()))

	// Spontaneous delivery: print to stdout. With no session tracking
	// every target counts as online.
	e.queue.StartTicker(cfg.TickInterval(), spontaneous.ProcessOptions{
		Deliver: func(ctx context.Context, m *spontaneous.Message) error {
			fmt.Printf("[volition] %s\n", m.DeliveryText())
			return nil
		},
	})
	defer e.queue.StopTicker()

	// Decay loop plus a spontaneous-trigger check after each tick.
	decay := time.NewTicker(cfg.DecayInterval())
	defer decay.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-decay.C:
			killed := e.wants.DecayAllWants()
			if killed > 0 {
				logger.Info("Decay tick", zap.Int("killed", killed))
			}
			if w, ok := e.layer.CheckSpontaneousTrigger(); ok {
				_, err := e.queue.Enqueue(spontaneous.EnqueueParams{
					Content: fmt.Sprintf("I keep coming back to %s. %s", w.Domain, w.Description),
					Reason:  "intensity_trigger",
					Urgency: spontaneous.UrgencyMedium,
					WantID:  w.ID,
				})
				if err != nil {
					logger.Debug("Trigger enqueue rejected", zap.Error(err))
				}
			}
		case s := <-sig:
			logger.Info("Shutting down", zap.String("signal", s.String()))
			return e.save()
		}
	}
}

func showStatus(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.close()

	out := map[string]any{
		"wants":       e.wants.Metrics(),
		"queue":       e.queue.Status(),
		"personality": e.tracker.Profile(),
		"priorities":  e.wants.Priorities(),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDecay(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.close()

	killed := e.wants.DecayAllWants()
	fmt.Printf("Decay applied: %d wants died, %d remain active\n", killed, e.wants.Metrics().ActiveWants)
	return e.save()
}

func suppressWant(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.wants.SuppressWant(args[0]); err != nil {
		return err
	}
	fmt.Printf("Want %s suppressed permanently\n", args[0])
	return e.save()
}

func exportState(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.close()

	persona, err := e.tracker.Serialize()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(store.EngineState{
		Wants:       e.wants.ExportState(),
		Personality: persona,
		Queue:       e.queue.ExportState(),
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
