package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/nta-batch/internal/batch"
	"github.com/hochfrequenz/nta-batch/internal/bridge"
	"github.com/hochfrequenz/nta-batch/internal/cancel"
	"github.com/hochfrequenz/nta-batch/internal/clock"
	"github.com/hochfrequenz/nta-batch/internal/config"
	"github.com/hochfrequenz/nta-batch/internal/domain"
	"github.com/hochfrequenz/nta-batch/internal/driver"
	"github.com/hochfrequenz/nta-batch/internal/logging"
	"github.com/hochfrequenz/nta-batch/internal/notify"
	"github.com/hochfrequenz/nta-batch/internal/report"
	"github.com/hochfrequenz/nta-batch/internal/runstore"
	"github.com/hochfrequenz/nta-batch/internal/samplelist"
	"github.com/hochfrequenz/nta-batch/internal/simulate"
	"github.com/hochfrequenz/nta-batch/tui"
	"github.com/hochfrequenz/nta-batch/web/api"
)

var (
	runSamples    string
	runIndividual bool
	runSimulate   bool
	runNoTUI      bool
	runAutoRetry  int
	runAt         string
	runServe      bool
	runServePort  int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch from a sample list",
		RunE:  runBatch,
	}
	runCmd.Flags().StringVarP(&runSamples, "samples", "s", "", "sample list (.csv, .yaml)")
	runCmd.Flags().BoolVar(&runIndividual, "individual-dirs", false, "store each sample in its own directory")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "rehearse with simulated instruments")
	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "plain console output instead of the dashboard")
	runCmd.Flags().IntVar(&runAutoRetry, "auto-retry", -1, "retry exhausted bridge cycles this many times without asking (-1 asks)")
	runCmd.Flags().StringVar(&runAt, "at", "", "delay the start to the next match of a cron expression")
	runCmd.Flags().BoolVar(&runServe, "serve", false, "serve the web API while the batch runs")
	runCmd.Flags().IntVar(&runServePort, "port", 0, "web API port (default from config)")
	runCmd.MarkFlagRequired("samples")
	rootCmd.AddCommand(runCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}
	return cfg, nil
}

func openLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(cfg.General.LogDir, cfg.General.LogLevel)
}

func bridgeSettings(cfg *config.Config) bridge.Settings {
	return bridge.Settings{BaudRate: cfg.Bridge.BaudRate, ReadTimeout: cfg.Bridge.ReadTimeout()}
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

// errBatchFailed makes the process exit non-zero after an unsuccessful run
var errBatchFailed = errors.New("batch did not complete")

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runSimulate {
		cfg.Analyzer.Driver = simulate.DriverName
		cfg.Sampler.Driver = simulate.DriverName
	}
	if runServePort > 0 {
		cfg.Web.Port = runServePort
	}
	serve := runServe || cfg.Web.Enabled

	pattern, err := regexp.Compile(cfg.Bridge.PortPattern)
	if err != nil {
		return fmt.Errorf("bridge port pattern: %w", err)
	}

	list, err := samplelist.Load(runSamples)
	if err != nil {
		return err
	}
	plan := list.Plan(runIndividual)
	timing := batch.TimingFromConfig(cfg)

	log, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	analyzer, err := driver.NewAnalyzer(cfg.Analyzer.Driver)
	if err != nil {
		return err
	}
	sampler, err := driver.NewSampler(cfg.Sampler.Driver)
	if err != nil {
		return err
	}

	var bridgeDriver bridge.Driver = bridge.SerialDriver{}
	if runSimulate {
		rig := simulate.Default()
		rig.Sampler.Positions = plan.Len()
		rig.Analyzer.Extension = timing.ResultExtension
		bridgeDriver = rig.Bridge
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runAt != "" {
		at, err := batch.NextStart(runAt, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Batch of %d samples starts at %s\n", plan.Len(), at.Format("2006-01-02 15:04"))
		log.Info("delayed start", "at", at, "cron", runAt)
		if err := batch.WaitUntil(ctx, clock.Real(), at); err != nil {
			return err
		}
	}

	startedAt := time.Now()
	run, err := store.CreateRun(plan, startedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	runLog := log.WithRun(run.ID)
	runLog.Info("batch starting", "samples", plan.Len(), "individual_dirs", plan.IndividualDirectories,
		"analyzer", cfg.Analyzer.Driver, "sampler", cfg.Sampler.Driver)

	token := cancel.NewToken(ctx)
	reporters := report.Multi{
		report.Logging{Log: runLog, Plan: plan},
		runstore.NewRecorder(store, run.ID, log),
		notify.NewReporter(buildNotifier(cfg), run.ID, plan.Len(), log),
	}

	var recovery cancel.RecoveryDecider
	if runAutoRetry >= 0 {
		recovery = &cancel.AutoRetry{Max: runAutoRetry}
	}

	var program *tea.Program
	if !runNoTUI {
		model := tui.NewModel(tui.ModelConfig{
			Title:     fmt.Sprintf("NTA Batch %s", run.ID[:8]),
			Plan:      plan,
			StartedAt: startedAt,
			Abort:     token.Cancel,
		})
		program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		reporters = append(reporters, tui.NewReporter(program))
		if recovery == nil {
			recovery = tui.NewDecider(program)
		}
	} else {
		reporters = append(reporters, consoleReporter{})
		if recovery == nil {
			recovery = &cancel.ConsoleDecider{In: os.Stdin, Out: os.Stdout}
		}
	}

	var server *api.Server
	if serve {
		live := api.NewLive()
		live.Begin(run.ID, plan, startedAt, token.Cancel)
		server = api.NewServer(store, live, cfg.Web.Addr(), log)
		reporters = append(reporters, live)
	}

	orch, err := batch.New(batch.Options{
		Plan: plan,
		OpenBridge: func() (batch.Bridge, error) {
			ch, err := bridge.Open(bridgeDriver, pattern, bridgeSettings(cfg), runLog)
			if err != nil {
				return nil, err
			}
			if err := store.SetBridgePort(run.ID, ch.PortName()); err != nil {
				runLog.Warn("failed to store bridge port", "error", err)
			}
			return ch, nil
		},
		Analyzer: analyzer,
		Sampler:  sampler,
		Recovery: recovery,
		Reporter: reporters,
		Timing:   timing,
		Logger:   runLog,
	})
	if err != nil {
		return err
	}

	var runner batch.Runner
	handle, err := runner.Start(orch, token)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	if server != nil {
		g.Go(func() error {
			if err := server.Start(serveCtx); err != nil {
				// the batch keeps running without its web view
				runLog.Error("web api stopped", "error", err)
			}
			return nil
		})
	}
	if program != nil {
		g.Go(func() error {
			_, err := program.Run()
			if err != nil {
				token.Cancel()
			}
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	var outcome domain.Outcome
	g.Go(func() error {
		outcome = handle.Wait()
		stopServe()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Println(outcome.Message())
	fmt.Printf("Run %s recorded in %s\n", run.ID, cfg.General.DatabasePath)
	if outcome != domain.OutcomeCompleted {
		return fmt.Errorf("%w: %s", errBatchFailed, outcome)
	}
	return nil
}

// consoleReporter prints progress when the dashboard is off
type consoleReporter struct{}

func (consoleReporter) PhaseProgress(index int, phase domain.Phase, status domain.Status) {
	fmt.Printf("  sample %d %s: %s\n", index+1, phase, status.Label())
}

func (consoleReporter) StateChanged(state domain.State, index int) {
	fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), state.At(index))
}

func (consoleReporter) Failure(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func (consoleReporter) BatchOutcome(domain.Outcome) {}
