package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rowbot/internal/bot"
	"rowbot/internal/browser"
	"rowbot/internal/config"
	"rowbot/internal/history"
	"rowbot/internal/retry"
	"rowbot/internal/sheets"
)

var (
	// Global flags
	configPath string
	verbose    bool
	maxTasks   int
	headful    bool

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rowbot",
	Short: "rowbot - spreadsheet-driven browser task runner",
	Long: `rowbot turns spreadsheet rows into browser actions.

Each run reads one queue collection, processes its pending rows through a
single logged-in browser session, and writes a terminal status back to
every processed row. Three modes exist: msg sends templated comments,
post publishes text or media posts, inbox syncs and answers conversations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
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
	},
}

var msgCmd = &cobra.Command{
	Use:   "msg",
	Short: "Send templated messages to the pending message-queue rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd.Context(), modeMsg)
	},
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Publish the pending post-queue rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd.Context(), modePost)
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Sync inbox conversations and send filled-in replies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd.Context(), modeInbox)
	},
}

type mode string

const (
	modeMsg   mode = "msg"
	modePost  mode = "post"
	modeInbox mode = "inbox"
)

// runMode wires one full run: config, remote client, browser session and
// the mode's orchestrator.
func runMode(ctx context.Context, m mode) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if maxTasks > 0 {
		cfg.Run.MaxTasks = maxTasks
	}
	if headful {
		cfg.Browser.Headless = false
	}

	log := logger.With(zap.String("mode", string(m)), zap.String("run_id", uuid.NewString()))
	retrier := retry.New(cfg.Retry.Policy(), log)

	client, err := sheets.NewGoogleClient(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, log)
	if err != nil {
		return fmt.Errorf("connect spreadsheet: %w", err)
	}

	manager := browser.NewManager(cfg.Browser, log)
	session, err := manager.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Release(session); err != nil {
			log.Warn("session release failed", zap.Error(err))
		}
	}()

	summary, err := dispatch(ctx, m, cfg, client, session, retrier, log)
	log.Info("run complete", append(summary.Fields(),
		zap.Int64("sheet_api_calls", client.APICalls()))...)
	return err
}

func dispatch(ctx context.Context, m mode, cfg config.Config, client sheets.Client, session *browser.Session, retrier *retry.Controller, log *zap.Logger) (bot.Summary, error) {
	opts := bot.RunOptions{
		MaxTasks:   cfg.Run.MaxTasks,
		PageBudget: cfg.Run.PageBudget,
		TaskDelay:  cfg.Run.TaskDelay(),
		Username:   cfg.Browser.Username,
	}

	switch m {
	case modeMsg:
		opts.Collection = cfg.Sheets.MessageCollection
		recorder, closeLedger, err := openRecorder(cfg, client, retrier, log)
		if err != nil {
			return bot.Summary{}, err
		}
		defer closeLedger()
		return bot.NewMessageRunner(client, session, recorder, retrier, log, opts).Run(ctx)
	case modePost:
		opts.Collection = cfg.Sheets.PostCollection
		return bot.NewPostRunner(client, session, retrier, log, opts).Run(ctx)
	case modeInbox:
		opts.Collection = cfg.Sheets.InboxCollection
		return bot.NewInboxRunner(client, session, retrier, log, opts).Run(ctx)
	default:
		return bot.Summary{}, fmt.Errorf("unknown mode %q", m)
	}
}

// openRecorder builds the dispatch-history recorder. A ledger open failure
// degrades to duplicate detection without local state rather than blocking
// the run.
func openRecorder(cfg config.Config, client sheets.Client, retrier *retry.Controller, log *zap.Logger) (*history.Recorder, func(), error) {
	var ledger *history.Ledger
	if cfg.Sheets.LedgerPath != "" {
		var err error
		ledger, err = history.OpenLedger(cfg.Sheets.LedgerPath)
		if err != nil {
			log.Warn("ledger unavailable, duplicate suppression degraded", zap.Error(err))
			ledger = nil
		}
	}
	closeLedger := func() {
		if ledger != nil {
			_ = ledger.Close()
		}
	}
	return history.NewRecorder(client, cfg.Sheets.HistoryCollection, ledger, retrier, log), closeLedger, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: built-in defaults plus ROWBOT_* env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&maxTasks, "max", 0, "cap on tasks processed this run (0 = config value)")
	rootCmd.PersistentFlags().BoolVar(&headful, "headful", false, "run the browser with a visible window")

	rootCmd.AddCommand(msgCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(inboxCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
