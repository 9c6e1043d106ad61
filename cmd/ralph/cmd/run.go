package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ralph-tui/ralph-tui/internal/agent"
	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/control"
	"github.com/ralph-tui/ralph-tui/internal/coordinator"
	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/engine"
	"github.com/ralph-tui/ralph-tui/internal/events"
	"github.com/ralph-tui/ralph-tui/internal/gitx"
	"github.com/ralph-tui/ralph-tui/internal/logging"
	"github.com/ralph-tui/ralph-tui/internal/merge"
	"github.com/ralph-tui/ralph-tui/internal/parallel"
	"github.com/ralph-tui/ralph-tui/internal/progress"
	"github.com/ralph-tui/ralph-tui/internal/state"
	"github.com/ralph-tui/ralph-tui/internal/tracker"
	"github.com/ralph-tui/ralph-tui/internal/worktree"
)

var (
	runResume bool
	runParallel bool
	runAgent string
	runMaxIter int
	runWorktreeDir string
	runAiResolve bool
)

var runCmd = &cobra.Command{
	Use: "run",
	Short: "Start or resume the execution loop against the configured tracker",
	Long: `run drives the configured agent through the tracker's task queue until
it reports completion, an iteration limit is hit, or the operator
interrupts it (Ctrl+C). Ctrl+C twice within one second force-quits.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runResume, "resume", false,
		"resume the prior session in this directory instead of starting a new one")
	runCmd.Flags().BoolVar(&runParallel, "parallel", false,
		"run the Parallel Executor instead of the Sequential Engine")
	runCmd.Flags().StringVar(&runAgent, "agent", "",
		"agent id to drive (default: lowest-sorted enabled agent in config)")
	runCmd.Flags().IntVar(&runMaxIter, "max-iterations", 0,
		"override engine.max_iterations from config (0 = use config)")
	runCmd.Flags().StringVar(&runWorktreeDir, "worktree-dir", "",
		"override git.worktree_dir from config")
	runCmd.Flags().BoolVar(&runAiResolve, "ai-resolve-conflicts", false,
		"drive the run's agent to propose resolutions for merge conflicts (--parallel only)")
}

func runRun(_ *cobra.Command, _ []string) error {
	cfgLoader, cfg, err := loadConfigWithLoader()
	if err != nil {
		return exitErr(ExitFailedOrNone, "loading config: %w", err)
	}
	log := newLogger(cfg)

	cwd, err := os.Getwd()
	if err != nil {
		return exitErr(ExitFailedOrNone, "resolving working directory: %w", err)
	}

	if cfg.Tracker.Command == "" {
		return exitErr(ExitFailedOrNone, "tracker.command is not configured; set it in %s", config.ConfigFileName)
	}
	agentID := runAgent
	if agentID == "" {
		agentID, err = defaultAgentID(cfg)
		if err != nil {
			return exitErr(ExitFailedOrNone, "%w", err)
		}
	}

	stateMgr := state.NewManager(cwd)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := stateMgr.AcquireLock(ctx); err != nil {
		return exitErr(ExitFailedOrNone, "acquiring session lock: %w", err)
	}
	defer func() {
		if err := stateMgr.ReleaseLock(ctx); err != nil {
			log.Warn("failed to release session lock", "error", err)
		}
	}()

	if watcher, werr := config.NewWatcher(cfgLoader, cfg); werr != nil {
		log.Warn("config hot-reload disabled", "error", werr)
	} else {
		watcher.OnChange(func(reloaded *config.Config) {
			log.Info("config reloaded", "log_level", reloaded.Log.Level)
			log.SetLevel(reloaded.Log.Level)
		})
		go watcher.Run()
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Warn("failed to close config watcher", "error", err)
			}
		}()
	}

	trk := tracker.NewShellTracker(cfg.Tracker.Command, cfg.Tracker.TimeoutDuration())
	if err := trk.Initialize(ctx, cfg.Tracker.Options); err != nil {
		return exitErr(ExitFailedOrNone, "initializing tracker: %w", err)
	}
	defer func() {
		if err := trk.Close(); err != nil {
			log.Warn("failed to close tracker", "error", err)
		}
	}()

	session, err := loadOrCreateSession(ctx, stateMgr, trk, cfg, cwd, agentID, log)
	if err != nil {
		return exitErr(ExitFailedOrNone, "%w", err)
	}

	registry, err := agent.BuildRegistry(cfg)
	if err != nil {
		return exitErr(ExitFailedOrNone, "building agent registry: %w", err)
	}

	bus := events.New(256)
	cp := control.New()
	installSignalHandler(cp, cancel, log)

	template := cfg.Prompt.TemplateFile
	templateSrc := config.DefaultPromptTemplate
	if template != "" {
		data, err := os.ReadFile(template)
		if err != nil {
			return exitErr(ExitFailedOrNone, "reading prompt template %q: %w", template, err)
		}
		templateSrc = string(data)
	}

	var finalStatus core.SessionStatus
	if runParallel {
		finalStatus, err = runParallelExecutor(ctx, cfg, cwd, session, trk, registry, stateMgr, bus, log, templateSrc, agentID, cp)
	} else {
		finalStatus, err = runSequential(ctx, cfg, session, trk, registry, stateMgr, bus, log, templateSrc, cp)
	}
	// A graceful cancel (Ctrl+C) surfaces as ctx.Err() alongside a terminal
	// status of Interrupted, not a genuine failure; only report err as a
	// hard failure when the run wasn't the one being cancelled.
	if err != nil && ctx.Err() == nil {
		return exitErr(ExitFailedOrNone, "%w", err)
	}

	log.Info("session ended", "status", finalStatus, "session_id", session.SessionID)
	return exitForStatus(finalStatus)
}

// exitForStatus maps a session's terminal status to exit
// code table. Interrupted (operator cancel, crash recovery pending a
// resume) is grouped with running/paused: the session isn't done, but
// it isn't failed either.
func exitForStatus(status core.SessionStatus) error {
	switch status {
	case core.SessionStatusCompleted:
		return nil
	case core.SessionStatusRunning, core.SessionStatusPaused, core.SessionStatusInterrupted:
		return &exitError{code: ExitRunningOrPaused, err: fmt.Errorf("session ended as %s", status)}
	default:
		return &exitError{code: ExitFailedOrNone, err: fmt.Errorf("session ended as %s", status)}
	}
}

func defaultAgentID(cfg *config.Config) (string, error) {
	var ids []string
	for id, ac := range cfg.Agents {
		if ac.Enabled {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no enabled agents configured; set agents.<id>.enabled = true")
	}
	sort.Strings(ids)
	return ids[0], nil
}

func loadOrCreateSession(ctx context.Context, stateMgr *state.Manager, trk core.Tracker, cfg *config.Config, cwd, agentID string, log *logging.Logger) (*core.SessionState, error) {
	if runResume {
		session, err := stateMgr.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading session for resume: %w", err)
		}
		if session == nil {
			return nil, fmt.Errorf("no prior session found in %s; omit --resume to start one", cwd)
		}
		if err := state.Reconcile(ctx, trk, session); err != nil {
			return nil, fmt.Errorf("reconciling crashed session: %w", err)
		}
		if err := session.Transition(core.SessionStatusRunning); err != nil {
			return nil, fmt.Errorf("resuming session: %w", err)
		}
		if err := stateMgr.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("persisting resumed session: %w", err)
		}
		log.Info("resumed session", "session_id", session.SessionID, "iteration", session.CurrentIteration)
		return session, nil
	}

	maxIter := cfg.Engine.MaxIterations
	if runMaxIter != 0 {
		maxIter = runMaxIter
	}
	session := core.NewSessionState(uuid.NewString(), cwd, cfg.Tracker.Name, agentID, maxIter)
	if err := stateMgr.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("persisting new session: %w", err)
	}
	log.Info("started new session", "session_id", session.SessionID, "agent", agentID)
	return session, nil
}

func runSequential(ctx context.Context, cfg *config.Config, session *core.SessionState, trk core.Tracker, registry *agent.Registry, stateMgr *state.Manager, bus *events.Bus, log *logging.Logger, templateSrc string, cp *control.ControlPlane) (core.SessionStatus, error) {
	e := engine.New(engine.Deps{
		Tracker: trk,
		Agents: registry,
		State: stateMgr,
		Progress: progress.NewLog(stateMgr.ProgressPath()),
		Bus: bus,
		Log: log,
		Template: templateSrc,
		Engine: cfg.Engine,
		RateLimit: cfg.RateLimit,
	}, session)
	cp.Bind(e)

	return e.Run(ctx)
}

func runParallelExecutor(ctx context.Context, cfg *config.Config, cwd string, session *core.SessionState, trk core.Tracker, registry *agent.Registry, stateMgr *state.Manager, bus *events.Bus, log *logging.Logger, templateSrc, agentID string, cp *control.ControlPlane) (core.SessionStatus, error) {
	gitClient, err := gitx.NewClient(cwd)
	if err != nil {
		return core.SessionStatusFailed, fmt.Errorf("opening git repo: %w", err)
	}

	worktreeDir := cfg.Git.WorktreeDir
	if runWorktreeDir != "" {
		worktreeDir = runWorktreeDir
	}
	if !filepath.IsAbs(worktreeDir) {
		worktreeDir = filepath.Join(cwd, worktreeDir)
	}
	worktrees := worktree.New(gitClient, worktreeDir, log)

	var resolver merge.AiResolver
	if runAiResolve {
		adapter, err := registry.Get(agentID)
		if err != nil {
			return core.SessionStatusFailed, fmt.Errorf("resolving conflict-resolution agent: %w", err)
		}
		resolver = agentResolver(adapter)
	}

	coord := coordinator.New(coordinator.Config{Bus: bus, Log: log})
	coord.StartCleanup(ctx, 0)
	defer coord.Stop()

	executor := parallel.New(parallel.Config{
		Git: gitClient,
		Tracker: trk,
		Agents: registry,
		State: stateMgr,
		Worktrees: worktrees,
		Bus: bus,
		Log: log,
		Coordinator: coord,
		Template: templateSrc,
		EngineCfg: cfg.Engine,
		RateLimit: cfg.RateLimit,
		Parallel: cfg.Parallel,
		Resolver: resolver,
		BaseDir: worktreeDir,
		SessionID: session.SessionID,
	})
	cp.Bind(executor)

	_, err = executor.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return core.SessionStatusInterrupted, nil
		}
		return core.SessionStatusFailed, err
	}
	return core.SessionStatusCompleted, nil
}

// installSignalHandler wires SIGINT/SIGTERM to the control plane's
// double-cancel-within-1s force-quit rule, and SIGUSR1/SIGUSR2 to
// pause/resume (sent by "ralph pause"/"ralph resume" against this
// process's session.lock pid).
func installSignalHandler(cp *control.ControlPlane, cancel context.CancelFunc, log *logging.Logger) {
	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range quitCh {
			forceQuit := cp.Cancel()
			if forceQuit {
				log.Warn("second interrupt received, force-quitting")
				cancel()
				os.Exit(ExitFailedOrNone)
			}
			log.Info("interrupt received, shutting down gracefully (press again to force-quit)")
			cancel()
		}
	}()

	pauseCh := make(chan os.Signal, 1)
	signal.Notify(pauseCh, syscall.SIGUSR1)
	go func() {
		for range pauseCh {
			log.Info("pause requested")
			cp.Pause()
		}
	}()

	resumeCh := make(chan os.Signal, 1)
	signal.Notify(resumeCh, syscall.SIGUSR2)
	go func() {
		for range resumeCh {
			log.Info("resume requested")
			cp.Resume()
		}
	}()
}

