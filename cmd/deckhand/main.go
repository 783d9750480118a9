// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// deckhand is a terminal dashboard that supervises long-running
// worker processes (AI coding agents in tmux sessions). It watches
// the status and log files workers write, classifies liveness from
// weak signals, recovers from crashes under a rate limit, and
// surfaces everything to the operator in near real time.
//
// Workers are opaque: deckhand never looks inside them, only at the
// files they write and whether their process and session still exist.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/deckhand-project/deckhand/chat"
	"github.com/deckhand-project/deckhand/dash"
	"github.com/deckhand-project/deckhand/dispatch"
	"github.com/deckhand-project/deckhand/health"
	"github.com/deckhand-project/deckhand/launcher"
	"github.com/deckhand-project/deckhand/lib/config"
	"github.com/deckhand-project/deckhand/lib/proc"
	"github.com/deckhand-project/deckhand/lib/process"
	"github.com/deckhand-project/deckhand/lib/tmux"
	"github.com/deckhand-project/deckhand/recovery"
	"github.com/deckhand-project/deckhand/taskq"
	"github.com/deckhand-project/deckhand/track"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var logOutput string
	var showVersion bool

	flagSet := pflag.NewFlagSet("deckhand", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to deckhand.yaml (default: $DECKHAND_CONFIG or built-in defaults)")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file (default: <state>/deckhand.log)")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		fmt.Printf("deckhand v%s\n", version)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// The watched directories and the state directory are the only
	// fatal startup requirements; everything past this point degrades
	// instead of failing.
	for _, directory := range []string{cfg.Paths.Status, cfg.Paths.Logs, cfg.Paths.State} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}

	logger, closeLogger, err := newLogger(cfg, logOutput)
	if err != nil {
		return err
	}
	defer closeLogger()

	store := &recovery.Store{Path: filepath.Join(cfg.Paths.State, "crash-history.json")}
	manager, err := recovery.NewManager(recovery.Config{
		Window:           cfg.Recovery.Window.Std(),
		MaxCrashes:       cfg.Recovery.MaxCrashes,
		AutoRestart:      cfg.Recovery.AutoRestart,
		ClearAssignments: cfg.Recovery.ClearAssignments,
	}, nil, store)
	if err != nil {
		return err
	}

	processes := proc.Prober{}

	// Render is wired through a late-bound program pointer: the loop
	// needs the render callback at construction, the program needs the
	// model, and the model needs the loop.
	var program *tea.Program
	loop := dispatch.New(dispatch.Config{
		Registry:  track.NewRegistry(),
		Recovery:  manager,
		Queue:     queueClient(cfg),
		Launcher:  launcherClient(cfg),
		Chat:      chatClient(cfg),
		Processes: processes,
		Logger:    logger,
		Render: func(view dispatch.View) {
			if program != nil {
				program.Send(dash.ViewMsg(view))
			}
		},
		RenderBudget: cfg.UI.RenderBudget.Std(),
	})

	watcher := &track.Watcher{
		StatusDir: cfg.Paths.Status,
		LogDir:    cfg.Paths.Logs,
		Notify: func(n track.Notification) {
			loop.Post(dispatch.FileChanged{Path: n.Path, Kind: n.Kind})
		},
		Fallback: func(err error) {
			loop.Post(dispatch.WatcherDegraded{Err: err})
		},
		CoalesceWindow: cfg.Watcher.CoalesceWindow.Std(),
		ScanInterval:   cfg.Watcher.ScanInterval.Std(),
	}

	monitor := &health.Monitor{
		Snapshots: loop.Snapshots,
		Emit: func(verdict health.Verdict) {
			loop.Post(dispatch.VerdictReceived{Verdict: verdict})
		},
		Processes:    processes,
		Sessions:     tmux.Prober{Server: tmux.NewServer(cfg.Tmux.SocketPath, cfg.Tmux.ConfigFile)},
		Interval:     cfg.Health.Interval.Std(),
		StaleAfter:   cfg.Health.StaleAfter.Std(),
		ProbeTimeout: cfg.Health.ProbeTimeout.Std(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	program = tea.NewProgram(dash.NewModel(loop), tea.WithAltScreen())

	go watcher.Run(ctx)
	go monitor.Run(ctx)
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	logger.Info("deckhand started",
		"version", version,
		"status_dir", cfg.Paths.Status,
		"log_dir", cfg.Paths.Logs)

	if _, err := program.Run(); err != nil {
		cancel()
		<-loopDone
		return fmt.Errorf("terminal UI: %w", err)
	}

	// UI exited. Stop the sources and wait for the loop to finish the
	// event it is on; a forced quit skips the wait entirely.
	cancel()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, dispatch.ErrForcedQuit) {
			return nil
		}
		return err
	}
	logger.Info("deckhand stopped")
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// newLogger writes JSON records to a file; the terminal belongs to
// the dashboard.
func newLogger(cfg *config.Config, logOutput string) (*slog.Logger, func(), error) {
	path := logOutput
	if path == "" {
		path = filepath.Join(cfg.Paths.State, "deckhand.log")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log output %s: %w", path, err)
	}
	logger := slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return logger, func() { file.Close() }, nil
}

func queueClient(cfg *config.Config) dispatch.AssignmentClearer {
	if cfg.Queue.Command == "" {
		return nil
	}
	return &taskq.Client{Command: cfg.Queue.Command, Timeout: cfg.Queue.Timeout.Std()}
}

func launcherClient(cfg *config.Config) dispatch.Restarter {
	if cfg.Launcher.Command == "" {
		return nil
	}
	return &launcher.Client{Command: cfg.Launcher.Command, Timeout: cfg.Launcher.Timeout.Std()}
}

func chatClient(cfg *config.Config) dispatch.Asker {
	if cfg.Chat.SocketPath == "" {
		return nil
	}
	return &chat.Client{SocketPath: cfg.Chat.SocketPath, Timeout: cfg.Chat.Timeout.Std()}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Deckhand — terminal dashboard supervising AI coding agent workers.

Watches the configured status and log directories, evaluates worker
liveness every few seconds, restarts crashed workers under a sliding
rate limit, and releases their task assignments back to the queue.

Usage:
  deckhand [flags]

Flags:
%s
Keys:
  j/k   move worker cursor      Tab   switch pane
  r     restart selected worker  c    chat with its agent
  a     toggle auto-restart      q    quit (Ctrl-C force)
`, flagSet.FlagUsages())
}
