package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wildeye/camtriage/internal/catalog"
	"github.com/wildeye/camtriage/internal/config"
	"github.com/wildeye/camtriage/internal/hook"
	"github.com/wildeye/camtriage/internal/logging"
	"github.com/wildeye/camtriage/internal/models"
	"github.com/wildeye/camtriage/internal/reconcile"
	"github.com/wildeye/camtriage/internal/sorter"
	"github.com/wildeye/camtriage/internal/storage"
	"github.com/wildeye/camtriage/internal/task"
	"github.com/wildeye/camtriage/internal/thumbs"
	"github.com/wildeye/camtriage/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "camtriage",
		Short: "Wildlife camera image triage",
		Long:  "Camtriage browses wildlife-camera folders, runs species detection tools against them, and sorts images into destination folders.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newClassifyCommand())
	rootCmd.AddCommand(newVisualizeCommand())
	rootCmd.AddCommand(newSortCommand())
	rootCmd.AddCommand(newThumbsCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newKillCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// deps is the shared wiring behind the TUI and the headless commands.
type deps struct {
	cfg   *config.Config
	log   *logrus.Logger
	ring  *logging.Ring
	store *storage.Storage
}

func setup() (*deps, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	ring := logging.NewRing()
	log, err := logging.New(cfg.LogPath, ring)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &deps{cfg: cfg, log: log, ring: ring, store: store}, nil
}

func (d *deps) controllerOptions(session *catalog.Session) []task.Option {
	opts := []task.Option{task.WithStore(d.store)}
	if session != nil {
		opts = append(opts, task.WithSession(session))
	}
	if d.cfg.Settings.HookScript != "" {
		opts = append(opts, task.WithHook(hook.New(d.cfg.Settings.HookScript, d.log)))
	}
	return opts
}

func runTUI(cmd *cobra.Command, args []string) error {
	d, err := setup()
	if err != nil {
		return err
	}
	defer d.store.Close()

	session := catalog.NewSession()
	dests := sorter.New(d.cfg.Settings.Destinations)

	classifier := task.NewController(models.CapabilityClassifier, d.log,
		d.controllerOptions(session)...)

	visOpts := append(d.controllerOptions(session),
		task.WithReconciler(reconcile.New(d.cfg.Settings.CanonicalSuffix, d.log)))
	visualizer := task.NewController(models.CapabilityVisualizer, d.log, visOpts...)

	app := tui.NewApp(d.cfg, session, dests, classifier, visualizer, d.store, d.ring)
	p := tea.NewProgram(app, tea.WithAltScreen())
	app.AttachSender(p.Send)

	_, err = p.Run()
	return err
}

// cliSink streams task output to stdout and hands the terminal
// notification back to the waiting command.
type cliSink struct {
	done chan task.Notification
}

func newCLISink() *cliSink {
	return &cliSink{done: make(chan task.Notification, 1)}
}

func (s *cliSink) Line(capability models.Capability, line string) {
	fmt.Println(line)
}

func (s *cliSink) Finished(n task.Notification) {
	s.done <- n
}

func finishHeadless(n task.Notification) error {
	switch n.Status {
	case models.TaskStatusSucceeded:
		fmt.Printf("%s completed successfully\n", n.TaskName)
		return nil
	case models.TaskStatusCancelled:
		return fmt.Errorf("%s was cancelled", n.TaskName)
	default:
		if n.Err != nil {
			return fmt.Errorf("%s failed: %w", n.TaskName, n.Err)
		}
		return fmt.Errorf("%s exited with code %d", n.TaskName, n.ExitCode)
	}
}

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <folder>",
		Short: "Run the species classifier on a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup()
			if err != nil {
				return err
			}
			defer d.store.Close()

			command, err := task.ClassifierCommand(d.cfg.Settings, args[0])
			if err != nil {
				return err
			}

			ctrl := task.NewController(models.CapabilityClassifier, d.log,
				d.controllerOptions(nil)...)
			sink := newCLISink()
			ctrl.Run("SpeciesNet", command, args[0], sink)
			return finishHeadless(<-sink.done)
		},
	}
}

func newVisualizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "visualize <folder>",
		Short: "Run the bounding-box visualizer on a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup()
			if err != nil {
				return err
			}
			defer d.store.Close()

			command, err := task.VisualizerCommand(d.cfg.Settings, args[0])
			if err != nil {
				return err
			}

			opts := append(d.controllerOptions(nil),
				task.WithReconciler(reconcile.New(d.cfg.Settings.CanonicalSuffix, d.log)))
			ctrl := task.NewController(models.CapabilityVisualizer, d.log, opts...)
			sink := newCLISink()
			ctrl.Run("MegaDetector", command, args[0], sink)

			n := <-sink.done
			for _, a := range n.Artifacts {
				fmt.Printf("artifact: %s\n", a)
			}
			return finishHeadless(n)
		},
	}
}

func newSortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sort <image> <folder>",
		Short: "Copy an image into a destination folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := sorter.CopyTo(args[1], args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Copied %s to %s\n", args[0], dest)
			return nil
		},
	}
}

func newThumbsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "thumbs <folder>",
		Short: "Generate thumbnails for a folder's images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup()
			if err != nil {
				return err
			}
			defer d.store.Close()

			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}

			cache := thumbs.NewCache(d.cfg.ThumbsDir)
			var failed int
			for _, img := range cat.Files() {
				path, err := cache.Ensure(img)
				if err != nil {
					d.log.Errorf("thumbnail for %s: %v", img, err)
					failed++
					continue
				}
				fmt.Println(path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d thumbnails failed", failed, cat.Len())
			}
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup()
			if err != nil {
				return err
			}
			defer d.store.Close()

			tasks, err := d.store.ListTasks(20)
			if err != nil {
				return err
			}

			if len(tasks) == 0 {
				fmt.Println("No tasks recorded.")
				return nil
			}

			for _, t := range tasks {
				fmt.Printf("#%d %s [%s] %s\n", t.ID, t.Name, t.Status, t.Folder)
			}
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show task detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task ID: %w", err)
			}

			d, err := setup()
			if err != nil {
				return err
			}
			defer d.store.Close()

			t, err := d.store.GetTask(taskID)
			if err != nil {
				return fmt.Errorf("failed to get task: %w", err)
			}

			fmt.Printf("Task #%d: %s (%s)\n", t.ID, t.Name, t.Capability)
			fmt.Printf("Status: %s\n", t.Status)
			fmt.Printf("Folder: %s\n", t.Folder)
			fmt.Printf("Command: %s\n", strings.Join(t.Command, " "))
			if t.ExitCode != nil {
				fmt.Printf("Exit code: %d\n", *t.ExitCode)
			}
			if t.Error != "" {
				fmt.Printf("Error: %s\n", t.Error)
			}
			if len(t.Artifacts) > 0 {
				fmt.Println("Artifacts:")
				for _, a := range t.Artifacts {
					fmt.Printf("  %s\n", a)
				}
			}
			if t.OutputTail != "" {
				fmt.Println("\nOutput tail:")
				fmt.Println(t.OutputTail)
			}
			return nil
		},
	}
}

func newKillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <task-id>",
		Short: "Kill a running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task ID: %w", err)
			}

			d, err := setup()
			if err != nil {
				return err
			}
			defer d.store.Close()

			t, err := d.store.GetTask(taskID)
			if err != nil {
				return fmt.Errorf("failed to get task: %w", err)
			}
			if t.Status.Terminal() {
				return fmt.Errorf("task #%d already finished (%s)", t.ID, t.Status)
			}
			if t.PID == nil {
				return fmt.Errorf("task #%d has no recorded process", t.ID)
			}

			// Kill the process group so tool children die too.
			if err := syscall.Kill(-*t.PID, syscall.SIGKILL); err != nil {
				return fmt.Errorf("failed to kill process %d: %w", *t.PID, err)
			}

			t.Status = models.TaskStatusCancelled
			if err := d.store.UpdateTask(t); err != nil {
				return err
			}

			fmt.Printf("Killed task #%d\n", taskID)
			return nil
		},
	}
}
