// emc is the operator CLI for grading submission attempts locally and
// validating assignment documents.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"emc/internal/allocator"
	"emc/internal/archive"
	"emc/internal/coordinator"
	"emc/internal/events"
	"emc/internal/execconfig"
	"emc/internal/gate"
	"emc/internal/marker"
	"emc/internal/sandbox"
	"emc/internal/submission"
	appErr "emc/pkg/errors"
	"emc/pkg/utils/logger"
)

const (
	exitOK           = 0
	exitInternal     = 1
	exitBadConfig    = 2
	exitBadAllocator = 3
	exitRunnerInfra  = 4
	exitCancelled    = 5
)

var (
	rootDir      string
	moduleID     int64
	assignmentID int64
)

func main() {
	if err := buildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func buildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "emc",
		Short:         "Execution and marking core for assignment grading",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: "warn", Format: "console", OutputPath: "stderr", ErrorPath: "stderr"})
		},
	}
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "storage_root", "archive store root directory")
	rootCmd.PersistentFlags().Int64Var(&moduleID, "module", 0, "module id")
	rootCmd.PersistentFlags().Int64Var(&assignmentID, "assignment", 0, "assignment id")

	rootCmd.AddCommand(buildCheckConfigCommand())
	rootCmd.AddCommand(buildCheckAllocatorCommand())
	rootCmd.AddCommand(buildRunTaskCommand())
	rootCmd.AddCommand(buildGradeCommand())
	return rootCmd
}

// exitCodeFor maps failures onto the CLI contract.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitCancelled
	}
	code := appErr.GetCode(err)
	if code == appErr.CoordinatorFailed {
		// A failed run carries its root cause one level down.
		var inner *appErr.Error
		if e, ok := err.(*appErr.Error); ok && e.Err != nil && errors.As(e.Err, &inner) {
			code = inner.Code
		}
	}
	switch {
	case code >= 21000 && code < 22000:
		return exitBadConfig
	case code >= 22000 && code < 23000:
		return exitBadAllocator
	case code == appErr.RunnerInfra:
		return exitRunnerInfra
	}
	return exitInternal
}

func openStore() (*archive.Store, error) {
	if moduleID <= 0 || assignmentID <= 0 {
		return nil, appErr.ValidationError("module/assignment", "required")
	}
	return archive.NewStore(rootDir)
}

func buildCheckConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the execution config of an assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			cfg, err := execconfig.Load(cmd.Context(), store, moduleID, assignmentID)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func buildCheckAllocatorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-allocator",
		Short: "Validate the mark allocator of an assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			alloc, err := allocator.Load(cmd.Context(), store, moduleID, assignmentID)
			if err != nil {
				return err
			}
			fmt.Printf("allocator ok: %d tasks, total value %g\n", len(alloc.Tasks), alloc.TotalValue)
			return nil
		},
	}
}

func buildRunTaskCommand() *cobra.Command {
	var workDir string
	var timeoutSecs int

	cmd := &cobra.Command{
		Use:   "run-task <command>",
		Short: "Execute one task command under the sandbox limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := sandbox.NewEngine(sandbox.Config{})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			outcome, err := engine.Run(ctx, sandbox.RunSpec{
				RunID:      "cli-run",
				TaskNumber: 1,
				Command:    args[0],
				WorkDir:    workDir,
				Limits: sandbox.Limits{
					TimeoutSecs:  timeoutSecs,
					MaxMemoryMB:  512,
					MaxCPUs:      1,
					MaxProcesses: 64,
				},
			})
			if err != nil {
				return err
			}
			fmt.Print(outcome.Stdout)
			if outcome.Stderr != "" {
				fmt.Fprint(os.Stderr, outcome.Stderr)
			}
			fmt.Fprintf(os.Stderr, "exit=%d wall=%dms timed_out=%v oom=%v\n",
				outcome.ExitStatus, outcome.WallMs, outcome.TimedOut, outcome.OomKilled)
			return nil
		},
	}
	cmd.Flags().StringVar(&workDir, "workdir", ".", "working directory for the command")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 30, "wall clock limit in seconds")
	return cmd
}

func buildGradeCommand() *cobra.Command {
	var userID int64
	var attempt int64
	var archivePath string
	var taskSpecs []string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade one submission attempt end to end",
		Long: `Runs every task of the attempt under the sandbox, marks the captured
output against the memo and prints the resulting report.

Tasks are given as repeated --task flags in the form "<number>=<command>".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if userID <= 0 || attempt <= 0 {
				return appErr.ValidationError("user/attempt", "required")
			}
			tasks, err := parseTaskSpecs(taskSpecs)
			if err != nil {
				return err
			}

			engine, err := sandbox.NewEngine(sandbox.Config{})
			if err != nil {
				return err
			}
			runGate, err := gate.New(concurrency)
			if err != nil {
				return err
			}
			mk, err := marker.NewMarker(store)
			if err != nil {
				return err
			}
			repo := submission.NewMemoryRepository()
			subID := fmt.Sprintf("local-%d-%d-%d", assignmentID, userID, attempt)
			err = repo.Create(cmd.Context(), &submission.Submission{
				ID:           subID,
				ModuleID:     moduleID,
				AssignmentID: assignmentID,
				UserID:       userID,
				Attempt:      attempt,
				ArchivePath:  archivePath,
			})
			if err != nil {
				return err
			}

			coord, err := coordinator.New(coordinator.Options{
				Store:     store,
				Engine:    engine,
				Gate:      runGate,
				Marker:    mk,
				Repo:      repo,
				Publisher: events.PublisherFunc(printEvent),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			h, err := coord.Start(ctx, coordinator.Request{
				SubmissionID: subID,
				ModuleID:     moduleID,
				AssignmentID: assignmentID,
				UserID:       userID,
				Attempt:      attempt,
				ArchivePath:  archivePath,
				Tasks:        tasks,
			})
			if err != nil {
				return err
			}
			go func() {
				<-ctx.Done()
				h.Cancel()
			}()
			if err := h.Wait(); err != nil {
				return err
			}

			report, err := store.Read(store.ReportPath(moduleID, assignmentID, userID, attempt))
			if err != nil {
				return err
			}
			fmt.Println(string(report))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().Int64Var(&attempt, "attempt", 0, "attempt number")
	cmd.Flags().StringVar(&archivePath, "archive", "", "submission archive to extract before running")
	cmd.Flags().StringArrayVar(&taskSpecs, "task", nil, `task to run, "<number>=<command>"`)
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "max tasks in flight")
	return cmd
}

func parseTaskSpecs(specs []string) ([]coordinator.Task, error) {
	if len(specs) == 0 {
		return nil, appErr.ValidationError("task", "at least one --task is required")
	}
	tasks := make([]coordinator.Task, 0, len(specs))
	for _, spec := range specs {
		number, command, found := strings.Cut(spec, "=")
		if !found {
			return nil, appErr.ValidationError("task", fmt.Sprintf("%q is not <number>=<command>", spec))
		}
		n, err := strconv.ParseInt(number, 10, 64)
		if err != nil || n <= 0 {
			return nil, appErr.ValidationError("task", fmt.Sprintf("bad task number in %q", spec))
		}
		tasks = append(tasks, coordinator.Task{
			TaskNumber: n,
			Name:       fmt.Sprintf("Task %d", n),
			Command:    command,
		})
	}
	return tasks, nil
}

func printEvent(_ context.Context, ev events.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	fmt.Fprintln(os.Stderr, string(line))
	return nil
}
