package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanqinglian/aihelper-rag/internal/indexer"
	"github.com/tanqinglian/aihelper-rag/internal/project"
)

var indexCmd = &cobra.Command{
	Use:   "index <project-id>",
	Short: "Rebuild a project's index",
	Long: `Rebuilds the index of one project and prints progress until it finishes.

This command:
1. Scans the source directory for matching files
2. Embeds every file, skipping files that fail
3. Replaces the project's previous index in one step

If the run fails the previous index stays queryable.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <project-id>",
	Short: "Re-index a project whenever its files change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		fmt.Printf("Watching project %s (Ctrl+C to stop)...\n", args[0])
		w := project.NewWatcher(a.Projects, watchDebounce, a.Log.Named("watch"))
		if err := w.Run(cmd.Context(), args[0]); err != nil && !errors.Is(err, cmd.Context().Err()) {
			return err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", project.DefaultDebounce, "quiet period before re-indexing")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()
	return indexProject(ctx, a.Projects, args[0])
}

func indexProject(ctx context.Context, projects *project.Manager, id string) error {
	job, err := projects.StartIndex(ctx, id)
	if err != nil {
		return err
	}

	fmt.Println("Starting index...")
	fmt.Println()
	err = job.Watch(ctx, func(e indexer.Event) error {
		printEvent(e)
		return nil
	})
	if err != nil {
		job.Cancel()
		<-job.Done()
		return err
	}

	result, err := job.Result()
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println("=== Index Complete ===")
	fmt.Printf("Files indexed: %d\n", result.FileCount)
	fmt.Printf("Files failed:  %d\n", result.FailedCount)
	fmt.Printf("Index size:    %s\n", humanBytes(result.IndexSizeBytes))
	fmt.Printf("Duration:      %s\n", result.Duration.Round(time.Millisecond))
	return nil
}

func printEvent(e indexer.Event) {
	switch d := e.Data.(type) {
	case indexer.ScanStart:
		fmt.Printf("Scanning %s...\n", d.SourceDir)
	case indexer.ScanComplete:
		fmt.Printf("Found %d files\n", d.TotalFiles)
	case indexer.Progress:
		fmt.Printf("  [%d/%d] %5.1f%% %s (~%ds left)\n", d.Current, d.Total, d.Percent, d.CurrentFile, d.EstimatedRemainingSeconds)
	case indexer.FileError:
		fmt.Printf("  Warning: %s: %s\n", d.File, d.Error)
	case indexer.Saving:
		fmt.Printf("Saving %d files...\n", d.FileCount)
	case indexer.Complete:
		fmt.Printf("Done in %.1fs\n", d.DurationSeconds)
	case indexer.Failure:
		fmt.Printf("Failed: %s\n", d.Message)
	default:
		fmt.Printf("%s\n", e.Type)
	}
}
