package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tanqinglian/aihelper-rag/internal/project"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var (
	createExtensions []string
	createIgnoreDirs []string
	createMaxChars   int
)

var projectCreateCmd = &cobra.Command{
	Use:   "create <name> <source-dir>",
	Short: "Register a source directory as a project",
	Long: `Registers a project. The project starts idle; run "aihelper index <id>"
to build its index. Flags left unset fall back to the configured defaults.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		req := project.CreateRequest{Name: args[0], SourceDir: args[1]}
		if cmd.Flags().Changed("ext") || cmd.Flags().Changed("ignore") || cmd.Flags().Changed("max-chars") {
			req.Config = &project.Config{
				Extensions:   createExtensions,
				IgnoreDirs:   createIgnoreDirs,
				MaxFileChars: createMaxChars,
			}
		}
		p, err := a.Projects.Create(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("Created project %s (%s)\n", p.Name, p.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		projects, err := a.Projects.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFILES\tSOURCE")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.Name, p.Status, p.FileCount, p.SourceDir)
		}
		return w.Flush()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		p, err := a.Projects.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(p)
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project and its index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		if err := a.Projects.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted project %s\n", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show totals across all projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		s, err := a.Projects.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Projects: %d (%d indexed, %d indexing)\n", s.Projects, s.IndexedProjects, s.IndexingProjects)
		fmt.Printf("Files:    %d\n", s.TotalFiles)
		fmt.Printf("Size:     %s\n", humanBytes(s.TotalBytes))
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().StringSliceVar(&createExtensions, "ext", nil, "file extensions to index, e.g. .go,.md (empty means all)")
	projectCreateCmd.Flags().StringSliceVar(&createIgnoreDirs, "ignore", nil, "directory names to skip")
	projectCreateCmd.Flags().IntVar(&createMaxChars, "max-chars", 6000, "characters kept per file")
	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectShowCmd, projectDeleteCmd, statsCmd)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), strings.ToUpper("kmgtpe")[exp])
}
