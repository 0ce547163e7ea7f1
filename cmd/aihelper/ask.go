package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tanqinglian/aihelper-rag/internal/agent"
	"github.com/tanqinglian/aihelper-rag/internal/qa"
)

var askCmd = &cobra.Command{
	Use:   "ask <project-id> <question...>",
	Short: "Ask a question about an indexed project",
	Long: `Retrieves the most relevant files of the project, reranks them and
streams an answer grounded in their content. The source list is printed
before the answer.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		question := strings.Join(args[1:], " ")
		var failure string
		err = a.QA.AskStream(cmd.Context(), args[0], question, func(e qa.Event) error {
			switch e.Type {
			case qa.EventSources:
				fmt.Println("Sources:")
				for _, s := range e.Data.([]qa.Source) {
					fmt.Printf("  %.3f  %s\n", s.Score, s.Path)
				}
				fmt.Println()
			case qa.EventContent:
				fmt.Print(e.Data)
			case qa.EventDone:
				fmt.Println()
			case qa.EventError:
				failure = e.Data.(qa.ErrorData).Message
			}
			return nil
		})
		if err != nil {
			return err
		}
		if failure != "" {
			return fmt.Errorf("%s", failure)
		}
		return nil
	},
}

var searchTopN int

var searchCmd = &cobra.Command{
	Use:   "search <project-id> <query...>",
	Short: "Show the files that best match a query",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		candidates, err := a.QA.Search(cmd.Context(), args[0], strings.Join(args[1:], " "), searchTopN)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for i, c := range candidates {
			fmt.Printf("%2d. %s  (hybrid %.3f, vector %.3f, bm25 %.3f)\n",
				i+1, c.Chunk.Path, c.HybridScore, c.VectorScore, c.BM25Score)
		}
		return nil
	},
}

var (
	agentProjects  []string
	agentMaxRounds int
)

var agentCmd = &cobra.Command{
	Use:   "agent <question...>",
	Short: "Answer a question with multi-step tool use across projects",
	Long: `Runs the agent loop: the model may search projects, read files and list
files over several rounds before answering. Without --project every indexed
project is searchable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		ids := agentProjects
		if len(ids) == 0 {
			projects, err := a.Projects.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range projects {
				if p.Queryable() {
					ids = append(ids, p.ID)
				}
			}
		}

		runner := a.Agent
		if agentMaxRounds > 0 {
			runner = runner.WithMaxRounds(agentMaxRounds)
		}
		return runner.Run(cmd.Context(), ids, strings.Join(args, " "), func(s agent.Step) error {
			switch s.Type {
			case agent.StepThinking:
				fmt.Printf("[round %d] %s\n", s.Round, s.Content)
			case agent.StepToolCall, agent.StepToolResult:
				fmt.Printf("[round %d] %s: %s\n", s.Round, s.Type, truncate(s.Content, 200))
			case agent.StepFinalAnswer:
				fmt.Println()
				fmt.Println(s.Content)
			case agent.StepError:
				fmt.Printf("Error: %s\n", s.Content)
			}
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchTopN, "top", 0, "number of results (default: configured rerank_top_n)")
	agentCmd.Flags().StringSliceVar(&agentProjects, "project", nil, "project ids to search (default: all indexed)")
	agentCmd.Flags().IntVar(&agentMaxRounds, "max-rounds", 0, "round limit (default: configured agent.max_rounds)")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
