package main

import (
	"fmt"

	"github.com/aretw0/tether/internal/presentation/graph"
	"github.com/aretw0/tether/pkg/model"
	"github.com/aretw0/tether/pkg/widgets"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <widget>",
	Short: "Export a Mermaid diagram of a widget",
	Long: `Outputs the dependency graph of a widget's computed values (graph LR).
With --tree the model tree a session would receive is drawn instead (graph TD).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := widgets.Build(args[0], nil)
		if err != nil {
			return err
		}
		highlight, _ := cmd.Flags().GetStringSlice("highlight")
		overlay := &graph.Overlay{Highlight: highlight}

		if tree, _ := cmd.Flags().GetBool("tree"); tree {
			root, err := model.NewMapper().Build(w)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), graph.ModelTreeMermaid(root.Specs(), overlay))
			return nil
		}

		c, ok := w.(model.Computed)
		if !ok || c.Graph() == nil {
			return fmt.Errorf("%s has no computed values; try --tree", args[0])
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.DependencyMermaid(c.Graph(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().Bool("tree", false, "Draw the model tree instead of the dependency graph")
	graphCmd.Flags().StringSlice("highlight", nil, "IDs to highlight")
}
