package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loaderland/concept-runner/internal/model"
)

var (
	listStatus string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List concepts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		status := model.Status(listStatus)
		if status != "" && !status.Valid() {
			return fmt.Errorf("unknown status %q", status)
		}

		summaries, err := env.Pipeline.List(cmd.Context(), status, listLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tSLUG\tIDEA")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\n", s.ConceptID, s.Status, s.Progress, s.Slug, s.Idea)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of concepts")
	rootCmd.AddCommand(listCmd)
}
