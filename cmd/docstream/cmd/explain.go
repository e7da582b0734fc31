package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docstream/internal/app"
)

var explainCmd = &cobra.Command{
	Use:   "explain <hash|file.pdf> <region-id>",
	Short: "Explain a figure, table or equation of a cached document",
	Long: `Ask the generative model to describe a region of a cached document. The
explanation is stored with the document; later calls return it unless --force
is given. Requires ai.vertex.enabled.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := resolveHash(args[0])
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		cfg := *GetConfig()
		// Explaining never runs the pipeline.
		cfg.Pipeline.RunModel = false
		a, err := app.New(cmd.Context(), &cfg, slog.Default())
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		defer func() { _ = a.Close() }()

		res, err := a.Explainer.Explain(cmd.Context(), hash, args[1], force)
		if err != nil {
			return err
		}
		if res.Cached {
			slog.Debug("Explanation served from cache", "hash", hash, "region", res.RegionID)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Text)
		return err
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
	explainCmd.Flags().Bool("force", false, "regenerate even if an explanation is stored")
}
