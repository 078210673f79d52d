package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nstogner/solemate/pkg/seed"
	"github.com/nstogner/solemate/pkg/store/sqlite"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Load orders and policy summaries into the database",
	Long: `Load a YAML fixture of orders and summarized policy documents.

Policy statements are keyed by their normalized text; a statement listed
under several documents is stored once with the union of their intents.
Orders are replaced by order_id. Loading the same fixture twice is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := seed.Load(args[0])
	if err != nil {
		return err
	}
	st, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	res, err := seed.Apply(cmd.Context(), st, st, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d orders and %d policy statements into %s\n", res.Orders, res.Policies, cfg.Database.Path)
	return nil
}
