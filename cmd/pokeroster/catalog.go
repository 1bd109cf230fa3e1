package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/DoyleJ11/pokeroster/internal/localstate"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Look up species in the catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every species with its display name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		// No session is involved, so any store driver will do.
		c := a.NewController(ctx, &localstate.Mem{})
		defer func() { _ = c.Close() }()

		species, err := c.LoadCatalog(ctx)
		if err != nil {
			if len(species) == 0 {
				return err
			}
			logger.Warn("some species could not be loaded", zap.Error(err))
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, s := range species {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", s.ID, s.Name, s.DisplayName)
		}
		return tw.Flush()
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show [name|id]",
	Short: "Show a species and the rest of its evolution family",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		d, err := a.Catalog.Detail(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, d)
	},
}

func init() {
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogShowCmd)
}
