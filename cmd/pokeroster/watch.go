package main

import (
	"context"

	"github.com/DoyleJ11/pokeroster/internal/app"
	"github.com/DoyleJ11/pokeroster/internal/controller"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream the enriched view of the session in use",
	Long: `Prints the session's view as JSON every time any client changes it,
until interrupted. Catalog lookups that fail are reported on the entry and
the location instead of stopping the stream.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctx context.Context, a *app.App, c *controller.Controller) error {
			go func() {
				if err := a.WatchChanges(ctx); err != nil {
					logger.Warn("change feed stopped", zap.Error(err))
				}
			}()
			if err := requireSession(ctx, c); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case v := <-c.Views():
					if err := printJSON(cmd, v); err != nil {
						return err
					}
				}
			}
		})
	},
}
