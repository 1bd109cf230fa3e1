package main

import (
	"context"
	"fmt"

	"github.com/DoyleJ11/pokeroster/internal/app"
	"github.com/DoyleJ11/pokeroster/internal/controller"
	"github.com/DoyleJ11/pokeroster/internal/localstate"
	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var copySession bool

// clipboardWriteAll is swapped out in tests.
var clipboardWriteAll = clipboard.WriteAll

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, join and delete roster sessions",
	Long: `A session is identified by a short code. The code in use is remembered in
the local state file (state_path) so later commands resume it.

Available subcommands:
  create - Create a new session and use it
  use    - Use an existing session by code
  show   - Print the session in use
  close  - Forget the session locally (it stays in the store)
  delete - Remove every entry, then the session itself`,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session and use it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctx context.Context, _ *app.App, c *controller.Controller) error {
			if err := c.Create(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.Session())
			return nil
		})
	},
}

var sessionUseCmd = &cobra.Command{
	Use:   "use [code]",
	Short: "Use an existing session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctx context.Context, _ *app.App, c *controller.Controller) error {
			if err := c.Resolve(ctx, args[0]); err != nil {
				return fmt.Errorf("use %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.Session())
			return nil
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the session in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := localstate.NewFile(cfg.StatePath).SessionID()
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("no session")
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		if copySession {
			// Best effort: headless machines have no clipboard.
			if err := clipboardWriteAll(id); err != nil {
				logger.Warn("copy session to clipboard", zap.Error(err))
			}
		}
		return nil
	},
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Forget the session locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return localstate.NewFile(cfg.StatePath).Clear()
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove every entry, then the session itself",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd, func(ctx context.Context, _ *app.App, c *controller.Controller) error {
			if err := requireSession(ctx, c); err != nil {
				return err
			}
			id := c.Session()
			if err := c.Delete(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		})
	},
}

func init() {
	sessionShowCmd.Flags().BoolVar(&copySession, "copy", false, "Also copy the code to the clipboard")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionUseCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionCloseCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}
