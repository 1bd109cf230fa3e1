package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/DoyleJ11/pokeroster/internal/app"
	"github.com/DoyleJ11/pokeroster/internal/controller"
	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/spf13/cobra"
)

var (
	addNickname string
	addLevel    int
	addGender   string
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Read and change the lists of the session in use",
	Long: `Locations are team, reserve and cemetery. The team holds at most six
entries; adding or moving into a full team fails.

Examples:
  pokeroster roster add team pikachu --nickname Sparky --level 5
  pokeroster roster move team <entry-id> cemetery
  pokeroster roster level reserve <entry-id> up`,
}

var rosterListCmd = &cobra.Command{
	Use:   "list [location]",
	Short: "List one location, or all three",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		locs := roster.Locations
		if len(args) == 1 {
			loc, err := roster.ParseLocation(args[0])
			if err != nil {
				return err
			}
			locs = []roster.Location{loc}
		}
		return withController(cmd, func(ctx context.Context, a *app.App, c *controller.Controller) error {
			if err := requireSession(ctx, c); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LOCATION\tID\tSPECIES\tNICKNAME\tLEVEL\tGENDER")
			for _, loc := range locs {
				entries, err := a.Roster.List(ctx, c.Session(), loc)
				if err != nil {
					return err
				}
				for _, e := range entries {
					name := strconv.Itoa(e.SpeciesID)
					if s, err := a.Catalog.SpeciesByID(ctx, e.SpeciesID); err == nil {
						name = a.Catalog.DisplayName(s)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", loc, e.ID, name, e.Nickname, e.Level, e.Gender)
				}
			}
			return tw.Flush()
		})
	},
}

var rosterAddCmd = &cobra.Command{
	Use:   "add [location] [species]",
	Short: "Add an entry; species is a catalog name or id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := roster.ParseLocation(args[0])
		if err != nil {
			return err
		}
		gender, err := roster.ParseGender(addGender)
		if err != nil {
			return err
		}
		return withController(cmd, func(ctx context.Context, a *app.App, c *controller.Controller) error {
			if err := requireSession(ctx, c); err != nil {
				return err
			}
			id, err := strconv.Atoi(args[1])
			if err != nil {
				s, err := a.Catalog.SpeciesByName(ctx, args[1])
				if err != nil {
					return fmt.Errorf("species %q: %w", args[1], err)
				}
				id = s.ID
			}
			e, err := c.Add(ctx, loc, roster.Entry{SpeciesID: id, Nickname: addNickname, Level: addLevel, Gender: gender})
			if err != nil {
				return err
			}
			return printJSON(cmd, e)
		})
	},
}

var rosterMoveCmd = &cobra.Command{
	Use:   "move [from] [entry-id] [to]",
	Short: "Move an entry to another location",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := roster.ParseLocation(args[0])
		if err != nil {
			return err
		}
		to, err := roster.ParseLocation(args[2])
		if err != nil {
			return err
		}
		return runEntry(cmd, func(ctx context.Context, c *controller.Controller) (roster.Entry, error) {
			return c.Move(ctx, args[1], from, to)
		})
	},
}

var rosterRemoveCmd = &cobra.Command{
	Use:     "rm [location] [entry-id]",
	Aliases: []string{"remove"},
	Short:   "Remove an entry",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := roster.ParseLocation(args[0])
		if err != nil {
			return err
		}
		return withController(cmd, func(ctx context.Context, _ *app.App, c *controller.Controller) error {
			if err := requireSession(ctx, c); err != nil {
				return err
			}
			return c.Remove(ctx, loc, args[1])
		})
	},
}

var rosterLevelCmd = &cobra.Command{
	Use:       "level [location] [entry-id] [up|down]",
	Short:     "Raise or lower an entry's level by one",
	Args:      cobra.ExactArgs(3),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := roster.ParseLocation(args[0])
		if err != nil {
			return err
		}
		up := strings.EqualFold(args[2], "up")
		if !up && !strings.EqualFold(args[2], "down") {
			return fmt.Errorf("direction must be up or down, got %q", args[2])
		}
		return runEntry(cmd, func(ctx context.Context, c *controller.Controller) (roster.Entry, error) {
			if up {
				return c.LevelUp(ctx, loc, args[1])
			}
			return c.LevelDown(ctx, loc, args[1])
		})
	},
}

var rosterSetCmd = &cobra.Command{
	Use:   "set [location] [entry-id] [nickname|level|gender] [value]",
	Short: "Change one field of an entry",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := roster.ParseLocation(args[0])
		if err != nil {
			return err
		}
		return runEntry(cmd, func(ctx context.Context, c *controller.Controller) (roster.Entry, error) {
			return c.Update(ctx, loc, args[1], roster.Field(strings.ToLower(args[2])), args[3])
		})
	},
}

// runEntry applies one change to the session in use and prints the result.
func runEntry(cmd *cobra.Command, fn func(ctx context.Context, c *controller.Controller) (roster.Entry, error)) error {
	return withController(cmd, func(ctx context.Context, _ *app.App, c *controller.Controller) error {
		if err := requireSession(ctx, c); err != nil {
			return err
		}
		e, err := fn(ctx, c)
		if err != nil {
			return err
		}
		return printJSON(cmd, e)
	})
}

func init() {
	rosterAddCmd.Flags().StringVar(&addNickname, "nickname", "", "Nickname")
	rosterAddCmd.Flags().IntVar(&addLevel, "level", roster.MinLevel, "Level (1-100)")
	rosterAddCmd.Flags().StringVar(&addGender, "gender", string(roster.GenderNone), "male, female or none")

	rosterCmd.AddCommand(rosterListCmd)
	rosterCmd.AddCommand(rosterAddCmd)
	rosterCmd.AddCommand(rosterMoveCmd)
	rosterCmd.AddCommand(rosterRemoveCmd)
	rosterCmd.AddCommand(rosterLevelCmd)
	rosterCmd.AddCommand(rosterSetCmd)
}
