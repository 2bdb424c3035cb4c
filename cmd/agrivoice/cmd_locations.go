package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"agrivoice/internal/domain"
	"agrivoice/internal/slots"
)

func newLocationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "Manage the field and greenhouse names used to match narrations",
	}
	cmd.AddCommand(newLocationsListCmd(), newLocationsAddCmd(), newLocationsAliasCmd())
	return cmd
}

func newLocationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known locations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			locations, err := st.ListLocations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(locations) == 0 {
				fmt.Fprintln(out, "No locations.")
				return nil
			}
			for _, location := range locations {
				fmt.Fprint(out, location.Name)
				if len(location.Aliases) > 0 {
					fmt.Fprintf(out, "  (%s)", strings.Join(location.Aliases, ", "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newLocationsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Register a location",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := slots.SanitizeLocation(joinArgs(args))
			if name == "" {
				return fmt.Errorf("location name is empty")
			}
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			location := domain.LocationMaster{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
			if err := st.CreateLocation(cmd.Context(), location); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", name)
			return nil
		},
	}
}

func newLocationsAliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alias <name> <alias>",
		Short: "Add an alternative spelling for a location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.AddAlias(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("location %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now also %s\n", args[0], args[1])
			return nil
		},
	}
}
