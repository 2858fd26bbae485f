package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCreateTeamCmd(as *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create-team <name>",
		Short: "Create a team and provision its schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			if _, err := requireOperator(ctx, e, *as); err != nil {
				return err
			}
			team, err := e.teams.CreateTeam(ctx, *as, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created team %s (schema %s)\n", team.Name, team.SchemaName)
			return nil
		},
	}
}

func newAddUserToTeamCmd(as *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add-user-to-team <username> <team>",
		Short: "Add a user to a team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			if _, err := requireOperator(ctx, e, *as); err != nil {
				return err
			}
			if err := e.teams.AddUserToTeam(ctx, *as, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("added %s to %s\n", args[0], args[1])
			return nil
		},
	}
}

func newRemoveUserFromTeamCmd(as *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-user-from-team <username> <team>",
		Short: "Remove a user from a team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			if _, err := requireOperator(ctx, e, *as); err != nil {
				return err
			}
			if err := e.teams.RemoveUserFromTeam(ctx, *as, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("removed %s from %s\n", args[0], args[1])
			return nil
		},
	}
}
