package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func newListTeamsCmd(as *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list-teams",
		Short: "List teams visible to the operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			teams, err := e.teams.ListTeams(ctx, *as)
			if err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintln(w, "NAME\tSCHEMA\tCREATED")
			for _, t := range teams {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.SchemaName, t.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newListUsersCmd(as *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "List user accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			users, err := e.users.ListUsers(ctx)
			if err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintln(w, "USERNAME\tADMIN\tDISABLED\tLAST LOGIN")
			for _, u := range users {
				lastLogin := "-"
				if u.LastLoginAt != nil {
					lastLogin = u.LastLoginAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%t\t%t\t%s\n", u.Username, u.IsAdmin, u.Disabled, lastLogin)
			}
			return w.Flush()
		},
	}
}

func newListTablesCmd(as *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list-tables",
		Short: "List deployed tables visible to the operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			tables, err := e.tables.ListTables(ctx, *as)
			if err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintln(w, "SCHEMA\tTABLE\tROWS (EST)\tUPDATED")
			for _, t := range tables {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.SchemaName, t.TableName, t.RowEstimate, t.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newActivityCmd(as *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent activity entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			viewer, _, err := e.policy.ResolveCaller(ctx, *as)
			if err != nil {
				return err
			}
			entries, err := e.activity.ListActivity(ctx, viewer.ID, viewer.IsAdmin, limit)
			if err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintln(w, "WHEN\tACTOR\tACTION\tOBJECT\tDESCRIPTION")
			for _, entry := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					entry.OccurredAt.Format(time.RFC3339), entry.ActorID, entry.Action, entry.ObjectKind, entry.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return cmd
}

func newReportCmd(as *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show per-team and per-user usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			rep, err := e.reports.Usage(ctx, *as)
			if err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintln(w, "TEAM\tMEMBERS\tTABLES\tROWS (EST)")
			for _, t := range rep.Teams {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", t.TeamName, t.Members, t.Tables, t.RowEstimate)
			}
			fmt.Fprintf(w, "TOTAL\t\t%d\t%d\n", rep.Totals.Tables, rep.Totals.RowEstimate)
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("accounts: %d (%d inactive over 30 days)\n", rep.Totals.Users, rep.Totals.InactiveUsers)
			if len(rep.Users) > 0 {
				fmt.Println()
				w = newTabWriter()
				fmt.Fprintln(w, "USER\tTABLES\tLAST DEPLOY")
				for _, u := range rep.Users {
					last := "-"
					if u.LastDeploy != nil {
						last = u.LastDeploy.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%d\t%s\n", u.Username, u.Tables, last)
				}
				return w.Flush()
			}
			return nil
		},
	}
}
