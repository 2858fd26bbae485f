package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// readPassword returns the flag value when set, otherwise reads one line
// from stdin.
func readPassword(password string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func newBootstrapAdminCmd() *cobra.Command {
	var (
		username string
		email    string
		password string
	)
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the first admin account (only when no users exist)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			existing, err := e.users.ListUsers(ctx)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return errors.New("users already exist; use create-user with an admin identity")
			}
			pw, err := readPassword(password)
			if err != nil {
				return err
			}
			user, err := e.users.CreateUser(ctx, "bootstrap", username, pw, true, email)
			if err != nil {
				return err
			}
			fmt.Printf("created admin %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "admin username")
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newCreateUserCmd(as *string) *cobra.Command {
	var (
		email    string
		password string
		isAdmin  bool
	)
	cmd := &cobra.Command{
		Use:   "create-user <username>",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			operator, err := requireOperator(ctx, e, *as)
			if err != nil {
				return err
			}
			pw, err := readPassword(password)
			if err != nil {
				return err
			}
			user, err := e.users.CreateUser(ctx, operator.ID, args[0], pw, isAdmin, email)
			if err != nil {
				return err
			}
			fmt.Printf("created user %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "grant admin access")
	return cmd
}

func newRemoveUserCmd(as *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-user <username>",
		Short: "Remove a user, or disable it when it still owns tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			operator, err := requireOperator(ctx, e, *as)
			if err != nil {
				return err
			}
			if err := e.users.RemoveUser(ctx, operator.ID, args[0]); err != nil {
				return err
			}
			fmt.Printf("removed user %s\n", args[0])
			return nil
		},
	}
}

func newChangePasswordCmd(as *string) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "change-password <username>",
		Short: "Rotate a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv()
			if err != nil {
				return err
			}
			defer closeEnv()
			ctx, cancel := cmdContext()
			defer cancel()

			operator, err := requireOperator(ctx, e, *as)
			if err != nil {
				return err
			}
			pw, err := readPassword(password)
			if err != nil {
				return err
			}
			if err := e.users.ChangePassword(ctx, operator.ID, args[0], pw); err != nil {
				return err
			}
			fmt.Printf("password updated for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when omitted)")
	return cmd
}
