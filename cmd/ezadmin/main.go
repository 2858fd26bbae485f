// Command ezadmin is the operator tool for the shared Postgres service:
// user and team lifecycle, membership, and usage inspection. It talks to the
// database directly and identifies the operator through --as or
// EZPG_IDENTITY.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/registry"
	"github.com/mskhalsa/EZPostgres-service/internal/report"
	"github.com/mskhalsa/EZPostgres-service/internal/store/pg"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var as string

	root := &cobra.Command{
		Use:           "ezadmin",
		Short:         "Administer the shared Postgres table service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if !cmd.Flags().Changed("as") {
				if v := os.Getenv("EZPG_IDENTITY"); v != "" {
					as = v
				}
			}
		},
	}
	root.PersistentFlags().StringVar(&as, "as", "", "operator username (defaults to EZPG_IDENTITY)")

	root.AddCommand(
		newBootstrapAdminCmd(),
		newCreateUserCmd(&as),
		newRemoveUserCmd(&as),
		newChangePasswordCmd(&as),
		newCreateTeamCmd(&as),
		newAddUserToTeamCmd(&as),
		newRemoveUserFromTeamCmd(&as),
		newListTeamsCmd(&as),
		newListUsersCmd(&as),
		newListTablesCmd(&as),
		newActivityCmd(&as),
		newReportCmd(&as),
	)
	return root
}

// env bundles the services the commands work with.
type env struct {
	store    *pg.Store
	users    *identity.Service
	teams    *tenant.Service
	tables   *registry.Service
	activity *audit.Service
	reports  *report.Service
	policy   *tenant.Policy
}

func openEnv() (*env, func(), error) {
	dsn := os.Getenv("EZPG_PG_DSN")
	if dsn == "" {
		return nil, nil, errors.New("missing DSN: set EZPG_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	recorder := audit.NewRecorder(store)
	policy := tenant.NewPolicy(store, store)
	e := &env{
		store:    store,
		users:    identity.NewService(store, recorder),
		teams:    tenant.NewService(store, store, policy, recorder),
		tables:   registry.NewService(store, policy),
		activity: audit.NewService(store),
		reports:  report.NewService(store, policy),
		policy:   policy,
	}
	return e, func() { _ = store.Close() }, nil
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// requireOperator resolves the --as identity and ensures it is an enabled
// admin. Every mutating command except bootstrap-admin goes through this.
func requireOperator(ctx context.Context, e *env, as string) (identity.User, error) {
	as = strings.TrimSpace(as)
	if as == "" {
		return identity.User{}, errors.New("operator identity required: pass --as or set EZPG_IDENTITY")
	}
	user, err := e.store.FindByUsername(ctx, as)
	if err != nil {
		return identity.User{}, fmt.Errorf("unknown operator %q", as)
	}
	if user.Disabled || !user.IsAdmin {
		return identity.User{}, fmt.Errorf("operator %q lacks admin access", as)
	}
	return user, nil
}
