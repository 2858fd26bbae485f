// Command ezdeploy deploys a table described by a YAML file to the caller's
// team schema. Credentials come from EZPG_USERNAME and EZPG_PASSWORD; the
// login is subject to the same connection throttle as the API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/guard"
	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/store/pg"
	"github.com/mskhalsa/EZPostgres-service/internal/tablespec"
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
	var file string

	root := &cobra.Command{
		Use:           "ezdeploy",
		Short:         "Deploy a table definition to your team schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("table definition required: pass -f <file.yaml>")
			}
			return run(file)
		},
	}
	root.Flags().StringVarP(&file, "file", "f", "", "YAML table definition")
	return root
}

// teamDirectory resolves team names to records.
type teamDirectory interface {
	TeamByName(ctx context.Context, name string) (tenant.Team, error)
}

// resolveTeam looks up the named team within the caller's scope. Non-admin
// callers get the same denial for a team that does not exist as for one
// outside their scope, so the lookup reveals nothing about foreign teams.
func resolveTeam(ctx context.Context, teams teamDirectory, scope tenant.TeamScope, name string) (tenant.Team, error) {
	team, err := teams.TeamByName(ctx, name)
	if err != nil {
		if errors.Is(err, tenant.ErrUnknownTeam) && !scope.IsAdmin() {
			return tenant.Team{}, tenant.ErrUnauthorized
		}
		return tenant.Team{}, err
	}
	if !scope.Allows(team.ID) {
		return tenant.Team{}, tenant.ErrUnauthorized
	}
	return team, nil
}

func run(file string) error {
	username := os.Getenv("EZPG_USERNAME")
	password := os.Getenv("EZPG_PASSWORD")
	if username == "" || password == "" {
		return errors.New("credentials required: set EZPG_USERNAME and EZPG_PASSWORD")
	}
	dsn := os.Getenv("EZPG_PG_DSN")
	if dsn == "" {
		return errors.New("missing DSN: set EZPG_PG_DSN")
	}

	spec, err := tablespec.Load(file)
	if err != nil {
		return err
	}
	if spec.Team == "" {
		return errors.New("table definition must name a team")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	recorder := audit.NewRecorder(store)
	authenticator := identity.NewAuthenticator(store, guard.New(store), recorder)

	origin, _ := os.Hostname()
	user, err := authenticator.Authenticate(ctx, username, password, origin)
	if err != nil {
		return err
	}

	policy := tenant.NewPolicy(store, store)
	_, scope, err := policy.ResolveCaller(ctx, user.Username)
	if err != nil {
		return err
	}
	team, err := resolveTeam(ctx, store, scope, spec.Team)
	if err != nil {
		return err
	}

	orchestrator := deploy.NewOrchestrator(policy, store, store, recorder)
	res, err := orchestrator.Deploy(ctx, user.Username, team.ID, spec)
	if err != nil {
		return err
	}

	verb := "updated"
	if res.Created {
		verb = "created"
	}
	fmt.Printf("%s %s.%s (%d columns)\n", verb, res.Table.SchemaName, res.Table.TableName, len(spec.Columns))
	return nil
}
