// Package deploy turns a validated table specification into a provisioned,
// access-granted, audited table. The orchestrator performs fail-fast
// validation and authorization, then delegates one all-or-nothing unit of
// work to the store; losers of a (schema, table) race retry a bounded number
// of times before surfacing a conflict.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/audit"
	"github.com/mskhalsa/EZPostgres-service/internal/identity"
	"github.com/mskhalsa/EZPostgres-service/internal/obs"
	"github.com/mskhalsa/EZPostgres-service/internal/registry"
	"github.com/mskhalsa/EZPostgres-service/internal/tablespec"
	"github.com/mskhalsa/EZPostgres-service/internal/tenant"
)

var (
	// ErrWriteConflict is the retryable signal a store returns when a
	// concurrent deployment won the (schema, table) race.
	ErrWriteConflict = errors.New("deploy: write conflict")

	// ErrDeploymentConflict is surfaced after conflict retries are exhausted.
	ErrDeploymentConflict = errors.New("deploy: conflicting deployment in progress")

	// ErrTimeout is surfaced when the store did not answer within the bound.
	ErrTimeout = errors.New("deploy: operation timed out")
)

// Deployment is the unit of work handed to the store.
type Deployment struct {
	Actor identity.User
	Team  tenant.Team
	Spec  tablespec.TableSpec
}

// Result reports the applied deployment.
type Result struct {
	Table   registry.TableRecord
	Created bool
}

// Store applies one deployment attempt as a single atomic unit: ensure the
// tenant schema, create or structurally replace the physical table, upsert
// the table record, rebuild its column records, grant the team group role,
// and append the activity entry. Any failure leaves no partial state.
type Store interface {
	ApplyDeployment(ctx context.Context, d Deployment) (Result, error)
}

// TeamResolver resolves team ids to team records.
type TeamResolver interface {
	TeamByID(ctx context.Context, id string) (tenant.Team, error)
}

const (
	defaultAttempts = 3
	defaultBackoff  = 50 * time.Millisecond
	defaultTimeout  = 15 * time.Second
)

// Orchestrator coordinates table deployments.
type Orchestrator struct {
	policy   *tenant.Policy
	teams    TeamResolver
	store    Store
	recorder *audit.Recorder

	attempts int
	backoff  time.Duration
	timeout  time.Duration
	sleep    func(time.Duration)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAttempts bounds the conflict retries.
func WithAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithBackoff sets the base delay between conflict retries.
func WithBackoff(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.backoff = d
		}
	}
}

// WithTimeout bounds each Deploy call.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(policy *tenant.Policy, teams TeamResolver, store Store, recorder *audit.Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		policy:   policy,
		teams:    teams,
		store:    store,
		recorder: recorder,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		timeout:  defaultTimeout,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Deploy provisions a table for the given team. Validation and authorization
// fail fast without side effects; everything after runs inside one
// transaction per attempt.
func (o *Orchestrator) Deploy(ctx context.Context, caller, teamID string, spec tablespec.TableSpec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}

	actor, scope, err := o.policy.ResolveCaller(ctx, caller)
	if err != nil {
		obs.AuthzDenials.Inc()
		o.recorder.DeniedUnknown(ctx, caller, audit.ActionCreate, audit.ObjectTable)
		return Result{}, tenant.ErrUnauthorized
	}
	if !scope.Allows(teamID) {
		// Generic denial: it does not reveal whether the team exists.
		obs.AuthzDenials.Inc()
		o.recorder.Denied(ctx, actor.ID, audit.ActionCreate, audit.ObjectTable)
		return Result{}, tenant.ErrUnauthorized
	}

	team, err := o.teams.TeamByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, tenant.ErrUnknownTeam) {
			return Result{}, tenant.ErrUnknownTeam
		}
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	dep := Deployment{Actor: actor, Team: team, Spec: spec}
	for attempt := 1; ; attempt++ {
		res, err := o.store.ApplyDeployment(ctx, dep)
		switch {
		case err == nil:
			outcome := "updated"
			if res.Created {
				outcome = "created"
			}
			obs.DeploymentsTotal.WithLabelValues(outcome).Inc()
			return res, nil
		case errors.Is(err, ErrWriteConflict):
			if attempt >= o.attempts {
				obs.DeploymentConflicts.Inc()
				return Result{}, fmt.Errorf("%w: %s.%s", ErrDeploymentConflict, team.SchemaName, spec.Table)
			}
			o.sleep(o.backoff * time.Duration(attempt))
		case errors.Is(err, context.DeadlineExceeded):
			obs.DeploymentsTotal.WithLabelValues("failed").Inc()
			return Result{}, ErrTimeout
		default:
			obs.DeploymentsTotal.WithLabelValues("failed").Inc()
			return Result{}, err
		}
	}
}
