// Package audit is the append-only record of security-relevant actions.
// Entries are written once and never updated; reads are newest-first and
// bounded. Each recorded entry is mirrored as a structured JSON log line so
// the trail survives even if the database row is the thing under dispute.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mskhalsa/EZPostgres-service/internal/ids"
	"github.com/mskhalsa/EZPostgres-service/internal/obs"
)

// Action kinds recorded in the log.
const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionDelete  = "DELETE"
	ActionDisable = "DISABLE"
	ActionLogin   = "LOGIN"
	ActionDenied  = "DENIED"
)

// Object kinds.
const (
	ObjectUser       = "USER"
	ObjectTeam       = "TEAM"
	ObjectMembership = "MEMBERSHIP"
	ObjectTable      = "TABLE"
)

// Entry is one immutable activity record.
type Entry struct {
	ID          string    `json:"id"`
	ActorID     string    `json:"actor_id"`
	Action      string    `json:"action"`
	ObjectKind  string    `json:"object_kind"`
	ObjectID    string    `json:"object_id,omitempty"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Store persists entries. List with an empty actorID returns entries across
// all actors; a non-empty actorID restricts visibility to that actor's rows.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, actorID string, limit int) ([]Entry, error)
}

// Recorder appends entries and emits the matching JSON line.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (r *Recorder) WithClock(fn func() time.Time) *Recorder {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Record appends one entry, filling in id and timestamp.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Action) == "" || strings.TrimSpace(entry.ObjectKind) == "" {
		return errors.New("audit: action and object kind are required")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if err := r.store.Append(ctx, &entry); err != nil {
		return err
	}
	logLine("activity", entry)
	return nil
}

// Denied emits the audit signal for a rejected action. Denials are logged but
// not stored as activity rows; the one deliberate exception to "every denial
// leaves a signal" is the connection guard's pre-threshold denial, which never
// reaches this function.
func (r *Recorder) Denied(ctx context.Context, actorID, action, objectKind string) {
	obs.Emit(lineFields("denied", Entry{
		ActorID:    actorID,
		Action:     action,
		ObjectKind: objectKind,
	}, ""))
}

// DeniedUnknown emits the denial signal for a caller that never resolved to
// a user record. The claimed name goes under its own key so the actor field
// only ever carries user ids.
func (r *Recorder) DeniedUnknown(ctx context.Context, claimed, action, objectKind string) {
	obs.Emit(lineFields("denied", Entry{
		Action:     action,
		ObjectKind: objectKind,
	}, claimed))
}

func logLine(event string, entry Entry) {
	obs.Emit(lineFields(event, entry, ""))
}

func lineFields(event string, entry Entry, claimed string) map[string]any {
	line := map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"type":        "audit",
		"event":       event,
		"action":      entry.Action,
		"object_kind": entry.ObjectKind,
	}
	if entry.ActorID != "" {
		line["actor"] = entry.ActorID
	}
	if claimed != "" {
		line["claimed_actor"] = claimed
	}
	if entry.ObjectID != "" {
		line["object_id"] = entry.ObjectID
	}
	if entry.Description != "" {
		line["description"] = entry.Description
	}
	return line
}

// Service reads the activity log with the row-visibility rule applied: a
// caller sees an entry iff it is the actor or an admin. The caller's identity
// and admin status are explicit parameters so tests can inject arbitrary
// viewers.
type Service struct {
	store Store
}

// NewService constructs the read side of the audit log.
func NewService(store Store) *Service {
	return &Service{store: store}
}

const defaultListLimit = 50

// ListActivity returns entries newest-first, bounded by limit.
func (s *Service) ListActivity(ctx context.Context, viewerID string, viewerAdmin bool, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	actorFilter := viewerID
	if viewerAdmin {
		actorFilter = ""
	}
	return s.store.List(ctx, actorFilter, limit)
}
