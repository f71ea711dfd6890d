package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"orgmesh.org/internal/obs"
)

// Action enumerates auditable mutations.
const (
	ActionCreate         = "create"
	ActionUpdate         = "update"
	ActionDelete         = "delete"
	ActionActivate       = "activate"
	ActionDeactivate     = "deactivate"
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionPasswordChange = "password_change"
	ActionRoleAssignment = "role_assignment"
	ActionReparent       = "reparent"
)

// Event is the tuple emitted by the core for every audited mutation. Before
// and After are marshalled snapshots; storage is the collaborator's problem.
type Event struct {
	Entity   string
	EntityID string
	Action   string
	Before   any
	After    any
}

// Recorder receives audit events. The engine never depends on where they go.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type ctxKey string

const (
	actorKey     ctxKey = "audit_actor_id"
	requestIDKey ctxKey = "audit_request_id"
)

// WithActor attaches the acting user id to the context. Core operations take
// actors through context explicitly rather than ambient state.
func WithActor(ctx context.Context, actorID string) context.Context {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext returns the acting user id, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(actorKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID attaches the request identifier to the context for audit
// correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request identifier, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogRecorder writes audit events as JSON lines through the shared logger.
type LogRecorder struct{}

// Record implements Recorder.
func (LogRecorder) Record(ctx context.Context, ev Event) error {
	if strings.TrimSpace(ev.Entity) == "" || strings.TrimSpace(ev.Action) == "" {
		return errors.New("audit: entity and action are required")
	}
	entry := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"type":      "audit",
		"entity":    ev.Entity,
		"entity_id": ev.EntityID,
		"action":    ev.Action,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if actor, ok := ActorFromContext(ctx); ok {
		entry["actor_id"] = actor
	}
	if ev.Before != nil {
		entry["before"] = ev.Before
	}
	if ev.After != nil {
		entry["after"] = ev.After
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Nop discards events; used when no recorder is configured.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
