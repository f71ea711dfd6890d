package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgmesh.org/internal/audit"
	"orgmesh.org/internal/ids"
)

// SessionRevoker invalidates a user's sessions; satisfied by the identity
// service. Deactivation cascades through it so suspended users cannot keep
// refreshing tokens.
type SessionRevoker interface {
	RevokeAllSessions(ctx context.Context, userID, reason string) error
}

// Engine owns all tree mutations.
type Engine struct {
	store    Store
	now      func() time.Time
	audit    audit.Recorder
	sessions SessionRevoker
}

// Option configures the Engine.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithAuditRecorder routes tree mutations to the given recorder.
func WithAuditRecorder(rec audit.Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.audit = rec
		}
	}
}

// WithSessionRevoker wires session invalidation into cascading deactivation.
func WithSessionRevoker(r SessionRevoker) Option {
	return func(e *Engine) {
		e.sessions = r
	}
}

// NewEngine constructs the hierarchy engine.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("hierarchy: store is required")
	}
	e := &Engine{
		store: store,
		now:   time.Now,
		audit: audit.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CreateNode creates a sub-organization under the parent, or at the root when
// parentID is empty. The path is assigned only after the node's identity is
// allocated because it embeds the node's own id.
func (e *Engine) CreateNode(ctx context.Context, name, orgID, parentID, description, code string) (*SubOrganization, error) {
	name = strings.TrimSpace(name)
	orgID = strings.TrimSpace(orgID)
	if name == "" || orgID == "" {
		return nil, fmt.Errorf("%w: name and organization id are required", ErrDomainRule)
	}

	level := 1
	parentPath := ""
	parentID = strings.TrimSpace(parentID)
	if parentID != "" {
		parent, err := e.store.Find(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent.OrganizationID != orgID {
			return nil, fmt.Errorf("%w: parent belongs to a different organization", ErrDomainRule)
		}
		level = parent.Level + 1
		parentPath = parent.Path
	}
	if level > MaxLevel {
		return nil, ErrDepthExceeded
	}

	now := e.now().UTC()
	node := &SubOrganization{
		ID:             ids.New(),
		OrganizationID: orgID,
		ParentID:       parentID,
		Name:           name,
		Description:    strings.TrimSpace(description),
		Code:           strings.TrimSpace(code),
		Status:         StatusActive,
		Level:          level,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	node.Path = childPath(parentPath, node.ID)

	if err := e.store.Insert(ctx, node); err != nil {
		return nil, err
	}
	_ = e.audit.Record(ctx, audit.Event{
		Entity:   "SubOrganization",
		EntityID: node.ID,
		Action:   audit.ActionCreate,
		After:    map[string]any{"name": node.Name, "level": node.Level, "path": node.Path},
	})
	return node, nil
}

// Reparent moves a node under a new parent (or to the root when newParentID
// is empty) and recomputes level and path for the node and its entire
// subtree, preserving relative depth. The whole rewrite is validated first
// and applied as one atomic store batch: a rejected move leaves the tree
// untouched.
func (e *Engine) Reparent(ctx context.Context, nodeID, newParentID string) error {
	node, err := e.store.Find(ctx, nodeID)
	if err != nil {
		return err
	}

	newLevel := 1
	newParentPath := ""
	newParentID = strings.TrimSpace(newParentID)
	if newParentID != "" {
		if newParentID == node.ID {
			return ErrCycle
		}
		parent, err := e.store.Find(ctx, newParentID)
		if err != nil {
			return err
		}
		if parent.OrganizationID != node.OrganizationID {
			return fmt.Errorf("%w: parent belongs to a different organization", ErrDomainRule)
		}
		// Cycle prevention: the new parent must not already sit below the
		// node being moved.
		if containsSegment(parent.Path, node.ID) {
			return ErrCycle
		}
		newLevel = parent.Level + 1
		newParentPath = parent.Path
	}
	if newLevel > MaxLevel {
		return ErrDepthExceeded
	}

	subtree, err := e.store.Subtree(ctx, node.Path)
	if err != nil {
		return err
	}

	oldPath := node.Path
	oldLevel := node.Level
	newPath := childPath(newParentPath, node.ID)
	delta := newLevel - oldLevel

	// Validate the deepest descendant before touching anything.
	for _, d := range subtree {
		if d.Level+delta > MaxLevel {
			return ErrDepthExceeded
		}
	}

	now := e.now().UTC()
	for _, d := range subtree {
		if d.ID == node.ID {
			d.ParentID = newParentID
		}
		d.Path = newPath + strings.TrimPrefix(d.Path, oldPath)
		d.Level += delta
		d.UpdatedAt = now
	}
	if err := e.store.UpdateTree(ctx, subtree); err != nil {
		return err
	}

	_ = e.audit.Record(ctx, audit.Event{
		Entity:   "SubOrganization",
		EntityID: node.ID,
		Action:   audit.ActionReparent,
		Before:   map[string]any{"path": oldPath, "level": oldLevel},
		After:    map[string]any{"path": newPath, "level": newLevel, "moved": len(subtree)},
	})
	return nil
}

// Deactivate marks the node inactive and cascades to every descendant
// sub-organization and every user scoped under the node or any descendant.
// The cascaded users also lose their active sessions.
func (e *Engine) Deactivate(ctx context.Context, nodeID string) error {
	node, err := e.store.Find(ctx, nodeID)
	if err != nil {
		return err
	}
	userIDs, err := e.store.DeactivateSubtree(ctx, node.Path)
	if err != nil {
		return err
	}
	if e.sessions != nil {
		for _, id := range userIDs {
			if err := e.sessions.RevokeAllSessions(ctx, id, "sub-organization deactivated"); err != nil {
				return err
			}
		}
	}
	_ = e.audit.Record(ctx, audit.Event{
		Entity:   "SubOrganization",
		EntityID: node.ID,
		Action:   audit.ActionDeactivate,
		After:    map[string]any{"deactivated_users": len(userIDs)},
	})
	return nil
}

// Activate re-enables the node only. Deliberately no cascade in either
// direction: members may have been suspended for independent reasons, so
// reactivating a branch never silently reactivates them.
func (e *Engine) Activate(ctx context.Context, nodeID string) error {
	node, err := e.store.Find(ctx, nodeID)
	if err != nil {
		return err
	}
	if err := e.store.SetStatus(ctx, node.ID, StatusActive); err != nil {
		return err
	}
	_ = e.audit.Record(ctx, audit.Event{Entity: "SubOrganization", EntityID: node.ID, Action: audit.ActionActivate})
	return nil
}

// Node loads a single sub-organization.
func (e *Engine) Node(ctx context.Context, nodeID string) (*SubOrganization, error) {
	return e.store.Find(ctx, nodeID)
}

// Descendants lists the subtree rooted at the node, excluding the node
// itself.
func (e *Engine) Descendants(ctx context.Context, nodeID string) ([]*SubOrganization, error) {
	node, err := e.store.Find(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	subtree, err := e.store.Subtree(ctx, node.Path)
	if err != nil {
		return nil, err
	}
	out := subtree[:0]
	for _, d := range subtree {
		if d.ID != node.ID {
			out = append(out, d)
		}
	}
	return out, nil
}
