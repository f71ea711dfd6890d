// Package hierarchy owns the sub-organization tree: a materialized-path
// forest with bounded depth, cascading deactivation and path re-linking on
// reparent. Nodes are addressed by stable ids through the store rather than
// mutable object graphs; the path string is the sole mechanism for
// ancestor/descendant queries.
package hierarchy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxLevel bounds the tree depth. Level 1 nodes attach directly under the
// owning organization, which sits at level 0 conceptually.
const MaxLevel = 5

var (
	ErrNotFound      = errors.New("hierarchy: not found")
	ErrDomainRule    = errors.New("hierarchy: domain rule violation")
	ErrDepthExceeded = fmt.Errorf("%w: depth exceeds max level", ErrDomainRule)
	ErrCycle         = fmt.Errorf("%w: node cannot become its own descendant", ErrDomainRule)
)

// Status is the lifecycle state of a sub-organization.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// SubOrganization is a node in the tenant tree.
//
// Invariants: Path == parentPath + ID + "/" ("/"+ID+"/" for roots),
// Level == parentLevel + 1 (1 for roots), Level <= MaxLevel. Every
// descendant's path is prefixed by every ancestor's path.
type SubOrganization struct {
	ID             string
	OrganizationID string
	ParentID       string // empty means direct child of the organization
	Name           string
	Description    string
	Code           string
	Status         Status
	Path           string
	Level          int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsDescendantOf reports whether n sits underneath ancestor. Pure
// string-prefix test, O(path length); no recursive queries.
func (n *SubOrganization) IsDescendantOf(ancestor *SubOrganization) bool {
	return strings.HasPrefix(n.Path, ancestor.Path)
}

// IsAncestorOf is the mirror of IsDescendantOf.
func (n *SubOrganization) IsAncestorOf(descendant *SubOrganization) bool {
	return strings.HasPrefix(descendant.Path, n.Path)
}

// AncestorIDs parses the path into the ordered ancestor chain, excluding the
// node itself.
func (n *SubOrganization) AncestorIDs() []string {
	segments := strings.Split(strings.Trim(n.Path, "/"), "/")
	var out []string
	for _, seg := range segments {
		if seg == "" || seg == n.ID {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// childPath derives a node's path from its parent's ("" for roots).
func childPath(parentPath, id string) string {
	if parentPath == "" {
		return "/" + id + "/"
	}
	return parentPath + id + "/"
}

// containsSegment reports whether id appears as a full path segment.
func containsSegment(path, id string) bool {
	return strings.Contains(path, "/"+id+"/")
}
