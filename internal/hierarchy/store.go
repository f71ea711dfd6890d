package hierarchy

import "context"

// Store describes persistence for the tree. Multi-row operations (UpdateTree,
// DeactivateSubtree) must be atomic: either every row is updated or none,
// so an interrupted reparent can never leave a half-migrated tree.
type Store interface {
	Insert(ctx context.Context, node *SubOrganization) error
	Find(ctx context.Context, id string) (*SubOrganization, error)
	// Subtree returns the node whose path equals the prefix plus every
	// descendant, ordered by path.
	Subtree(ctx context.Context, pathPrefix string) ([]*SubOrganization, error)
	// UpdateTree persists new parent/path/level values for a batch of nodes
	// as a single atomic unit.
	UpdateTree(ctx context.Context, nodes []*SubOrganization) error
	SetStatus(ctx context.Context, id string, status Status) error
	// DeactivateSubtree marks every sub-organization under the prefix
	// inactive together with every user scoped to any of them, atomically,
	// and returns the ids of the deactivated users.
	DeactivateSubtree(ctx context.Context, pathPrefix string) ([]string, error)
}
