package pg

import (
	"context"
	"database/sql"
	"errors"

	"orgmesh.org/internal/hierarchy"
	"orgmesh.org/internal/ids"
)

// Tree returns the hierarchy store backed by the same pool.
func (s *Store) Tree() hierarchy.Store { return &treeStore{db: s.db} }

type treeStore struct{ db *sql.DB }

var _ hierarchy.Store = (*treeStore)(nil)

const subOrgColumns = `id, organization_id, parent_id, name, description, code, status, path, level, created_at, updated_at`

func scanSubOrg(row interface{ Scan(...any) error }) (*hierarchy.SubOrganization, error) {
	var (
		n      hierarchy.SubOrganization
		parent sql.NullString
	)
	err := row.Scan(&n.ID, &n.OrganizationID, &parent, &n.Name, &n.Description, &n.Code,
		&n.Status, &n.Path, &n.Level, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hierarchy.ErrNotFound
		}
		return nil, err
	}
	n.ParentID = parent.String
	return &n, nil
}

func (s *treeStore) Insert(ctx context.Context, node *hierarchy.SubOrganization) error {
	if node.ID == "" {
		node.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sub_organizations(id, organization_id, parent_id, name, description, code, status, path, level)
		values($1,$2,nullif($3,''),$4,$5,$6,$7,$8,$9)`,
		node.ID, node.OrganizationID, node.ParentID, node.Name, node.Description, node.Code,
		node.Status, node.Path, node.Level)
	return err
}

func (s *treeStore) Find(ctx context.Context, id string) (*hierarchy.SubOrganization, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+subOrgColumns+` from sub_organizations where id=$1 and deleted_at is null`, id)
	return scanSubOrg(row)
}

func (s *treeStore) Subtree(ctx context.Context, pathPrefix string) ([]*hierarchy.SubOrganization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+subOrgColumns+` from sub_organizations
		where path like $1 || '%' and deleted_at is null
		order by path`, pathPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*hierarchy.SubOrganization
	for rows.Next() {
		node, err := scanSubOrg(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, node)
	}
	return result, rows.Err()
}

// UpdateTree applies a reparent batch inside one transaction so an
// interrupted move never leaves paths half-migrated.
func (s *treeStore) UpdateTree(ctx context.Context, nodes []*hierarchy.SubOrganization) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, node := range nodes {
		if _, err := tx.ExecContext(ctx, `
			update sub_organizations
			set parent_id = nullif($2,''), path = $3, level = $4, updated_at = now()
			where id = $1`,
			node.ID, node.ParentID, node.Path, node.Level); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *treeStore) SetStatus(ctx context.Context, id string, status hierarchy.Status) error {
	res, err := s.db.ExecContext(ctx,
		`update sub_organizations set status=$2, updated_at = now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return hierarchy.ErrNotFound
	}
	return nil
}

// DeactivateSubtree flips the whole subtree and its users inactive in a
// single transaction and reports which users were affected.
func (s *treeStore) DeactivateSubtree(ctx context.Context, pathPrefix string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update sub_organizations set status = 'inactive', updated_at = now()
		where path like $1 || '%' and deleted_at is null`, pathPrefix); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		update users set status = 'inactive', updated_at = now()
		where deleted_at is null and sub_organization_id in (
			select id from sub_organizations where path like $1 || '%'
		)
		returning id`, pathPrefix)
	if err != nil {
		return nil, err
	}
	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return userIDs, nil
}
