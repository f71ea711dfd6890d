package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"orgmesh.org/internal/identity"
	"orgmesh.org/internal/ids"
)

var _ identity.Store = (*Store)(nil)

func (s *Store) Users(ctx context.Context) identity.UserStore  { return &userStore{db: s.db} }
func (s *Store) Roles(ctx context.Context) identity.RoleStore  { return &roleStore{db: s.db} }
func (s *Store) RefreshTokens(ctx context.Context) identity.RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, organization_id, sub_organization_id, email, password_hash, status,
	failed_login_attempts, lockout_end, must_change_password, last_login_at,
	password_reset_token, password_reset_expiry, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*identity.User, error) {
	var (
		u        identity.User
		subOrg   sql.NullString
		reset    sql.NullString
		lockout  sql.NullTime
		lastSeen sql.NullTime
		resetExp sql.NullTime
	)
	err := row.Scan(&u.ID, &u.OrganizationID, &subOrg, &u.Email, &u.PasswordHash, &u.Status,
		&u.FailedLoginAttempts, &lockout, &u.MustChangePassword, &lastSeen,
		&reset, &resetExp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	u.SubOrganizationID = subOrg.String
	u.PasswordResetToken = reset.String
	if lockout.Valid {
		t := lockout.Time
		u.LockoutEnd = &t
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		u.LastLoginAt = &t
	}
	if resetExp.Valid {
		t := resetExp.Time
		u.PasswordResetExpiry = &t
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, organization_id, sub_organization_id, email, password_hash, status, must_change_password)
		values($1,$2,nullif($3,''),$4,$5,$6,$7)`,
		u.ID, u.OrganizationID, u.SubOrganizationID, u.Email, u.PasswordHash, u.Status, u.MustChangePassword,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1 and deleted_at is null`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, orgID, email string) (*identity.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users
		 where organization_id=$1 and email=lower($2) and deleted_at is null`, orgID, email)
	return scanUser(row)
}

func (s *userStore) RecordLoginFailure(ctx context.Context, userID string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		update users set failed_login_attempts = failed_login_attempts + 1, updated_at = now()
		where id=$1
		returning failed_login_attempts`, userID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, identity.ErrNotFound
	}
	return attempts, err
}

func (s *userStore) Lock(ctx context.Context, userID string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set status=$2, lockout_end=$3, updated_at = now() where id=$1`,
		userID, identity.StatusLocked, until)
	return oneRow(res, err)
}

func (s *userStore) RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set failed_login_attempts = 0, lockout_end = null, last_login_at = $2,
			status = case when status = 'locked' then 'active' else status end,
			updated_at = now()
		where id=$1`, userID, at)
	return oneRow(res, err)
}

func (s *userStore) Unlock(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		update users set status='active', failed_login_attempts = 0, lockout_end = null, updated_at = now()
		where id=$1 and status='locked'`, userID)
	return err
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash=$2, must_change_password=false,
			password_reset_token=null, password_reset_expiry=null,
			failed_login_attempts=0, lockout_end=null, updated_at = now()
		where id=$1`, userID, passwordHash)
	return oneRow(res, err)
}

func (s *userStore) UpdateStatus(ctx context.Context, userID string, status identity.UserStatus) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at = now() where id=$1`, userID, status)
	return oneRow(res, err)
}

func (s *userStore) SetPasswordReset(ctx context.Context, userID, token string, expires time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_reset_token=$2, password_reset_expiry=$3, updated_at = now()
		where id=$1`, userID, token, expires)
	return oneRow(res, err)
}

func (s *userStore) AssignSubOrganization(ctx context.Context, userID, subOrgID string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set sub_organization_id = nullif($2,''), updated_at = now() where id=$1`,
		userID, subOrgID)
	return oneRow(res, err)
}

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) Create(ctx context.Context, role *identity.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into roles(id, name, description, is_system, is_active)
		values($1,$2,$3,$4,$5)`,
		role.ID, role.Name, role.Description, role.IsSystem, role.IsActive,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*identity.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, is_system, is_active, created_at, updated_at
		from roles where id=$1`, id)
	var role identity.Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.IsActive,
		&role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*identity.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, is_system, is_active, created_at, updated_at
		from roles where lower(name) = lower($1)`, name)
	var role identity.Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.IsActive,
		&role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) Update(ctx context.Context, role *identity.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set name=$2, description=$3, is_active=$4, updated_at = now()
		where id=$1`,
		role.ID, role.Name, role.Description, role.IsActive)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrAlreadyExists
		}
		return err
	}
	return oneRow(res, nil)
}

func (s *roleStore) RolesForUser(ctx context.Context, userID string) ([]identity.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.is_system, r.is_active,
			p.id, p.code, p.name, p.category
		from user_roles ur
		join roles r on r.id = ur.role_id
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by r.id, p.code`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		result []identity.Role
		cur    *identity.Role
	)
	for rows.Next() {
		var (
			role     identity.Role
			permID   sql.NullString
			permCode sql.NullString
			permName sql.NullString
			permCat  sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.IsActive,
			&permID, &permCode, &permName, &permCat); err != nil {
			return nil, err
		}
		if cur == nil || cur.ID != role.ID {
			result = append(result, role)
			cur = &result[len(result)-1]
		}
		if permID.Valid {
			cur.Permissions = append(cur.Permissions, identity.Permission{
				ID:       permID.String,
				Code:     permCode.String,
				Name:     permName.String,
				Category: identity.PermissionCategory(permCat.String),
			})
		}
	}
	return result, rows.Err()
}

func (s *roleStore) SetPermissions(ctx context.Context, roleID string, codes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions(role_id, permission_id)
			select $1, id from permissions where code=$2`, roleID, code); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *roleStore) AssignToUser(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles(user_id, role_id) values($1,$2) on conflict do nothing`,
		userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return identity.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *roleStore) EnsurePermissions(ctx context.Context, perms []identity.Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions(id, code, name, category)
			values($1,$2,$3,$4) on conflict (code) do nothing`,
			p.ID, p.Code, p.Name, p.Category); err != nil {
			return err
		}
	}
	return nil
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Insert(ctx context.Context, tok *identity.RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens(id, user_id, token, expires_at, created_at)
		values($1,$2,$3,$4,$5)`,
		tok.ID, tok.UserID, tok.Token, tok.ExpiresAt, tok.CreatedAt)
	return err
}

func (s *refreshTokenStore) FindByValue(ctx context.Context, token string) (*identity.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, token, expires_at, created_at, revoked, revoked_at, revoked_reason, replaced_by_token
		from refresh_tokens where token=$1`, token)
	var (
		t         identity.RefreshToken
		revokedAt sql.NullTime
		reason    sql.NullString
		replaced  sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt,
		&t.Revoked, &revokedAt, &reason, &replaced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	t.RevokedReason = reason.String
	t.ReplacedByToken = replaced.String
	return &t, nil
}

// Revoke is the conditional update the rotation contract depends on: the
// where clause only matches a currently-active row, so of two concurrent
// rotations exactly one sees RowsAffected == 1.
func (s *refreshTokenStore) Revoke(ctx context.Context, token, reason, replacedBy string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked = true, revoked_at = $2, revoked_reason = $3, replaced_by_token = nullif($4,'')
		where token = $1 and revoked = false and expires_at > $2`,
		token, at, reason, replacedBy)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrInvalidToken
	}
	return nil
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked = true, revoked_at = $2, revoked_reason = $3
		where user_id = $1 and revoked = false and expires_at > $2`,
		userID, at, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *refreshTokenStore) ListActiveForUser(ctx context.Context, userID string, at time.Time) ([]*identity.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, token, expires_at, created_at
		from refresh_tokens
		where user_id = $1 and revoked = false and expires_at > $2
		order by created_at`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*identity.RefreshToken
	for rows.Next() {
		var t identity.RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &t)
	}
	return result, rows.Err()
}

func oneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}
