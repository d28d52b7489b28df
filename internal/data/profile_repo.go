package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/target/sessionsync/internal/data/pgxutil"
	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
)

// ProfileRepo reads and provisions rows in the profiles table.
// It serves as both the role lookup and the default-profile provisioner.
type ProfileRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	defaultRole  session.Role
}

// ProfileRepoOptions configures NewProfileRepo.
type ProfileRepoOptions struct {
	DB           *sql.DB
	TimeProvider TimeProvider
	// DefaultRole is assigned by CreateDefault. Defaults to session.DefaultProvisionedRole.
	DefaultRole session.Role
}

// NewProfileRepo creates a new ProfileRepo.
func NewProfileRepo(opts ProfileRepoOptions) *ProfileRepo {
	role := opts.DefaultRole
	if !role.Valid() || role == session.RoleUnknown {
		role = session.DefaultProvisionedRole
	}
	return &ProfileRepo{
		DB:           opts.DB,
		timeProvider: nowOrReal(opts.TimeProvider),
		defaultRole:  role,
	}
}

// FetchRole returns the role stored for identityID.
// A missing row yields RoleNotFound; a row whose role is NULL or blank yields RoleAmbiguous.
// Stored values outside the known set map to session.RoleUnknown.
func (r *ProfileRepo) FetchRole(ctx context.Context, identityID string) (session.Role, error) {
	if strings.TrimSpace(identityID) == "" {
		return session.RoleUnknown, ErrIdentityIDRequired
	}

	return fetchRole(ctx, r.DB, identityID)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func fetchRole(ctx context.Context, q rowQueryer, identityID string) (session.Role, error) {
	var role sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT role FROM profiles WHERE user_id = $1`, identityID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return session.RoleUnknown, apperrors.RoleNotFound(identityID)
	}
	if err != nil {
		return session.RoleUnknown, fmt.Errorf("fetch role: %w", apperrors.MapDBError(err))
	}

	if !role.Valid || strings.TrimSpace(role.String) == "" {
		return session.RoleUnknown, apperrors.RoleAmbiguous(identityID)
	}
	return session.ParseRole(role.String), nil
}

// CreateDefault provisions a profile with the default role. An existing row keeps its role
// unless the role is NULL, in which case the default is filled in. The stored role is re-read
// in the same transaction so concurrent provisioners agree on the result.
func (r *ProfileRepo) CreateDefault(ctx context.Context, identity session.Identity) (session.Role, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return session.RoleUnknown, ErrIdentityIDRequired
	}
	if strings.TrimSpace(identity.Email) == "" {
		return session.RoleUnknown, ErrEmailRequired
	}

	now := r.timeProvider.Now().UTC()
	role := session.RoleUnknown
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO profiles (user_id, email, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (user_id) DO UPDATE
				SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at
				WHERE profiles.role IS NULL OR profiles.role = ''`,
			identity.ID, strings.TrimSpace(identity.Email), string(r.defaultRole), now,
		)
		if execErr != nil {
			return fmt.Errorf("provision profile: %w", apperrors.MapDBError(execErr))
		}
		var fetchErr error
		role, fetchErr = fetchRole(ctx, tx, identity.ID)
		return fetchErr
	}})
	if err != nil {
		return session.RoleUnknown, err
	}
	return role, nil
}

// SetRole assigns role to an existing profile. It reports RoleNotFound when no row matches.
func (r *ProfileRepo) SetRole(ctx context.Context, identityID string, role session.Role) error {
	if strings.TrimSpace(identityID) == "" {
		return ErrIdentityIDRequired
	}
	if !role.Valid() || role == session.RoleUnknown {
		return apperrors.Validation(fmt.Sprintf("invalid role %q", role))
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE profiles SET role = $2, updated_at = $3 WHERE user_id = $1`,
		identityID, string(role), r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set role: %w", apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set role rows: %w", err)
	}
	if n == 0 {
		return apperrors.RoleNotFound(identityID)
	}
	return nil
}
