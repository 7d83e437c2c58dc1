package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
)

// SessionRepo persists login sessions.
type SessionRepo interface {
	// Replace revokes every live session for the session's (user, tenant)
	// pair and inserts the new row, in one transaction. replaced, when set,
	// is consumed with a conditional UPDATE and recorded as predecessor of
	// the new row (refresh rotation): of any number of concurrent rotations
	// of the same session exactly one succeeds, the rest get an
	// authentication error.
	Replace(ctx context.Context, s model.Session, replaced *uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (model.Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (model.Session, error)
	// RevokeAll marks every live session for the (user, tenant) pair revoked.
	// Idempotent.
	RevokeAll(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID) error
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a SessionRepo backed by Postgres.
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, user_id, tenant_id, refresh_token_hash, expires_at, created_at, revoked_at, replaced_by`

func scanSession(scan func(dest ...any) error) (model.Session, error) {
	var s model.Session
	var idStr, userStr string
	var tenantStr, replacedByStr sql.NullString
	if err := scan(&idStr, &userStr, &tenantStr, &s.RefreshTokenHash, &s.ExpiresAt, &s.CreatedAt, &s.RevokedAt, &replacedByStr); err != nil {
		return model.Session{}, err
	}
	var err error
	s.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse session ID: %w", err)
	}
	s.UserID, err = uuid.Parse(userStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse user ID: %w", err)
	}
	s.TenantID, err = scanUUIDPtr(tenantStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse tenant ID: %w", err)
	}
	s.ReplacedBy, err = scanUUIDPtr(replacedByStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse successor ID: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) Replace(ctx context.Context, s model.Session, replaced *uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin tx", err)
	}
	defer tx.Rollback()

	// Serialize per login identity so two concurrent logins cannot both
	// insert a live row. NULL tenant (platform principals) hashes to a
	// fixed key.
	_, err = tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1::text), hashtext(coalesce($2::text, '')))`,
		s.UserID, uuidArg(s.TenantID))
	if err != nil {
		return dbErr("advisory lock", err)
	}

	if replaced != nil {
		// Consume the rotated session. The conditional UPDATE is what makes
		// rotation single-use: of any number of concurrent refreshes only one
		// sees the live row, the rest roll back here.
		result, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET revoked_at = now()
			WHERE id = $1 AND revoked_at IS NULL
		`, *replaced)
		if err != nil {
			return dbErr("consume rotated session", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return apperr.New(apperr.KindAuthentication, "session already rotated")
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = now()
		WHERE user_id = $1
		  AND tenant_id IS NOT DISTINCT FROM $2
		  AND revoked_at IS NULL
	`, s.UserID, uuidArg(s.TenantID))
	if err != nil {
		return dbErr("revoke prior sessions", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, tenant_id, refresh_token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.UserID, uuidArg(s.TenantID), s.RefreshTokenHash, s.ExpiresAt)
	if err != nil {
		return dbErr("insert session", err)
	}

	if replaced != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET replaced_by = $2 WHERE id = $1
		`, *replaced, s.ID)
		if err != nil {
			return dbErr("record session successor", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit session replace", err)
	}
	return nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
	`, id)
	s, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, apperr.New(apperr.KindNotFound, "session not found")
		}
		return model.Session{}, dbErr("query session", err)
	}
	return s, nil
}

func (r *sessionRepo) FindByRefreshHash(ctx context.Context, hash string) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE refresh_token_hash = $1
	`, hash)
	s, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, apperr.New(apperr.KindNotFound, "session not found")
		}
		return model.Session{}, dbErr("query session by refresh hash", err)
	}
	return s, nil
}

func (r *sessionRepo) RevokeAll(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = now()
		WHERE user_id = $1
		  AND tenant_id IS NOT DISTINCT FROM $2
		  AND revoked_at IS NULL
	`, userID, uuidArg(tenantID))
	if err != nil {
		return dbErr("revoke all sessions", err)
	}
	return nil
}
