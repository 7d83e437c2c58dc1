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

// WhitelistRepo defines invitation repository operations.
type WhitelistRepo interface {
	GetByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (model.WhitelistEntry, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.WhitelistEntry, error)
	// MarkExpired flips a PENDING entry to EXPIRED. Idempotent: an entry
	// already in a terminal state is left untouched.
	MarkExpired(ctx context.Context, id uuid.UUID) error
	// CompleteRegistration creates the user and flips the entry to REGISTERED
	// in one transaction; either both writes happen or neither does. The
	// entry must still be PENDING inside the transaction.
	CompleteRegistration(ctx context.Context, entryID uuid.UUID, user model.User) (model.User, error)
}

type whitelistRepo struct {
	db *sql.DB
}

// NewWhitelistRepo creates a WhitelistRepo backed by Postgres.
func NewWhitelistRepo(db *sql.DB) WhitelistRepo {
	return &whitelistRepo{db: db}
}

const whitelistColumns = `id, tenant_id, phone, status, expires_at, invited_by, created_at`

func scanWhitelistEntry(scan func(dest ...any) error) (model.WhitelistEntry, error) {
	var e model.WhitelistEntry
	var idStr, tenantStr string
	var invitedBy sql.NullString
	if err := scan(&idStr, &tenantStr, &e.Phone, &e.Status, &e.ExpiresAt, &invitedBy, &e.CreatedAt); err != nil {
		return model.WhitelistEntry{}, err
	}
	var err error
	e.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.WhitelistEntry{}, fmt.Errorf("parse entry ID: %w", err)
	}
	e.TenantID, err = uuid.Parse(tenantStr)
	if err != nil {
		return model.WhitelistEntry{}, fmt.Errorf("parse tenant ID: %w", err)
	}
	e.InvitedBy, err = scanUUIDPtr(invitedBy)
	if err != nil {
		return model.WhitelistEntry{}, fmt.Errorf("parse inviter ID: %w", err)
	}
	return e, nil
}

func (r *whitelistRepo) GetByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (model.WhitelistEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+whitelistColumns+`
		FROM whitelist_entries
		WHERE tenant_id = $1 AND phone = $2
	`, tenantID, phone)
	e, err := scanWhitelistEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WhitelistEntry{}, apperr.New(apperr.KindNotFound, "whitelist entry not found")
		}
		return model.WhitelistEntry{}, dbErr("query whitelist entry", err)
	}
	return e, nil
}

func (r *whitelistRepo) GetByID(ctx context.Context, id uuid.UUID) (model.WhitelistEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+whitelistColumns+`
		FROM whitelist_entries
		WHERE id = $1
	`, id)
	e, err := scanWhitelistEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WhitelistEntry{}, apperr.New(apperr.KindNotFound, "whitelist entry not found")
		}
		return model.WhitelistEntry{}, dbErr("query whitelist entry", err)
	}
	return e, nil
}

func (r *whitelistRepo) MarkExpired(ctx context.Context, id uuid.UUID) error {
	// Conditional on PENDING so terminal states never re-transition.
	_, err := r.db.ExecContext(ctx, `
		UPDATE whitelist_entries
		SET status = $2
		WHERE id = $1 AND status = $3
	`, id, model.WhitelistExpired, model.WhitelistPending)
	if err != nil {
		return dbErr("mark whitelist entry expired", err)
	}
	return nil
}

func (r *whitelistRepo) CompleteRegistration(ctx context.Context, entryID uuid.UUID, user model.User) (model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, dbErr("begin tx", err)
	}
	defer tx.Rollback()

	// Claim the entry first. The conditional UPDATE serializes concurrent
	// completions: only one caller sees a row flip from PENDING.
	result, err := tx.ExecContext(ctx, `
		UPDATE whitelist_entries
		SET status = $2
		WHERE id = $1 AND status = $3
	`, entryID, model.WhitelistRegistered, model.WhitelistPending)
	if err != nil {
		return model.User{}, dbErr("register whitelist entry", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return model.User{}, apperr.New(apperr.KindValidation, "invitation is no longer pending")
	}

	var idStr string
	var createdAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (tenant_id, platform, username, email, phone, full_name,
		                   password_hash, role_code, role_level, department, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, uuidArg(user.TenantID), user.Platform, user.Username, user.Email, user.Phone,
		user.FullName, user.PasswordHash, user.RoleCode, user.RoleLevel, user.Department, user.Active,
	).Scan(&idStr, &createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, apperr.New(apperr.KindConflict, "username, email or phone already registered")
		}
		return model.User{}, dbErr("insert user", err)
	}

	if err := tx.Commit(); err != nil {
		return model.User{}, dbErr("commit registration", err)
	}

	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	if createdAt.Valid {
		user.CreatedAt = createdAt.Time
	}
	return user, nil
}
