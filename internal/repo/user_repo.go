package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
)

// UserRepo defines user repository operations.
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	// GetByLogin finds a tenant user by username within its tenant.
	GetByLogin(ctx context.Context, tenantID uuid.UUID, username string) (model.User, error)
	// FindConflict returns the name of the first field ("username" or "email")
	// already taken within the tenant, or "" when both are free.
	FindConflict(ctx context.Context, tenantID uuid.UUID, username, email string) (string, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a UserRepo backed by Postgres.
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `
	id, tenant_id, platform, username, email, phone, full_name, password_hash,
	role_code, role_level, department, active, last_login_at, created_at
`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	var idStr string
	var tenantID sql.NullString
	var department sql.NullString
	err := row.Scan(
		&idStr,
		&tenantID,
		&u.Platform,
		&u.Username,
		&u.Email,
		&u.Phone,
		&u.FullName,
		&u.PasswordHash,
		&u.RoleCode,
		&u.RoleLevel,
		&department,
		&u.Active,
		&u.LastLoginAt,
		&u.CreatedAt,
	)
	if err != nil {
		return model.User{}, err
	}
	u.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	u.TenantID, err = scanUUIDPtr(tenantID)
	if err != nil {
		return model.User{}, fmt.Errorf("parse tenant ID: %w", err)
	}
	if department.Valid {
		d := department.String
		u.Department = &d
	}
	return u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, apperr.New(apperr.KindNotFound, "user not found")
		}
		return model.User{}, dbErr("query user", err)
	}
	return u, nil
}

func (r *userRepo) GetByLogin(ctx context.Context, tenantID uuid.UUID, username string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE tenant_id = $1 AND username = $2
	`, tenantID, username)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, apperr.New(apperr.KindNotFound, "user not found")
		}
		return model.User{}, dbErr("query user by login", err)
	}
	return u, nil
}

func (r *userRepo) FindConflict(ctx context.Context, tenantID uuid.UUID, username, email string) (string, error) {
	var usernameTaken, emailTaken bool
	err := r.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM users WHERE tenant_id = $1 AND username = $2),
			EXISTS (SELECT 1 FROM users WHERE tenant_id = $1 AND email = $3)
	`, tenantID, username, email).Scan(&usernameTaken, &emailTaken)
	if err != nil {
		return "", dbErr("check user conflict", err)
	}
	if usernameTaken {
		return "username", nil
	}
	if emailTaken {
		return "email", nil
	}
	return "", nil
}

func (r *userRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return dbErr("update last login", err)
	}
	return nil
}

func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return dbErr("update password", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "user not found")
	}
	return nil
}
