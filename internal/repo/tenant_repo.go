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

// TenantRepo defines tenant lookups.
type TenantRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Tenant, error)
}

type tenantRepo struct {
	db *sql.DB
}

// NewTenantRepo creates a TenantRepo backed by Postgres.
func NewTenantRepo(db *sql.DB) TenantRepo {
	return &tenantRepo{db: db}
}

func (r *tenantRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Tenant, error) {
	query := `
		SELECT id, name, active, created_at
		FROM tenants
		WHERE id = $1
	`
	var t model.Tenant
	var idStr string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&idStr, &t.Name, &t.Active, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Tenant{}, apperr.New(apperr.KindNotFound, "tenant not found")
		}
		return model.Tenant{}, dbErr("query tenant", err)
	}
	t.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("parse tenant ID: %w", err)
	}
	return t, nil
}
