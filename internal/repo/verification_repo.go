package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
)

// VerificationRepo persists single-use verification tokens.
type VerificationRepo interface {
	Create(ctx context.Context, token model.VerificationToken) (uuid.UUID, error)
	// Consume atomically marks the token consumed and returns its bound data.
	// The check and the flip are one conditional UPDATE: of any number of
	// concurrent callers exactly one gets the row, the rest get
	// apperr.ErrInvalidToken. Unknown, wrong-purpose, expired and
	// already-consumed tokens are indistinguishable to the caller.
	Consume(ctx context.Context, token, purpose string) (model.VerificationToken, error)
	// CountRecentBySubject counts tokens issued to the subject since the
	// cutoff, consumed or not. Backs the per-phone issue throttle.
	CountRecentBySubject(ctx context.Context, tenantID uuid.UUID, subject, purpose string, since time.Time) (int, error)
}

type verificationRepo struct {
	db *sql.DB
}

// NewVerificationRepo creates a VerificationRepo backed by Postgres.
func NewVerificationRepo(db *sql.DB) VerificationRepo {
	return &verificationRepo{db: db}
}

func (r *verificationRepo) Create(ctx context.Context, token model.VerificationToken) (uuid.UUID, error) {
	payload, err := json.Marshal(token.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode payload: %w", err)
	}

	var idStr string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO verification_tokens (token, purpose, tenant_id, subject, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, token.Token, token.Purpose, token.TenantID, token.Subject, payload, token.ExpiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, dbErr("insert verification token", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token ID: %w", err)
	}
	return id, nil
}

func (r *verificationRepo) Consume(ctx context.Context, token, purpose string) (model.VerificationToken, error) {
	var t model.VerificationToken
	var idStr, tenantStr string
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		UPDATE verification_tokens
		SET consumed = TRUE
		WHERE token = $1
		  AND purpose = $2
		  AND consumed = FALSE
		  AND expires_at > now()
		RETURNING id, tenant_id, subject, payload, expires_at, created_at
	`, token, purpose).Scan(&idStr, &tenantStr, &t.Subject, &payload, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.VerificationToken{}, apperr.ErrInvalidToken
		}
		return model.VerificationToken{}, dbErr("consume verification token", err)
	}

	t.Token = token
	t.Purpose = purpose
	t.Consumed = true
	t.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.VerificationToken{}, fmt.Errorf("parse token ID: %w", err)
	}
	t.TenantID, err = uuid.Parse(tenantStr)
	if err != nil {
		return model.VerificationToken{}, fmt.Errorf("parse tenant ID: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return model.VerificationToken{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return t, nil
}

func (r *verificationRepo) CountRecentBySubject(ctx context.Context, tenantID uuid.UUID, subject, purpose string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM verification_tokens
		WHERE tenant_id = $1 AND subject = $2 AND purpose = $3 AND created_at > $4
	`, tenantID, subject, purpose, since).Scan(&count)
	if err != nil {
		return 0, dbErr("count recent verification tokens", err)
	}
	return count, nil
}
