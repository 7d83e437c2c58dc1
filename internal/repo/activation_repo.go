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

// ActivationRepo persists activation codes and redemption records.
//
// Redeem is the one concurrency-critical write in this package: the row lock
// taken inside its transaction, not any application-level lock, is what keeps
// used_count <= max_uses under concurrent redemption.
type ActivationRepo interface {
	GetByCode(ctx context.Context, code string) (model.ActivationCode, error)
	// MarkExpired / MarkExhausted are the lazy status flips. Conditional on
	// the current status being active, so re-checks are idempotent and
	// side-effect-free.
	MarkExpired(ctx context.Context, id uuid.UUID) error
	MarkExhausted(ctx context.Context, id uuid.UUID) error
	HasRecord(ctx context.Context, codeID uuid.UUID, deviceID string) (bool, error)
	// Redeem re-fetches the code under a row lock, re-runs every check,
	// inserts the redemption record and increments used_count, flipping the
	// status to exhausted when the cap is reached — all in one transaction.
	// Lazy status flips are committed even when the redemption itself fails.
	Redeem(ctx context.Context, code, deviceID, deviceInfo, ipAddress string) (model.ActivationRecord, error)
}

type activationRepo struct {
	db *sql.DB
}

// NewActivationRepo creates an ActivationRepo backed by Postgres.
func NewActivationRepo(db *sql.DB) ActivationRepo {
	return &activationRepo{db: db}
}

const activationColumns = `id, code, type, tenant_id, max_uses, used_count, valid_until, status, created_at`

func scanActivationCode(scan func(dest ...any) error) (model.ActivationCode, error) {
	var c model.ActivationCode
	var idStr string
	var tenantStr sql.NullString
	if err := scan(&idStr, &c.Code, &c.Type, &tenantStr, &c.MaxUses, &c.UsedCount, &c.ValidUntil, &c.Status, &c.CreatedAt); err != nil {
		return model.ActivationCode{}, err
	}
	var err error
	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.ActivationCode{}, fmt.Errorf("parse code ID: %w", err)
	}
	c.TenantID, err = scanUUIDPtr(tenantStr)
	if err != nil {
		return model.ActivationCode{}, fmt.Errorf("parse tenant ID: %w", err)
	}
	return c, nil
}

func (r *activationRepo) GetByCode(ctx context.Context, code string) (model.ActivationCode, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+activationColumns+`
		FROM activation_codes
		WHERE code = $1
	`, code)
	c, err := scanActivationCode(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ActivationCode{}, apperr.New(apperr.KindNotFound, "activation code not found")
		}
		return model.ActivationCode{}, dbErr("query activation code", err)
	}
	return c, nil
}

func (r *activationRepo) MarkExpired(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE activation_codes
		SET status = $2
		WHERE id = $1 AND status = $3
	`, id, model.ActivationStatusExpired, model.ActivationStatusActive)
	if err != nil {
		return dbErr("mark activation code expired", err)
	}
	return nil
}

func (r *activationRepo) MarkExhausted(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE activation_codes
		SET status = $2
		WHERE id = $1 AND status = $3
	`, id, model.ActivationStatusExhausted, model.ActivationStatusActive)
	if err != nil {
		return dbErr("mark activation code exhausted", err)
	}
	return nil
}

func (r *activationRepo) HasRecord(ctx context.Context, codeID uuid.UUID, deviceID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM activation_records WHERE code_id = $1 AND device_id = $2
		)
	`, codeID, deviceID).Scan(&exists)
	if err != nil {
		return false, dbErr("check activation record", err)
	}
	return exists, nil
}

func (r *activationRepo) Redeem(ctx context.Context, code, deviceID, deviceInfo, ipAddress string) (model.ActivationRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ActivationRecord{}, dbErr("begin tx", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+activationColumns+`
		FROM activation_codes
		WHERE code = $1
		FOR UPDATE
	`, code)
	c, err := scanActivationCode(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ActivationRecord{}, apperr.New(apperr.KindNotFound, "activation code not found")
		}
		return model.ActivationRecord{}, dbErr("lock activation code", err)
	}

	if c.Status != model.ActivationStatusActive {
		return model.ActivationRecord{}, apperr.Newf(apperr.KindValidation, "activation code is %s", c.Status)
	}

	// Lazy flips: commit the status change even though the redemption fails,
	// so the persisted state reflects reality for the next caller.
	if c.ValidUntil != nil && !c.ValidUntil.After(time.Now()) {
		if err := flipStatus(ctx, tx, c.ID, model.ActivationStatusExpired); err != nil {
			return model.ActivationRecord{}, err
		}
		return model.ActivationRecord{}, apperr.New(apperr.KindValidation, "activation code expired")
	}
	if c.UsedCount >= c.MaxUses {
		if err := flipStatus(ctx, tx, c.ID, model.ActivationStatusExhausted); err != nil {
			return model.ActivationRecord{}, err
		}
		return model.ActivationRecord{}, apperr.New(apperr.KindValidation, "activation code exhausted")
	}

	rec := model.ActivationRecord{
		CodeID:     c.ID,
		DeviceID:   deviceID,
		DeviceInfo: deviceInfo,
		IPAddress:  ipAddress,
	}
	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO activation_records (code_id, device_id, device_info, ip_address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, c.ID, deviceID, deviceInfo, ipAddress).Scan(&idStr, &rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ActivationRecord{}, apperr.New(apperr.KindValidation, "device already activated with this code")
		}
		return model.ActivationRecord{}, dbErr("insert activation record", err)
	}
	rec.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.ActivationRecord{}, fmt.Errorf("parse record ID: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE activation_codes
		SET used_count = used_count + 1,
		    status = CASE WHEN used_count + 1 >= max_uses THEN $2 ELSE status END
		WHERE id = $1
	`, c.ID, model.ActivationStatusExhausted)
	if err != nil {
		return model.ActivationRecord{}, dbErr("increment activation use", err)
	}

	if err := tx.Commit(); err != nil {
		return model.ActivationRecord{}, dbErr("commit redemption", err)
	}
	return rec, nil
}

// flipStatus applies a lazy status transition and commits it immediately.
func flipStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status model.ActivationCodeStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE activation_codes
		SET status = $2
		WHERE id = $1 AND status = $3
	`, id, status, model.ActivationStatusActive)
	if err != nil {
		return dbErr("flip activation status", err)
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit status flip", err)
	}
	return nil
}
