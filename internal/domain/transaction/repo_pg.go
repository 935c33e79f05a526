package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmos/compliance/internal/platform/db"
	"github.com/pharmos/compliance/internal/platform/occ"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const txCols = `id, external_id, customer_id, data_area_id, transaction_date, type,
	lines, status, violations, approver_id, reason_code, justification, authority_ref,
	caller_system, version, created_at, updated_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var lines, violations []byte
	var version int64
	err := row.Scan(&t.ID, &t.ExternalID, &t.CustomerID, &t.DataAreaID, &t.Date, &t.Type,
		&lines, &t.Status, &violations, &t.ApproverID, &t.ReasonCode, &t.Justification,
		&t.AuthorityRef, &t.CallerSystem, &version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, occ.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Version = occ.Version(version)
	if err := json.Unmarshal(lines, &t.Lines); err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &t.Violations); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *Transaction) error {
	t.ID = uuid.New()
	t.Version = 1
	lines, err := json.Marshal(t.Lines)
	if err != nil {
		return err
	}
	violations, err := json.Marshal(t.Violations)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO compliance_transaction (id, external_id, customer_id, data_area_id,
			transaction_date, type, lines, status, violations, approver_id, reason_code,
			justification, authority_ref, caller_system, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.ID, t.ExternalID, t.CustomerID, t.DataAreaID, t.Date, t.Type,
		lines, t.Status, violations, t.ApproverID, t.ReasonCode,
		t.Justification, t.AuthorityRef, t.CallerSystem, int64(t.Version))
	if err != nil {
		return err
	}

	// Lines are also flattened into a relational table for threshold usage
	// queries.
	for _, line := range t.Lines {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO transaction_line (id, transaction_id, substance_code, quantity, unit)
			VALUES ($1,$2,$3,$4,$5)`,
			uuid.New(), t.ID, line.SubstanceCode, line.Quantity.String(), line.Unit)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return scanTransaction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+txCols+` FROM compliance_transaction WHERE id = $1`, id))
}

func (r *repoPG) GetByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	return scanTransaction(r.conn(ctx).QueryRow(ctx, `
		SELECT `+txCols+` FROM compliance_transaction
		WHERE external_id = $1 ORDER BY created_at DESC LIMIT 1`, externalID))
}

func (r *repoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Transaction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM compliance_transaction `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+txCols+` FROM compliance_transaction %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*Transaction, int, error) {
	return r.list(ctx, `WHERE customer_id = $1`, []interface{}{customerID}, limit, offset)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Transaction, int, error) {
	return r.list(ctx, ``, nil, limit, offset)
}

func (r *repoPG) UpdateVersioned(ctx context.Context, t *Transaction, expected occ.Version) (occ.Version, error) {
	newVersion := expected + 1
	violations, err := json.Marshal(t.Violations)
	if err != nil {
		return 0, err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE compliance_transaction
		SET status=$2, violations=$3, approver_id=$4, reason_code=$5,
			justification=$6, authority_ref=$7, version=$8, updated_at=now()
		WHERE id=$1 AND version=$9`,
		t.ID, t.Status, violations, t.ApproverID, t.ReasonCode,
		t.Justification, t.AuthorityRef, int64(newVersion), int64(expected))
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, t.ID); err != nil {
			return 0, err
		}
		return 0, occ.ErrVersionMismatch
	}
	t.Version = newVersion
	return newVersion, nil
}
