package threshold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pharmos/compliance/internal/platform/db"
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

const thresholdCols = `id, customer_id, substance_code, kind, limit_value, unit, window_days, created_at`

func scanThreshold(row pgx.Row) (*Threshold, error) {
	var t Threshold
	var limit string
	err := row.Scan(&t.ID, &t.CustomerID, &t.SubstanceCode, &t.Kind, &limit, &t.Unit, &t.WindowDays, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("threshold not found")
	}
	if err != nil {
		return nil, err
	}
	t.Limit, err = decimal.NewFromString(limit)
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *Threshold) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO threshold (id, customer_id, substance_code, kind, limit_value, unit, window_days)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.CustomerID, t.SubstanceCode, t.Kind, t.Limit.String(), t.Unit, t.WindowDays)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Threshold, error) {
	return scanThreshold(r.conn(ctx).QueryRow(ctx,
		`SELECT `+thresholdCols+` FROM threshold WHERE id = $1`, id))
}

func (r *repoPG) collect(rows pgx.Rows) ([]*Threshold, error) {
	defer rows.Close()
	var out []*Threshold
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) ForCustomerSubstance(ctx context.Context, customerID, substanceCode string) ([]*Threshold, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+thresholdCols+` FROM threshold
		WHERE customer_id = $1 AND substance_code = $2 ORDER BY kind`, customerID, substanceCode)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Threshold, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM threshold`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+thresholdCols+` FROM threshold
		ORDER BY customer_id, substance_code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := r.collect(rows)
	return out, total, err
}

func (r *repoPG) Update(ctx context.Context, t *Threshold) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE threshold SET kind=$2, limit_value=$3, unit=$4, window_days=$5 WHERE id=$1`,
		t.ID, t.Kind, t.Limit.String(), t.Unit, t.WindowDays)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("threshold not found")
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM threshold WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("threshold not found")
	}
	return nil
}

func (r *repoPG) UsageSince(ctx context.Context, customerID, substanceCode string, since time.Time) (Usage, error) {
	var quantity string
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(sum(l.quantity), 0)::text, count(DISTINCT t.id)
		FROM compliance_transaction t
		JOIN transaction_line l ON l.transaction_id = t.id
		WHERE t.customer_id = $1 AND l.substance_code = $2
		  AND t.transaction_date >= $3
		  AND t.status IN ('Pass', 'OverrideApproved')`,
		customerID, substanceCode, since).Scan(&quantity, &count)
	if err != nil {
		return Usage{}, err
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Quantity: q, Count: count}, nil
}
