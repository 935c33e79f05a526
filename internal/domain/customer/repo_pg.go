package customer

import (
	"context"
	"errors"
	"time"

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

const customerCols = `account_id, data_area_id, name, business_category, approval_status,
	suspended, gdp_qualification, reverification_due, version, created_at, updated_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	var version int64
	err := row.Scan(&c.AccountID, &c.DataAreaID, &c.Name, &c.BusinessCategory, &c.ApprovalStatus,
		&c.Suspended, &c.GDPQualification, &c.ReVerificationDue, &version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, occ.ErrNotFound
	}
	c.Version = occ.Version(version)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Customer) error {
	c.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO customer_compliance (account_id, data_area_id, name, business_category,
			approval_status, suspended, gdp_qualification, reverification_due, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.AccountID, c.DataAreaID, c.Name, c.BusinessCategory,
		c.ApprovalStatus, c.Suspended, c.GDPQualification, c.ReVerificationDue, int64(c.Version))
	return err
}

func (r *repoPG) Get(ctx context.Context, dataAreaID, accountID string) (*Customer, error) {
	return scanCustomer(r.conn(ctx).QueryRow(ctx, `
		SELECT `+customerCols+` FROM customer_compliance
		WHERE data_area_id = $1 AND account_id = $2`, dataAreaID, accountID))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Customer, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM customer_compliance`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+customerCols+` FROM customer_compliance
		ORDER BY data_area_id, account_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ReVerificationDueBefore(ctx context.Context, cutoff time.Time) ([]*Customer, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+customerCols+` FROM customer_compliance
		WHERE reverification_due IS NOT NULL AND reverification_due < $1
		ORDER BY reverification_due`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repoPG) UpdateVersioned(ctx context.Context, c *Customer, expected occ.Version) (occ.Version, error) {
	newVersion := expected + 1
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE customer_compliance
		SET name=$3, business_category=$4, approval_status=$5, suspended=$6,
			gdp_qualification=$7, reverification_due=$8, version=$9, updated_at=now()
		WHERE data_area_id=$1 AND account_id=$2 AND version=$10`,
		c.DataAreaID, c.AccountID, c.Name, c.BusinessCategory, c.ApprovalStatus, c.Suspended,
		c.GDPQualification, c.ReVerificationDue, int64(newVersion), int64(expected))
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, c.DataAreaID, c.AccountID); err != nil {
			return 0, err
		}
		return 0, occ.ErrVersionMismatch
	}
	c.Version = newVersion
	return newVersion, nil
}
