package reclassification

import (
	"context"
	"errors"

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

func (r *repoPG) InTx(ctx context.Context, fn func(context.Context) error) error {
	if db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(db.WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const reclassCols = `id, substance_code, previous_opium_list, previous_precursor,
	new_opium_list, new_precursor, effective_date, regulatory_ref, status,
	affected_customers, flagged_customers, version, created_at, updated_at`

func scanReclassification(row pgx.Row) (*Reclassification, error) {
	var rec Reclassification
	var version int64
	err := row.Scan(&rec.ID, &rec.SubstanceCode,
		&rec.Previous.OpiumList, &rec.Previous.PrecursorCategory,
		&rec.New.OpiumList, &rec.New.PrecursorCategory,
		&rec.EffectiveDate, &rec.RegulatoryRef, &rec.Status,
		&rec.AffectedCustomers, &rec.FlaggedCustomers, &version,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, occ.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Version = occ.Version(version)
	return &rec, nil
}

func (r *repoPG) Create(ctx context.Context, rec *Reclassification) error {
	rec.ID = uuid.New()
	rec.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO substance_reclassification
			(id, substance_code, previous_opium_list, previous_precursor,
			 new_opium_list, new_precursor, effective_date, regulatory_ref, status, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.SubstanceCode,
		rec.Previous.OpiumList, rec.Previous.PrecursorCategory,
		rec.New.OpiumList, rec.New.PrecursorCategory,
		rec.EffectiveDate, rec.RegulatoryRef, rec.Status, int64(rec.Version))
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reclassification, error) {
	return scanReclassification(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reclassCols+` FROM substance_reclassification WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Reclassification, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM substance_reclassification`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reclassCols+` FROM substance_reclassification
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Reclassification
	for rows.Next() {
		rec, err := scanReclassification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UpdateVersioned(ctx context.Context, rec *Reclassification, expected occ.Version) (occ.Version, error) {
	next := expected + 1
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE substance_reclassification
		SET status=$2, affected_customers=$3, flagged_customers=$4, version=$5, updated_at=now()
		WHERE id=$1 AND version=$6`,
		rec.ID, rec.Status, rec.AffectedCustomers, rec.FlaggedCustomers,
		int64(next), int64(expected))
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, rec.ID); err != nil {
			return 0, err
		}
		return 0, occ.ErrVersionMismatch
	}
	return next, nil
}

const impactCols = `id, reclassification_id, customer_id, substance_code,
	sufficient, gap, requires_requalification, requalified_at, version, created_at`

func scanImpact(row pgx.Row) (*CustomerImpact, error) {
	var i CustomerImpact
	var version int64
	err := row.Scan(&i.ID, &i.ReclassificationID, &i.CustomerID, &i.SubstanceCode,
		&i.Sufficient, &i.Gap, &i.RequiresReQual, &i.ReQualifiedAt, &version, &i.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, occ.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	i.Version = occ.Version(version)
	return &i, nil
}

func (r *repoPG) SaveImpacts(ctx context.Context, impacts []*CustomerImpact) error {
	for _, i := range impacts {
		if i.ID == uuid.Nil {
			i.ID = uuid.New()
		}
		i.Version = 1
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO customer_impact
				(id, reclassification_id, customer_id, substance_code,
				 sufficient, gap, requires_requalification, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			i.ID, i.ReclassificationID, i.CustomerID, i.SubstanceCode,
			i.Sufficient, i.Gap, i.RequiresReQual, int64(i.Version))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetImpact(ctx context.Context, id uuid.UUID) (*CustomerImpact, error) {
	return scanImpact(r.conn(ctx).QueryRow(ctx,
		`SELECT `+impactCols+` FROM customer_impact WHERE id = $1`, id))
}

func (r *repoPG) ImpactsByReclassification(ctx context.Context, id uuid.UUID) ([]*CustomerImpact, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+impactCols+` FROM customer_impact
		WHERE reclassification_id = $1 ORDER BY customer_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CustomerImpact
	for rows.Next() {
		i, err := scanImpact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *repoPG) UpdateImpactVersioned(ctx context.Context, i *CustomerImpact, expected occ.Version) (occ.Version, error) {
	next := expected + 1
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE customer_impact
		SET sufficient=$2, gap=$3, requires_requalification=$4, requalified_at=$5, version=$6
		WHERE id=$1 AND version=$7`,
		i.ID, i.Sufficient, i.Gap, i.RequiresReQual, i.ReQualifiedAt,
		int64(next), int64(expected))
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetImpact(ctx, i.ID); err != nil {
			return 0, err
		}
		return 0, occ.ErrVersionMismatch
	}
	return next, nil
}

func (r *repoPG) OpenImpactSubstances(ctx context.Context, customerID string) (map[string]bool, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT i.substance_code FROM customer_impact i
		JOIN substance_reclassification r ON r.id = i.reclassification_id
		WHERE i.customer_id = $1 AND i.requires_requalification
		  AND i.requalified_at IS NULL AND r.status = $2`,
		customerID, StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out[code] = true
	}
	return out, rows.Err()
}
