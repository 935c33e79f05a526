package substance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const substanceCols = `id, code, name, opium_list_classification, precursor_category,
	active, effective_date, created_at, updated_at`

func scanSubstance(row pgx.Row) (*ControlledSubstance, error) {
	var s ControlledSubstance
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.OpiumListClassification, &s.PrecursorCategory,
		&s.Active, &s.EffectiveDate, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &s, err
}

func (r *repoPG) Create(ctx context.Context, s *ControlledSubstance) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO controlled_substance (id, code, name, opium_list_classification,
			precursor_category, active, effective_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.Code, s.Name, s.OpiumListClassification, s.PrecursorCategory,
		s.Active, s.EffectiveDate)
	return err
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*ControlledSubstance, error) {
	return scanSubstance(r.conn(ctx).QueryRow(ctx,
		`SELECT `+substanceCols+` FROM controlled_substance WHERE code = $1`, code))
}

func (r *repoPG) Update(ctx context.Context, s *ControlledSubstance) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE controlled_substance
		SET name=$2, opium_list_classification=$3, precursor_category=$4,
			active=$5, effective_date=$6, updated_at=now()
		WHERE code=$1`,
		s.Code, s.Name, s.OpiumListClassification, s.PrecursorCategory,
		s.Active, s.EffectiveDate)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*ControlledSubstance, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM controlled_substance`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+substanceCols+` FROM controlled_substance
		ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ControlledSubstance
	for rows.Next() {
		s, err := scanSubstance(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

const classificationCols = `id, substance_code, opium_list_classification,
	precursor_category, effective_from, regulatory_ref`

func scanClassification(row pgx.Row) (*ClassificationRecord, error) {
	var rec ClassificationRecord
	err := row.Scan(&rec.ID, &rec.SubstanceCode, &rec.OpiumList, &rec.Precursor,
		&rec.EffectiveFrom, &rec.RegulatoryRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &rec, err
}

func (r *repoPG) AppendClassification(ctx context.Context, rec *ClassificationRecord) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO substance_classification_history (id, substance_code,
			opium_list_classification, precursor_category, effective_from, regulatory_ref)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.SubstanceCode, rec.OpiumList, rec.Precursor, rec.EffectiveFrom, rec.RegulatoryRef)
	return err
}

func (r *repoPG) ClassificationAt(ctx context.Context, code string, asOf time.Time) (*ClassificationRecord, error) {
	return scanClassification(r.conn(ctx).QueryRow(ctx, `
		SELECT `+classificationCols+` FROM substance_classification_history
		WHERE substance_code = $1 AND effective_from <= $2
		ORDER BY effective_from DESC LIMIT 1`, code, asOf))
}

func (r *repoPG) History(ctx context.Context, code string) ([]*ClassificationRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+classificationCols+` FROM substance_classification_history
		WHERE substance_code = $1 ORDER BY effective_from`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ClassificationRecord
	for rows.Next() {
		rec, err := scanClassification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
