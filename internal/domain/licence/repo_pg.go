package licence

import (
	"context"
	"errors"
	"time"

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

const licenceCols = `id, number, type_id, holder_kind, holder_id, authority,
	issue_date, expiry_date, grace_period_end, status, activities, version,
	created_at, updated_at`

func scanLicence(row pgx.Row) (*Licence, error) {
	var l Licence
	var activities int32
	var version int64
	err := row.Scan(&l.ID, &l.Number, &l.TypeID, &l.HolderKind, &l.HolderID, &l.Authority,
		&l.IssueDate, &l.ExpiryDate, &l.GracePeriodEnd, &l.Status, &activities, &version,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, occ.ErrNotFound
	}
	l.Activities = Activity(activities)
	l.Version = occ.Version(version)
	return &l, err
}

func (r *repoPG) Create(ctx context.Context, l *Licence) error {
	l.ID = uuid.New()
	l.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO licence (id, number, type_id, holder_kind, holder_id, authority,
			issue_date, expiry_date, grace_period_end, status, activities, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		l.ID, l.Number, l.TypeID, l.HolderKind, l.HolderID, l.Authority,
		l.IssueDate, l.ExpiryDate, l.GracePeriodEnd, l.Status, int32(l.Activities), int64(l.Version))
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Licence, error) {
	return scanLicence(r.conn(ctx).QueryRow(ctx,
		`SELECT `+licenceCols+` FROM licence WHERE id = $1`, id))
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Licence, error) {
	return scanLicence(r.conn(ctx).QueryRow(ctx,
		`SELECT `+licenceCols+` FROM licence WHERE number = $1`, number))
}

func (r *repoPG) collect(rows pgx.Rows) ([]*Licence, error) {
	defer rows.Close()
	var out []*Licence
	for rows.Next() {
		l, err := scanLicence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repoPG) ListByHolder(ctx context.Context, holderKind, holderID string) ([]*Licence, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+licenceCols+` FROM licence
		WHERE holder_kind = $1 AND holder_id = $2 ORDER BY expiry_date DESC`, holderKind, holderID)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *repoPG) ListBySubstance(ctx context.Context, substanceCode string) ([]*Licence, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT `+prefixCols("l.")+` FROM licence l
		JOIN licence_substance_mapping m ON m.licence_id = l.id
		WHERE m.substance_code = $1 ORDER BY l.expiry_date DESC`, substanceCode)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

// prefixCols qualifies the licence column list for joined queries.
func prefixCols(prefix string) string {
	return prefix + `id, ` + prefix + `number, ` + prefix + `type_id, ` + prefix + `holder_kind, ` +
		prefix + `holder_id, ` + prefix + `authority, ` + prefix + `issue_date, ` + prefix + `expiry_date, ` +
		prefix + `grace_period_end, ` + prefix + `status, ` + prefix + `activities, ` + prefix + `version, ` +
		prefix + `created_at, ` + prefix + `updated_at`
}

func (r *repoPG) ExpiringBefore(ctx context.Context, cutoff time.Time) ([]*Licence, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+licenceCols+` FROM licence
		WHERE status = $1 AND expiry_date < $2
		  AND (grace_period_end IS NULL OR grace_period_end < $2)
		ORDER BY expiry_date`, StatusValid, cutoff)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Licence, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM licence`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+licenceCols+` FROM licence ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := r.collect(rows)
	return out, total, err
}

func (r *repoPG) UpdateVersioned(ctx context.Context, l *Licence, expected occ.Version) (occ.Version, error) {
	newVersion := expected + 1
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE licence
		SET number=$2, type_id=$3, holder_kind=$4, holder_id=$5, authority=$6,
			issue_date=$7, expiry_date=$8, grace_period_end=$9, status=$10,
			activities=$11, version=$12, updated_at=now()
		WHERE id=$1 AND version=$13`,
		l.ID, l.Number, l.TypeID, l.HolderKind, l.HolderID, l.Authority,
		l.IssueDate, l.ExpiryDate, l.GracePeriodEnd, l.Status,
		int32(l.Activities), int64(newVersion), int64(expected))
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		// Either the row is gone or the version moved under us.
		if _, err := r.GetByID(ctx, l.ID); err != nil {
			return 0, err
		}
		return 0, occ.ErrVersionMismatch
	}
	l.Version = newVersion
	return newVersion, nil
}

func (r *repoPG) CreateType(ctx context.Context, t *LicenceType) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO licence_type (id, name, activities, active) VALUES ($1,$2,$3,$4)`,
		t.ID, t.Name, int32(t.Activities), t.Active)
	return err
}

func (r *repoPG) GetType(ctx context.Context, id uuid.UUID) (*LicenceType, error) {
	var t LicenceType
	var activities int32
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, activities, active FROM licence_type WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &activities, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, occ.ErrNotFound
	}
	t.Activities = Activity(activities)
	return &t, err
}

func (r *repoPG) ListTypes(ctx context.Context) ([]*LicenceType, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, activities, active FROM licence_type ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LicenceType
	for rows.Next() {
		var t LicenceType
		var activities int32
		if err := rows.Scan(&t.ID, &t.Name, &activities, &t.Active); err != nil {
			return nil, err
		}
		t.Activities = Activity(activities)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *repoPG) AddMapping(ctx context.Context, m *SubstanceMapping) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO licence_substance_mapping (id, licence_id, substance_code, effective_from, effective_to)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.LicenceID, m.SubstanceCode, m.EffectiveFrom, m.EffectiveTo)
	return err
}

func (r *repoPG) RemoveMapping(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM licence_substance_mapping WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return occ.ErrNotFound
	}
	return nil
}

func (r *repoPG) collectMappings(rows pgx.Rows) ([]*SubstanceMapping, error) {
	defer rows.Close()
	var out []*SubstanceMapping
	for rows.Next() {
		var m SubstanceMapping
		if err := rows.Scan(&m.ID, &m.LicenceID, &m.SubstanceCode, &m.EffectiveFrom, &m.EffectiveTo); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *repoPG) MappingsByLicence(ctx context.Context, licenceID uuid.UUID) ([]*SubstanceMapping, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, licence_id, substance_code, effective_from, effective_to
		FROM licence_substance_mapping WHERE licence_id = $1 ORDER BY effective_from`, licenceID)
	if err != nil {
		return nil, err
	}
	return r.collectMappings(rows)
}

func (r *repoPG) MappingsBySubstance(ctx context.Context, substanceCode string) ([]*SubstanceMapping, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, licence_id, substance_code, effective_from, effective_to
		FROM licence_substance_mapping WHERE substance_code = $1 ORDER BY effective_from`, substanceCode)
	if err != nil {
		return nil, err
	}
	return r.collectMappings(rows)
}
