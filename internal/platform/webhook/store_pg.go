package webhook

import (
	"context"
	"errors"
	"fmt"

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

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG returns a Store backed by Postgres.
func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const subCols = `id, url, secret, event_types, status, consecutive_failures, created_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.URL, &sub.Secret, &sub.EventTypes,
		&sub.Status, &sub.ConsecutiveFailures, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subscription not found")
	}
	return &sub, err
}

func (s *storePG) CreateSubscription(ctx context.Context, sub *Subscription) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO webhook_subscription (id, url, secret, event_types, status, consecutive_failures, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		sub.ID, sub.URL, sub.Secret, sub.EventTypes, sub.Status, sub.ConsecutiveFailures, sub.CreatedAt)
	return err
}

func (s *storePG) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	return scanSubscription(s.conn(ctx).QueryRow(ctx,
		`SELECT `+subCols+` FROM webhook_subscription WHERE id = $1`, id))
}

func (s *storePG) ListSubscriptions(ctx context.Context, limit, offset int) ([]*Subscription, int, error) {
	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM webhook_subscription`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+subCols+` FROM webhook_subscription
		ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, err
		}
		subs = append(subs, sub)
	}
	return subs, total, rows.Err()
}

func (s *storePG) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE webhook_subscription
		SET url=$2, secret=$3, event_types=$4, status=$5, consecutive_failures=$6
		WHERE id=$1`,
		sub.ID, sub.URL, sub.Secret, sub.EventTypes, sub.Status, sub.ConsecutiveFailures)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription not found")
	}
	return nil
}

func (s *storePG) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM webhook_subscription WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription not found")
	}
	return nil
}

const deliveryCols = `id, subscription_id, event_id, event_type, payload, signature,
	attempt, next_attempt_at, status, status_code, error, created_at, completed_at`

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventID, &d.EventType, &d.Payload, &d.Signature,
		&d.Attempt, &d.NextAttemptAt, &d.Status, &d.StatusCode, &d.Error, &d.CreatedAt, &d.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("delivery not found")
	}
	return &d, err
}

func (s *storePG) SaveDelivery(ctx context.Context, d *Delivery) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO webhook_delivery (id, subscription_id, event_id, event_type, payload, signature,
			attempt, next_attempt_at, status, status_code, error, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			attempt=EXCLUDED.attempt, next_attempt_at=EXCLUDED.next_attempt_at,
			status=EXCLUDED.status, status_code=EXCLUDED.status_code,
			error=EXCLUDED.error, completed_at=EXCLUDED.completed_at`,
		d.ID, d.SubscriptionID, d.EventID, d.EventType, d.Payload, d.Signature,
		d.Attempt, d.NextAttemptAt, d.Status, d.StatusCode, d.Error, d.CreatedAt, d.CompletedAt)
	return err
}

func (s *storePG) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	return scanDelivery(s.conn(ctx).QueryRow(ctx,
		`SELECT `+deliveryCols+` FROM webhook_delivery WHERE id = $1`, id))
}

func (s *storePG) PendingDeliveries(ctx context.Context) ([]*Delivery, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+deliveryCols+` FROM webhook_delivery
		WHERE status = $1 ORDER BY next_attempt_at`, DeliveryPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *storePG) ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error) {
	return s.listByStatus(ctx, subscriptionID, "", limit, offset)
}

func (s *storePG) ListMissed(ctx context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error) {
	return s.listByStatus(ctx, subscriptionID, DeliveryExhausted, limit, offset)
}

func (s *storePG) listByStatus(ctx context.Context, subscriptionID, status string, limit, offset int) ([]*Delivery, int, error) {
	where := `WHERE subscription_id = $1`
	args := []interface{}{subscriptionID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM webhook_delivery `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := s.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT `+deliveryCols+` FROM webhook_delivery %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}
