package ledger

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore is a Store backed by PostgreSQL. Salt rows are locked with
// SELECT ... FOR UPDATE so concurrent settlers on the same database stay consistent.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects using dsn and ensures the schema exists
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

func (p *PostgresStore) SaltRecord(ctx context.Context, salt common.Hash) (SaltRecord, error) {
	return readSaltPostgres(ctx, p.pool, salt, false)
}

func (p *PostgresStore) OrderIDUsed(ctx context.Context, orderID common.Hash) (bool, error) {
	return existsPostgres(ctx, p.pool, `SELECT 1 FROM order_ids WHERE order_id = $1`, orderID.Hex())
}

func (p *PostgresStore) RelayMessageUsed(ctx context.Context, messageID common.Hash) (bool, error) {
	return existsPostgres(ctx, p.pool, `SELECT 1 FROM relay_messages WHERE message_id = $1`, messageID.Hex())
}

func (p *PostgresStore) FailedRelay(ctx context.Context, messageID common.Hash) (FailedRelay, error) {
	return readFailedRelayPostgres(ctx, p.pool, messageID, false)
}

func (p *PostgresStore) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.OriginRef != nil {
		args = append(args, filter.OriginRef.Hex())
		where = append(where, fmt.Sprintf("origin_ref = $%d", len(args)))
	}

	query := `SELECT payload::text FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var e Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applyLimit(events, filter.Limit), nil
}

// pgQueryer is satisfied by *pgxpool.Pool and pgx.Tx
type pgQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readSaltPostgres(ctx context.Context, q pgQueryer, salt common.Hash, forUpdate bool) (SaltRecord, error) {
	query := `SELECT usage, nonce FROM salt_usage WHERE salt = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var usage, nonce string
	err := q.QueryRow(ctx, query, salt.Hex()).Scan(&usage, &nonce)
	if errors.Is(err, pgx.ErrNoRows) {
		return NewSaltRecord(salt), nil
	}
	if err != nil {
		return SaltRecord{}, fmt.Errorf("failed to read salt %s: %w", salt.Hex(), err)
	}
	return parseSaltRecord(salt, usage, nonce)
}

func existsPostgres(ctx context.Context, q pgQueryer, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func readFailedRelayPostgres(ctx context.Context, q pgQueryer, messageID common.Hash, forUpdate bool) (FailedRelay, error) {
	query := `
SELECT order_id, asset, amount, reason, created_at, resolved, resolved_at
FROM failed_relays
WHERE message_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		orderID, asset, amount, reason string
		createdAt                      time.Time
		resolved                       bool
		resolvedAt                     *time.Time
	)
	err := q.QueryRow(ctx, query, messageID.Hex()).Scan(&orderID, &asset, &amount, &reason, &createdAt, &resolved, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return FailedRelay{}, fmt.Errorf("%w: failed relay %s", intent.ErrNotFound, messageID.Hex())
	}
	if err != nil {
		return FailedRelay{}, fmt.Errorf("failed to read failed relay %s: %w", messageID.Hex(), err)
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return FailedRelay{}, fmt.Errorf("corrupt amount %q for failed relay %s", amount, messageID.Hex())
	}
	return FailedRelay{
		MessageID:  messageID,
		OrderID:    common.HexToHash(orderID),
		Asset:      common.HexToAddress(asset),
		Amount:     amt,
		Reason:     reason,
		CreatedAt:  createdAt,
		Resolved:   resolved,
		ResolvedAt: resolvedAt,
	}, nil
}

type postgresTx struct {
	tx   pgx.Tx
	done bool
}

func (t *postgresTx) ConsumeSalt(ctx context.Context, salt common.Hash, nonce *big.Int, quantityType intent.QuantityType, quantity *big.Int) (SaltRecord, error) {
	if t.done {
		return SaltRecord{}, ErrTxDone
	}

	// FOR UPDATE only locks existing rows, so make sure the row exists first
	_, err := t.tx.Exec(ctx, `
INSERT INTO salt_usage (salt, usage, nonce, updated_at)
VALUES ($1, '0', '0', $2)
ON CONFLICT DO NOTHING`, salt.Hex(), time.Now().UTC())
	if err != nil {
		return SaltRecord{}, fmt.Errorf("failed to initialize salt %s: %w", salt.Hex(), err)
	}

	rec, err := readSaltPostgres(ctx, t.tx, salt, true)
	if err != nil {
		return SaltRecord{}, err
	}

	next, _, err := Apply(rec, nonce, quantityType, quantity)
	if err != nil {
		return SaltRecord{}, err
	}

	_, err = t.tx.Exec(ctx, `
INSERT INTO salt_usage (salt, usage, nonce, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (salt) DO UPDATE
SET usage = EXCLUDED.usage,
    nonce = EXCLUDED.nonce,
    updated_at = EXCLUDED.updated_at`,
		salt.Hex(), strconv.FormatUint(next.Usage, 10), next.Nonce.String(), time.Now().UTC())
	if err != nil {
		return SaltRecord{}, fmt.Errorf("failed to write salt %s: %w", salt.Hex(), err)
	}
	return next, nil
}

func (t *postgresTx) ConsumeOrderID(ctx context.Context, orderID common.Hash) error {
	return t.insertOnce(ctx, `INSERT INTO order_ids (order_id, consumed_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		fmt.Errorf("%w: %s", intent.ErrAlreadyUsed, orderID.Hex()), orderID.Hex(), time.Now().UTC())
}

func (t *postgresTx) ConsumeRelayMessage(ctx context.Context, messageID common.Hash) error {
	return t.insertOnce(ctx, `INSERT INTO relay_messages (message_id, consumed_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		fmt.Errorf("%w: %s", intent.ErrAlreadyRelayed, messageID.Hex()), messageID.Hex(), time.Now().UTC())
}

func (t *postgresTx) RecordFailedRelay(ctx context.Context, failed FailedRelay) error {
	return t.insertOnce(ctx, `
INSERT INTO failed_relays (message_id, order_id, asset, amount, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT DO NOTHING`,
		fmt.Errorf("%w: failed relay %s already recorded", intent.ErrAlreadyRelayed, failed.MessageID.Hex()),
		failed.MessageID.Hex(), failed.OrderID.Hex(), failed.Asset.Hex(), failed.Amount.String(), failed.Reason, failed.CreatedAt.UTC())
}

func (t *postgresTx) ResolveFailedRelay(ctx context.Context, messageID common.Hash, resolvedAt time.Time) (FailedRelay, error) {
	if t.done {
		return FailedRelay{}, ErrTxDone
	}

	failed, err := readFailedRelayPostgres(ctx, t.tx, messageID, true)
	if err != nil {
		return FailedRelay{}, err
	}
	if failed.Resolved {
		return FailedRelay{}, fmt.Errorf("%w: failed relay %s", intent.ErrAlreadyResolved, messageID.Hex())
	}

	tag, err := t.tx.Exec(ctx, `UPDATE failed_relays SET resolved = TRUE, resolved_at = $1 WHERE message_id = $2 AND NOT resolved`,
		resolvedAt.UTC(), messageID.Hex())
	if err != nil {
		return FailedRelay{}, fmt.Errorf("failed to resolve relay %s: %w", messageID.Hex(), err)
	}
	if tag.RowsAffected() != 1 {
		return FailedRelay{}, fmt.Errorf("%w: failed relay %s", intent.ErrAlreadyResolved, messageID.Hex())
	}

	failed.Resolved = true
	failed.ResolvedAt = &resolvedAt
	return failed, nil
}

func (t *postgresTx) AppendEvent(ctx context.Context, event Event) error {
	if t.done {
		return ErrTxDone
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO events (id, type, origin_ref, created_at, payload) VALUES ($1, $2, $3, $4, $5::jsonb)`,
		event.ID.String(), string(event.Type), event.OriginRef.Hex(), event.Timestamp.UTC(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Rollback(ctx)
}

func (t *postgresTx) insertOnce(ctx context.Context, query string, conflictErr error, args ...any) error {
	if t.done {
		return ErrTxDone
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return conflictErr
	}
	return nil
}
