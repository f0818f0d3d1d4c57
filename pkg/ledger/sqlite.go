package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteStore is a Store backed by a single SQLite database file
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite creates or opens the ledger database at path.
// The database runs in WAL mode with a single connection, so transactions are serialized.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *SQLiteStore) SaltRecord(ctx context.Context, salt common.Hash) (SaltRecord, error) {
	return readSaltSQLite(ctx, s.db, salt)
}

func (s *SQLiteStore) OrderIDUsed(ctx context.Context, orderID common.Hash) (bool, error) {
	return existsSQLite(ctx, s.db, `SELECT 1 FROM order_ids WHERE order_id = ?`, orderID.Hex())
}

func (s *SQLiteStore) RelayMessageUsed(ctx context.Context, messageID common.Hash) (bool, error) {
	return existsSQLite(ctx, s.db, `SELECT 1 FROM relay_messages WHERE message_id = ?`, messageID.Hex())
}

func (s *SQLiteStore) FailedRelay(ctx context.Context, messageID common.Hash) (FailedRelay, error) {
	return readFailedRelaySQLite(ctx, s.db, messageID)
}

func (s *SQLiteStore) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.OriginRef != nil {
		where = append(where, "origin_ref = ?")
		args = append(args, filter.OriginRef.Hex())
	}

	query := `SELECT payload FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readSaltSQLite(ctx context.Context, q queryer, salt common.Hash) (SaltRecord, error) {
	var usage, nonce string
	err := q.QueryRowContext(ctx, `SELECT usage, nonce FROM salt_usage WHERE salt = ?`, salt.Hex()).Scan(&usage, &nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return NewSaltRecord(salt), nil
	}
	if err != nil {
		return SaltRecord{}, fmt.Errorf("failed to read salt %s: %w", salt.Hex(), err)
	}
	return parseSaltRecord(salt, usage, nonce)
}

func existsSQLite(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func readFailedRelaySQLite(ctx context.Context, q queryer, messageID common.Hash) (FailedRelay, error) {
	var (
		orderID, asset, amount, reason, createdAt string
		resolved                                  bool
		resolvedAt                                sql.NullString
	)
	err := q.QueryRowContext(ctx, `
SELECT order_id, asset, amount, reason, created_at, resolved, resolved_at
FROM failed_relays
WHERE message_id = ?`, messageID.Hex()).Scan(&orderID, &asset, &amount, &reason, &createdAt, &resolved, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FailedRelay{}, fmt.Errorf("%w: failed relay %s", intent.ErrNotFound, messageID.Hex())
	}
	if err != nil {
		return FailedRelay{}, fmt.Errorf("failed to read failed relay %s: %w", messageID.Hex(), err)
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return FailedRelay{}, fmt.Errorf("corrupt amount %q for failed relay %s", amount, messageID.Hex())
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return FailedRelay{}, fmt.Errorf("corrupt created_at for failed relay %s: %w", messageID.Hex(), err)
	}

	failed := FailedRelay{
		MessageID: messageID,
		OrderID:   common.HexToHash(orderID),
		Asset:     common.HexToAddress(asset),
		Amount:    amt,
		Reason:    reason,
		CreatedAt: created,
		Resolved:  resolved,
	}
	if resolvedAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
		if err == nil {
			failed.ResolvedAt = &at
		}
	}
	return failed, nil
}

func parseSaltRecord(salt common.Hash, usage, nonce string) (SaltRecord, error) {
	u, err := strconv.ParseUint(usage, 10, 64)
	if err != nil {
		return SaltRecord{}, fmt.Errorf("corrupt usage %q for salt %s: %w", usage, salt.Hex(), err)
	}
	n, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return SaltRecord{}, fmt.Errorf("corrupt nonce %q for salt %s", nonce, salt.Hex())
	}
	return SaltRecord{Salt: salt, Usage: u, Nonce: n}, nil
}

type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqliteTx) ConsumeSalt(ctx context.Context, salt common.Hash, nonce *big.Int, quantityType intent.QuantityType, quantity *big.Int) (SaltRecord, error) {
	if t.done {
		return SaltRecord{}, ErrTxDone
	}

	rec, err := readSaltSQLite(ctx, t.tx, salt)
	if err != nil {
		return SaltRecord{}, err
	}

	next, _, err := Apply(rec, nonce, quantityType, quantity)
	if err != nil {
		return SaltRecord{}, err
	}

	_, err = t.tx.ExecContext(ctx, `
INSERT INTO salt_usage (salt, usage, nonce, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (salt) DO UPDATE
SET usage = excluded.usage,
    nonce = excluded.nonce,
    updated_at = excluded.updated_at`,
		salt.Hex(), strconv.FormatUint(next.Usage, 10), next.Nonce.String(), now())
	if err != nil {
		return SaltRecord{}, fmt.Errorf("failed to write salt %s: %w", salt.Hex(), err)
	}
	return next, nil
}

func (t *sqliteTx) ConsumeOrderID(ctx context.Context, orderID common.Hash) error {
	return t.insertOnce(ctx, `INSERT INTO order_ids (order_id, consumed_at) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		fmt.Errorf("%w: %s", intent.ErrAlreadyUsed, orderID.Hex()), orderID.Hex(), now())
}

func (t *sqliteTx) ConsumeRelayMessage(ctx context.Context, messageID common.Hash) error {
	return t.insertOnce(ctx, `INSERT INTO relay_messages (message_id, consumed_at) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		fmt.Errorf("%w: %s", intent.ErrAlreadyRelayed, messageID.Hex()), messageID.Hex(), now())
}

func (t *sqliteTx) RecordFailedRelay(ctx context.Context, failed FailedRelay) error {
	return t.insertOnce(ctx, `
INSERT INTO failed_relays (message_id, order_id, asset, amount, reason, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		fmt.Errorf("%w: failed relay %s already recorded", intent.ErrAlreadyRelayed, failed.MessageID.Hex()),
		failed.MessageID.Hex(), failed.OrderID.Hex(), failed.Asset.Hex(), failed.Amount.String(), failed.Reason,
		failed.CreatedAt.UTC().Format(time.RFC3339Nano))
}

func (t *sqliteTx) ResolveFailedRelay(ctx context.Context, messageID common.Hash, resolvedAt time.Time) (FailedRelay, error) {
	if t.done {
		return FailedRelay{}, ErrTxDone
	}

	failed, err := readFailedRelaySQLite(ctx, t.tx, messageID)
	if err != nil {
		return FailedRelay{}, err
	}
	if failed.Resolved {
		return FailedRelay{}, fmt.Errorf("%w: failed relay %s", intent.ErrAlreadyResolved, messageID.Hex())
	}

	res, err := t.tx.ExecContext(ctx, `UPDATE failed_relays SET resolved = 1, resolved_at = ? WHERE message_id = ? AND resolved = 0`,
		resolvedAt.UTC().Format(time.RFC3339Nano), messageID.Hex())
	if err != nil {
		return FailedRelay{}, fmt.Errorf("failed to resolve relay %s: %w", messageID.Hex(), err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return FailedRelay{}, fmt.Errorf("%w: failed relay %s", intent.ErrAlreadyResolved, messageID.Hex())
	}

	failed.Resolved = true
	failed.ResolvedAt = &resolvedAt
	return failed, nil
}

func (t *sqliteTx) AppendEvent(ctx context.Context, event Event) error {
	if t.done {
		return ErrTxDone
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO events (id, type, origin_ref, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
		event.ID.String(), string(event.Type), event.OriginRef.Hex(), event.Timestamp.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (t *sqliteTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Rollback()
}

// insertOnce runs an INSERT ... ON CONFLICT DO NOTHING and returns conflictErr when no row was written
func (t *sqliteTx) insertOnce(ctx context.Context, query string, conflictErr error, args ...any) error {
	if t.done {
		return ErrTxDone
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return conflictErr
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
