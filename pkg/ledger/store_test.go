package ledger

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		store, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	salt := common.BigToHash(big.NewInt(99))

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, WithTx(ctx, store, func(tx Tx) error {
		_, err := tx.ConsumeSalt(ctx, salt, big.NewInt(3), intent.QuantityFixed, big.NewInt(5))
		return err
	}))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.SaltRecord(ctx, salt)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Usage)
	assert.Equal(t, 0, big.NewInt(3).Cmp(rec.Nonce))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		store, err := OpenPostgres(ctx, dsn)
		require.NoError(t, err)
		_, err = store.pool.Exec(ctx, `TRUNCATE salt_usage, order_ids, relay_messages, failed_relays, events`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("unknown salt reads as zero record", func(t *testing.T) {
		store := newStore(t)
		rec, err := store.SaltRecord(ctx, common.BigToHash(big.NewInt(1)))
		require.NoError(t, err)
		assert.Equal(t, uint64(0), rec.Usage)
		assert.Equal(t, 0, rec.Nonce.Sign())
	})

	t.Run("consumed salt is visible after commit", func(t *testing.T) {
		store := newStore(t)
		salt := common.BigToHash(big.NewInt(2))

		err := WithTx(ctx, store, func(tx Tx) error {
			rec, err := tx.ConsumeSalt(ctx, salt, big.NewInt(4), intent.QuantityFixed, big.NewInt(2))
			require.NoError(t, err)
			assert.Equal(t, uint64(1), rec.Usage)
			return nil
		})
		require.NoError(t, err)

		rec, err := store.SaltRecord(ctx, salt)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), rec.Usage)
		assert.Equal(t, 0, big.NewInt(4).Cmp(rec.Nonce))
	})

	t.Run("rollback discards every namespace", func(t *testing.T) {
		store := newStore(t)
		salt := common.BigToHash(big.NewInt(3))
		orderID := common.HexToHash("0x0a")
		messageID := common.HexToHash("0x0b")

		boom := errors.New("transfer failed")
		err := WithTx(ctx, store, func(tx Tx) error {
			_, err := tx.ConsumeSalt(ctx, salt, big.NewInt(1), intent.QuantityFixed, big.NewInt(1))
			require.NoError(t, err)
			require.NoError(t, tx.ConsumeOrderID(ctx, orderID))
			require.NoError(t, tx.ConsumeRelayMessage(ctx, messageID))
			require.NoError(t, tx.AppendEvent(ctx, Event{ID: NewEventID(), Type: EventIntentFulfilled, Timestamp: time.Now()}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		rec, err := store.SaltRecord(ctx, salt)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), rec.Usage)

		used, err := store.OrderIDUsed(ctx, orderID)
		require.NoError(t, err)
		assert.False(t, used)

		relayed, err := store.RelayMessageUsed(ctx, messageID)
		require.NoError(t, err)
		assert.False(t, relayed)

		events, err := store.Events(ctx, EventFilter{})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("quantity is enforced across transactions", func(t *testing.T) {
		store := newStore(t)
		salt := common.BigToHash(big.NewInt(4))

		consume := func(nonce, quantity int64) error {
			return WithTx(ctx, store, func(tx Tx) error {
				_, err := tx.ConsumeSalt(ctx, salt, big.NewInt(nonce), intent.QuantityFixed, big.NewInt(quantity))
				return err
			})
		}

		require.NoError(t, consume(1, 1))
		require.ErrorIs(t, consume(1, 1), intent.ErrQuantityExhausted)
		require.NoError(t, consume(2, 2))
		require.NoError(t, consume(2, 2))
		require.ErrorIs(t, consume(2, 2), intent.ErrQuantityExhausted)
		require.ErrorIs(t, consume(1, 10), intent.ErrStaleNonce)

		rec, err := store.SaltRecord(ctx, salt)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), rec.Usage)
		assert.Equal(t, 0, big.NewInt(2).Cmp(rec.Nonce))
	})

	t.Run("order id is single use", func(t *testing.T) {
		store := newStore(t)
		orderID := common.HexToHash("0x01")

		require.NoError(t, WithTx(ctx, store, func(tx Tx) error {
			return tx.ConsumeOrderID(ctx, orderID)
		}))

		err := WithTx(ctx, store, func(tx Tx) error {
			return tx.ConsumeOrderID(ctx, orderID)
		})
		require.ErrorIs(t, err, intent.ErrAlreadyUsed)

		used, err := store.OrderIDUsed(ctx, orderID)
		require.NoError(t, err)
		assert.True(t, used)
	})

	t.Run("order id reuse inside one transaction", func(t *testing.T) {
		store := newStore(t)
		orderID := common.HexToHash("0x02")

		err := WithTx(ctx, store, func(tx Tx) error {
			require.NoError(t, tx.ConsumeOrderID(ctx, orderID))
			return tx.ConsumeOrderID(ctx, orderID)
		})
		require.ErrorIs(t, err, intent.ErrAlreadyUsed)
	})

	t.Run("relay message is single use", func(t *testing.T) {
		store := newStore(t)
		messageID := common.HexToHash("0x03")

		require.NoError(t, WithTx(ctx, store, func(tx Tx) error {
			return tx.ConsumeRelayMessage(ctx, messageID)
		}))

		err := WithTx(ctx, store, func(tx Tx) error {
			return tx.ConsumeRelayMessage(ctx, messageID)
		})
		require.ErrorIs(t, err, intent.ErrAlreadyRelayed)
	})

	t.Run("namespaces are independent", func(t *testing.T) {
		store := newStore(t)
		key := common.HexToHash("0x04")

		require.NoError(t, WithTx(ctx, store, func(tx Tx) error {
			if err := tx.ConsumeOrderID(ctx, key); err != nil {
				return err
			}
			if err := tx.ConsumeRelayMessage(ctx, key); err != nil {
				return err
			}
			_, err := tx.ConsumeSalt(ctx, key, big.NewInt(0), intent.QuantityUnlimited, big.NewInt(0))
			return err
		}))
	})

	t.Run("failed relay lifecycle", func(t *testing.T) {
		store := newStore(t)
		messageID := common.HexToHash("0x05")
		failed := FailedRelay{
			MessageID: messageID,
			OrderID:   common.HexToHash("0x06"),
			Asset:     common.HexToAddress("0x07"),
			Amount:    big.NewInt(99_000000),
			Reason:    string(intent.ReasonInvalidSignature),
			CreatedAt: time.Now().UTC(),
		}

		_, err := store.FailedRelay(ctx, messageID)
		require.ErrorIs(t, err, intent.ErrNotFound)

		require.NoError(t, WithTx(ctx, store, func(tx Tx) error {
			return tx.RecordFailedRelay(ctx, failed)
		}))

		got, err := store.FailedRelay(ctx, messageID)
		require.NoError(t, err)
		assert.False(t, got.Resolved)
		assert.Equal(t, 0, failed.Amount.Cmp(got.Amount))
		assert.Equal(t, failed.Asset, got.Asset)
		assert.Equal(t, failed.Reason, got.Reason)

		require.NoError(t, WithTx(ctx, store, func(tx Tx) error {
			resolved, err := tx.ResolveFailedRelay(ctx, messageID, time.Now())
			if err != nil {
				return err
			}
			assert.True(t, resolved.Resolved)
			return nil
		}))

		err = WithTx(ctx, store, func(tx Tx) error {
			_, err := tx.ResolveFailedRelay(ctx, messageID, time.Now())
			return err
		})
		require.ErrorIs(t, err, intent.ErrAlreadyResolved)

		err = WithTx(ctx, store, func(tx Tx) error {
			_, err := tx.ResolveFailedRelay(ctx, common.HexToHash("0xdead"), time.Now())
			return err
		})
		require.ErrorIs(t, err, intent.ErrNotFound)

		got, err = store.FailedRelay(ctx, messageID)
		require.NoError(t, err)
		assert.True(t, got.Resolved)
		assert.NotNil(t, got.ResolvedAt)
	})

	t.Run("events are append only and filterable", func(t *testing.T) {
		store := newStore(t)
		origin := common.HexToHash("0x08")

		require.NoError(t, WithTx(ctx, store, func(tx Tx) error {
			for i := 0; i < 3; i++ {
				err := tx.AppendEvent(ctx, Event{
					ID:        NewEventID(),
					Type:      EventIntentFulfilled,
					Path:      PathDirect,
					OriginRef: common.BigToHash(big.NewInt(int64(i))),
					Timestamp: time.Now(),
					IntentFulfilled: &IntentFulfilled{
						Amount:    big.NewInt(100),
						NetAmount: big.NewInt(99),
						FeeAmount: big.NewInt(1),
					},
				})
				if err != nil {
					return err
				}
			}
			return tx.AppendEvent(ctx, Event{
				ID:           NewEventID(),
				Type:         EventIntentFailed,
				Path:         PathRelay,
				OriginRef:    origin,
				Timestamp:    time.Now(),
				IntentFailed: &IntentFailed{Reason: string(intent.ReasonStaleNonce)},
			})
		}))

		all, err := store.Events(ctx, EventFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, EventIntentFailed, all[3].Type)

		fulfilled, err := store.Events(ctx, EventFilter{Type: EventIntentFulfilled})
		require.NoError(t, err)
		require.Len(t, fulfilled, 3)
		require.NotNil(t, fulfilled[0].IntentFulfilled)
		assert.Equal(t, 0, big.NewInt(99).Cmp(fulfilled[0].IntentFulfilled.NetAmount))

		byOrigin, err := store.Events(ctx, EventFilter{OriginRef: &origin})
		require.NoError(t, err)
		require.Len(t, byOrigin, 1)
		require.NotNil(t, byOrigin[0].IntentFailed)
		assert.Equal(t, string(intent.ReasonStaleNonce), byOrigin[0].IntentFailed.Reason)

		limited, err := store.Events(ctx, EventFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, all[2].ID, limited[0].ID)
	})

	t.Run("finished transaction cannot be reused", func(t *testing.T) {
		store := newStore(t)
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))

		require.ErrorIs(t, tx.ConsumeOrderID(ctx, common.HexToHash("0x09")), ErrTxDone)
		require.ErrorIs(t, tx.Rollback(ctx), ErrTxDone)
	})
}

func TestMemoryStore_CommitDetectsConcurrentSaltWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	salt := common.BigToHash(big.NewInt(1))

	first, err := store.Begin(ctx)
	require.NoError(t, err)
	second, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = first.ConsumeSalt(ctx, salt, big.NewInt(0), intent.QuantityFixed, big.NewInt(1))
	require.NoError(t, err)
	_, err = second.ConsumeSalt(ctx, salt, big.NewInt(0), intent.QuantityFixed, big.NewInt(1))
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx))
	require.ErrorIs(t, second.Commit(ctx), ErrConflict)

	rec, err := store.SaltRecord(ctx, salt)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Usage)
}

func TestMemoryStore_UncommittedWritesAreInvisible(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orderID := common.HexToHash("0x01")

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.ConsumeOrderID(ctx, orderID))

	used, err := store.OrderIDUsed(ctx, orderID)
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, tx.Commit(ctx))
	used, err = store.OrderIDUsed(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, used)
}
