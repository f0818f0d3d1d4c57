package settlement

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

type lockOwnerKey struct{}

// lease is held by one in-flight redemption for all of its keys
type lease struct {
	keys     []string
	released chan struct{}
}

// KeyLocker serializes redemptions touching the same salt, order id or relay message.
//
// All keys of a redemption are taken together, so two redemptions never hold part of each
// other's key set. The returned context marks the holder: a redemption started from that
// context, for instance by a recipient calling back during the settlement transfer, is rejected
// with intent.ErrReentrantRedemption instead of waiting on itself.
type KeyLocker struct {
	mu   sync.Mutex
	held map[string]*lease
}

// NewKeyLocker creates an empty locker
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{held: make(map[string]*lease)}
}

// Acquire blocks until every key is free or ctx is done
func (l *KeyLocker) Acquire(ctx context.Context, keys ...string) (context.Context, func(), error) {
	if _, inFlight := ctx.Value(lockOwnerKey{}).(*lease); inFlight {
		return ctx, func() {}, intent.ErrReentrantRedemption
	}

	keys = dedupe(keys)
	for {
		l.mu.Lock()
		var wait chan struct{}
		for _, k := range keys {
			if other, ok := l.held[k]; ok {
				wait = other.released
				break
			}
		}
		if wait == nil {
			ls := &lease{keys: keys, released: make(chan struct{})}
			for _, k := range keys {
				l.held[k] = ls
			}
			l.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() { l.release(ls) })
			}
			return context.WithValue(ctx, lockOwnerKey{}, ls), release, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx, func() {}, ctx.Err()
		}
	}
}

// Held reports whether key is currently locked
func (l *KeyLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

func (l *KeyLocker) release(ls *lease) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range ls.keys {
		if l.held[k] == ls {
			delete(l.held, k)
		}
	}
	close(ls.released)
}

func dedupe(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

func saltLockKey(salt common.Hash) string {
	return "salt:" + salt.Hex()
}

func orderLockKey(orderID common.Hash) string {
	return "order:" + orderID.Hex()
}

func relayLockKey(messageID common.Hash) string {
	return "relay:" + messageID.Hex()
}
