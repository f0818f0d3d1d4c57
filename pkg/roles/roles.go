// Package roles defines the access control roles consulted during settlement
package roles

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Role is an AccessControl role id, keccak256 of the role name
type Role common.Hash

var (
	// Operator may sign intents on behalf of merchants
	Operator = Role(crypto.Keccak256Hash([]byte("OPERATOR_ROLE")))
	// Relayer may submit bridge messages to the relay path
	Relayer = Role(crypto.Keccak256Hash([]byte("RELAYER_ROLE")))
	// Recovery may move funds out of custody
	Recovery = Role(crypto.Keccak256Hash([]byte("RECOVERY_ROLE")))
)

var roleNames = map[Role]string{
	Operator: "OPERATOR_ROLE",
	Relayer:  "RELAYER_ROLE",
	Recovery: "RECOVERY_ROLE",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return common.Hash(r).Hex()
}

// Registry answers role membership questions. Implementations must reflect grants and
// revocations immediately.
type Registry interface {
	HasRole(ctx context.Context, role Role, account common.Address) (bool, error)
}

// MemoryRegistry is a Registry held in memory, seeded from configuration or tests
type MemoryRegistry struct {
	mu      sync.RWMutex
	members map[Role]map[common.Address]struct{}
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		members: make(map[Role]map[common.Address]struct{}),
	}
}

// Grant adds accounts to role
func (r *MemoryRegistry) Grant(role Role, accounts ...common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[role]
	if !ok {
		set = make(map[common.Address]struct{})
		r.members[role] = set
	}
	for _, account := range accounts {
		set[account] = struct{}{}
	}
}

// Revoke removes account from role
func (r *MemoryRegistry) Revoke(role Role, account common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[role], account)
}

func (r *MemoryRegistry) HasRole(_ context.Context, role Role, account common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[role][account]
	return ok, nil
}

// Require returns an error wrapping errUnauthorized when account does not hold role
func Require(ctx context.Context, registry Registry, role Role, account common.Address, errUnauthorized error) error {
	ok, err := registry.HasRole(ctx, role, account)
	if err != nil {
		return fmt.Errorf("failed to check %s for %s: %w", role, account.Hex(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks %s", errUnauthorized, account.Hex(), role)
	}
	return nil
}
