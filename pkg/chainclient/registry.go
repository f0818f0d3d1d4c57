package chainclient

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/contracts"
	"github.com/speedrun-hq/speedrun-settler/pkg/roles"
)

// RoleRegistry answers role questions from an on-chain AccessControl contract. Every call reads
// the latest state so grants and revocations apply immediately.
type RoleRegistry struct {
	address common.Address
	caller  *contracts.AccessControlCaller
}

var _ roles.Registry = (*RoleRegistry)(nil)

// NewRoleRegistry binds the AccessControl contract at address
func NewRoleRegistry(address common.Address, backend bind.ContractCaller) (*RoleRegistry, error) {
	caller, err := contracts.NewAccessControlCaller(address, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to bind role registry %s: %v", address.Hex(), err)
	}
	return &RoleRegistry{address: address, caller: caller}, nil
}

func (r *RoleRegistry) HasRole(ctx context.Context, role roles.Role, account common.Address) (bool, error) {
	ok, err := r.caller.HasRole(&bind.CallOpts{Context: ctx}, [32]byte(role), account)
	if err != nil {
		return false, fmt.Errorf("hasRole(%s, %s) on %s: %w", role, account.Hex(), r.address.Hex(), err)
	}
	return ok, nil
}
