package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleIDs(t *testing.T) {
	// Values match OpenZeppelin AccessControl role ids
	assert.Equal(t, "0x97667070c54ef182b0f5858b034beac1b6f3089aa2d3188bb1e8929f4fa9b929", common.Hash(Operator).Hex())
	assert.Equal(t, "OPERATOR_ROLE", Operator.String())
	assert.Equal(t, "RELAYER_ROLE", Relayer.String())
	assert.Equal(t, "RECOVERY_ROLE", Recovery.String())
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")

	ok, err := reg.HasRole(ctx, Operator, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	reg.Grant(Operator, alice, bob)
	ok, err = reg.HasRole(ctx, Operator, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.HasRole(ctx, Relayer, alice)
	require.NoError(t, err)
	assert.False(t, ok, "roles are independent")

	reg.Revoke(Operator, alice)
	ok, err = reg.HasRole(ctx, Operator, alice)
	require.NoError(t, err)
	assert.False(t, ok, "revocation is immediate")

	ok, err = reg.HasRole(ctx, Operator, bob)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequire(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	account := common.HexToAddress("0xa1")
	errDenied := errors.New("denied")

	err := Require(ctx, reg, Relayer, account, errDenied)
	require.ErrorIs(t, err, errDenied)

	reg.Grant(Relayer, account)
	require.NoError(t, Require(ctx, reg, Relayer, account, errDenied))
}
