package router

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openliq/aggregator/internal/token"
)

func TestRegisterAdapterAuth(t *testing.T) {
	book, engine := newTestRouter(t)
	stub := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000010"), "echo")

	_, err := engine.RegisterAdapter(outsider, "echo", stub)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = engine.RegisterAdapter(adminAddr, "", stub)
	assert.ErrorIs(t, err, ErrInvalidAdapter)
	_, err = engine.RegisterAdapter(adminAddr, "echo", nil)
	assert.ErrorIs(t, err, ErrInvalidAdapter)

	// Registry mutation is admin-only; the operator role grants nothing.
	require.NoError(t, engine.GrantRole(adminAddr, RoleOperator, outsider))
	_, err = engine.RegisterAdapter(outsider, "echo", stub)
	assert.ErrorIs(t, err, ErrUnauthorized)

	id, err := engine.RegisterAdapter(adminAddr, "echo", stub)
	require.NoError(t, err)
	assert.Equal(t, VenueIDFromName("echo"), id)

	assert.ErrorIs(t, engine.RemoveAdapter(outsider, id), ErrUnauthorized)
	err = engine.SetFeeConfig(outsider, FeeConfig{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, engine.RemoveAdapter(adminAddr, id))
	assert.ErrorIs(t, engine.RemoveAdapter(adminAddr, id), ErrInvalidAdapter)
}

func TestVenueEnumerationOrder(t *testing.T) {
	book, engine := newTestRouter(t)

	a := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000021"), "a")
	b := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000022"), "b")
	c := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000023"), "c")

	idA, err := engine.RegisterAdapter(adminAddr, "a", a)
	require.NoError(t, err)
	idB, err := engine.RegisterAdapter(adminAddr, "b", b)
	require.NoError(t, err)
	idC, err := engine.RegisterAdapter(adminAddr, "c", c)
	require.NoError(t, err)

	venues := engine.Venues()
	require.Len(t, venues, 3)
	assert.Equal(t, []VenueID{idA, idB, idC}, []VenueID{venues[0].ID, venues[1].ID, venues[2].ID})

	// Removal swaps the last venue into the vacated slot.
	require.NoError(t, engine.RemoveAdapter(adminAddr, idA))
	venues = engine.Venues()
	require.Len(t, venues, 2)
	assert.Equal(t, []VenueID{idC, idB}, []VenueID{venues[0].ID, venues[1].ID})

	// Re-registering an existing name overwrites in place.
	d := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000024"), "b")
	_, err = engine.RegisterAdapter(adminAddr, "b", d)
	require.NoError(t, err)
	venues = engine.Venues()
	require.Len(t, venues, 2)
	assert.Equal(t, idB, venues[1].ID)
	assert.Equal(t, d.Account(), venues[1].Info.PrimaryAddress)
}

func TestGrantRevokeRoles(t *testing.T) {
	_, engine := newTestRouter(t)

	assert.True(t, engine.HasRole(RoleAdmin, adminAddr))
	assert.False(t, engine.HasRole(RoleGuardian, outsider))

	err := engine.GrantRole(outsider, RoleGuardian, outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = engine.GrantRole(adminAddr, Role("janitor"), outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, engine.GrantRole(adminAddr, RoleGuardian, outsider))
	assert.True(t, engine.HasRole(RoleGuardian, outsider))

	require.NoError(t, engine.RevokeRole(adminAddr, RoleGuardian, outsider))
	assert.False(t, engine.HasRole(RoleGuardian, outsider))
}

func TestGuardianCanPauseNotUnpause(t *testing.T) {
	_, engine := newTestRouter(t)
	guardian := common.HexToAddress("0xa000000000000000000000000000000000000003")
	require.NoError(t, engine.GrantRole(adminAddr, RoleGuardian, guardian))

	assert.ErrorIs(t, engine.Pause(outsider), ErrUnauthorized)

	require.NoError(t, engine.Pause(guardian))
	assert.True(t, engine.Paused())

	assert.ErrorIs(t, engine.Unpause(guardian), ErrUnauthorized)
	assert.True(t, engine.Paused())

	require.NoError(t, engine.Unpause(adminAddr))
	assert.False(t, engine.Paused())
}

func TestSetFeeConfig(t *testing.T) {
	_, engine := newTestRouter(t)

	err := engine.SetFeeConfig(adminAddr, FeeConfig{BasisPoints: 101, Recipient: feeCollector})
	assert.ErrorIs(t, err, ErrInvalidFeeBps)

	err = engine.SetFeeConfig(adminAddr, FeeConfig{BasisPoints: 50})
	assert.ErrorIs(t, err, ErrInvalidFeeRecipient)

	require.NoError(t, engine.SetFeeConfig(adminAddr, FeeConfig{BasisPoints: 50, Recipient: feeCollector}))
	assert.Equal(t, uint64(50), engine.FeeConfig().BasisPoints)

	// Zero bps needs no recipient.
	require.NoError(t, engine.SetFeeConfig(adminAddr, FeeConfig{}))
	assert.Zero(t, engine.FeeConfig().BasisPoints)
}

func TestSetNativeWrapper(t *testing.T) {
	_, engine := newTestRouter(t)

	assert.ErrorIs(t, engine.SetNativeWrapper(adminAddr, nil), ErrWrapperNotSet)
	assert.ErrorIs(t, engine.SetNativeWrapper(outsider, nil), ErrUnauthorized)
}

func TestEmergencyWithdraw(t *testing.T) {
	book, engine := newTestRouter(t)
	rescue := common.HexToAddress("0xa000000000000000000000000000000000000004")

	require.NoError(t, book.Mint(usdq, routerAcct, big.NewInt(500)))
	require.NoError(t, book.Mint(token.Native(), routerAcct, big.NewInt(200)))

	assert.ErrorIs(t, engine.EmergencyWithdraw(outsider, usdq, rescue, big.NewInt(1)), ErrUnauthorized)
	assert.ErrorIs(t, engine.EmergencyWithdraw(adminAddr, usdq, rescue, new(big.Int)), ErrZeroAmount)

	// Works while paused; that is the point of the escape hatch.
	require.NoError(t, engine.Pause(adminAddr))
	require.NoError(t, engine.EmergencyWithdraw(adminAddr, usdq, rescue, big.NewInt(500)))
	require.NoError(t, engine.EmergencyWithdraw(adminAddr, token.Native(), rescue, big.NewInt(200)))

	assert.Equal(t, int64(500), book.BalanceOf(usdq, rescue).Int64())
	assert.Equal(t, int64(200), book.BalanceOf(token.Native(), rescue).Int64())
	assert.Zero(t, book.BalanceOf(usdq, routerAcct).Sign())
}
