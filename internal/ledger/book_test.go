package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/token"
)

var (
	tokenA  = token.FromHex("0x2000000000000000000000000000000000000001")
	tokenB  = token.FromHex("0x2000000000000000000000000000000000000002")
	alice   = common.HexToAddress("0xa000000000000000000000000000000000000001")
	bob     = common.HexToAddress("0xa000000000000000000000000000000000000002")
	spender = common.HexToAddress("0xa000000000000000000000000000000000000003")
)

func newTestBook(t *testing.T) *Book {
	t.Helper()
	book := NewBook(zap.NewNop())
	require.NoError(t, book.RegisterToken(tokenA, TokenInfo{Symbol: "AAA", Decimals: 18}))
	require.NoError(t, book.RegisterToken(tokenB, TokenInfo{Symbol: "BBB", Decimals: 6, RequireZeroAllowance: true}))
	return book
}

func TestRegisterToken(t *testing.T) {
	book := newTestBook(t)

	err := book.RegisterToken(tokenA, TokenInfo{Symbol: "DUP"})
	assert.ErrorIs(t, err, ErrTokenExists)

	err = book.RegisterToken(token.Native(), TokenInfo{Symbol: "NAT"})
	assert.ErrorIs(t, err, ErrUnknownToken)

	info, ok := book.Info(tokenB)
	require.True(t, ok)
	assert.True(t, info.RequireZeroAllowance)
}

func TestMintTransferBurn(t *testing.T) {
	book := newTestBook(t)

	require.NoError(t, book.Mint(tokenA, alice, big.NewInt(1000)))
	assert.Equal(t, int64(1000), book.BalanceOf(tokenA, alice).Int64())

	require.NoError(t, book.Transfer(tokenA, alice, bob, big.NewInt(400)))
	assert.Equal(t, int64(600), book.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(400), book.BalanceOf(tokenA, bob).Int64())

	err := book.Transfer(tokenA, alice, bob, big.NewInt(601))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, book.Burn(tokenA, bob, big.NewInt(400)))
	assert.Zero(t, book.BalanceOf(tokenA, bob).Sign())

	err = book.Mint(token.FromHex("0x2000000000000000000000000000000000000099"), alice, big.NewInt(1))
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestNativeTransfers(t *testing.T) {
	book := newTestBook(t)

	require.NoError(t, book.Mint(token.Native(), alice, big.NewInt(500)))
	require.NoError(t, book.Transfer(token.Native(), alice, bob, big.NewInt(200)))
	assert.Equal(t, int64(300), book.BalanceOf(token.Native(), alice).Int64())
	assert.Equal(t, int64(200), book.BalanceOf(token.Native(), bob).Int64())

	// The native asset has no allowance semantics.
	err := book.Approve(token.Native(), alice, spender, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNativeAllowance)
	err = book.TransferFrom(token.Native(), spender, alice, bob, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNativeAllowance)
}

func TestApproveAndTransferFrom(t *testing.T) {
	book := newTestBook(t)
	require.NoError(t, book.Mint(tokenA, alice, big.NewInt(1000)))

	require.NoError(t, book.Approve(tokenA, alice, spender, big.NewInt(300)))
	assert.Equal(t, int64(300), book.Allowance(tokenA, alice, spender).Int64())

	require.NoError(t, book.TransferFrom(tokenA, spender, alice, bob, big.NewInt(200)))
	assert.Equal(t, int64(100), book.Allowance(tokenA, alice, spender).Int64())
	assert.Equal(t, int64(200), book.BalanceOf(tokenA, bob).Int64())

	err := book.TransferFrom(tokenA, spender, alice, bob, big.NewInt(101))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestZeroBeforeNonzeroAllowance(t *testing.T) {
	book := newTestBook(t)
	require.NoError(t, book.Mint(tokenB, alice, big.NewInt(1000)))

	require.NoError(t, book.Approve(tokenB, alice, spender, big.NewInt(100)))

	// A second nonzero approval must be rejected while one is live.
	err := book.Approve(tokenB, alice, spender, big.NewInt(200))
	assert.ErrorIs(t, err, ErrAllowanceNotZero)

	// Reset-then-set works.
	require.NoError(t, book.Approve(tokenB, alice, spender, new(big.Int)))
	require.NoError(t, book.Approve(tokenB, alice, spender, big.NewInt(200)))
	assert.Equal(t, int64(200), book.Allowance(tokenB, alice, spender).Int64())

	// Tokens without the flag allow overwriting directly.
	require.NoError(t, book.Mint(tokenA, alice, big.NewInt(10)))
	require.NoError(t, book.Approve(tokenA, alice, spender, big.NewInt(1)))
	require.NoError(t, book.Approve(tokenA, alice, spender, big.NewInt(2)))
}

func TestStorageWords(t *testing.T) {
	book := newTestBook(t)
	key := crypto.Keccak256Hash([]byte("some.state"))

	assert.Equal(t, common.Hash{}, book.Word(alice, key))

	value := common.BigToHash(big.NewInt(42))
	book.SetWord(alice, key, value)
	assert.Equal(t, value, book.Word(alice, key))
}

func TestSnapshotRevert(t *testing.T) {
	book := newTestBook(t)
	key := crypto.Keccak256Hash([]byte("pool.price"))

	require.NoError(t, book.Mint(tokenA, alice, big.NewInt(1000)))
	require.NoError(t, book.Approve(tokenA, alice, spender, big.NewInt(50)))
	book.SetWord(alice, key, common.BigToHash(big.NewInt(1)))

	snap := book.Snapshot()

	require.NoError(t, book.Transfer(tokenA, alice, bob, big.NewInt(700)))
	require.NoError(t, book.Approve(tokenA, alice, spender, big.NewInt(999)))
	book.SetWord(alice, key, common.BigToHash(big.NewInt(2)))

	require.NoError(t, book.RevertTo(snap))

	assert.Equal(t, int64(1000), book.BalanceOf(tokenA, alice).Int64())
	assert.Zero(t, book.BalanceOf(tokenA, bob).Sign())
	assert.Equal(t, int64(50), book.Allowance(tokenA, alice, spender).Int64())
	assert.Equal(t, common.BigToHash(big.NewInt(1)), book.Word(alice, key))

	// The snapshot was consumed.
	assert.ErrorIs(t, book.RevertTo(snap), ErrInvalidSnapshot)
}

func TestSnapshotCommit(t *testing.T) {
	book := newTestBook(t)
	require.NoError(t, book.Mint(tokenA, alice, big.NewInt(100)))

	snap := book.Snapshot()
	require.NoError(t, book.Transfer(tokenA, alice, bob, big.NewInt(60)))
	require.NoError(t, book.Commit(snap))

	assert.Equal(t, int64(40), book.BalanceOf(tokenA, alice).Int64())
	assert.ErrorIs(t, book.Commit(snap), ErrInvalidSnapshot)
}

func TestNestedSnapshots(t *testing.T) {
	book := newTestBook(t)
	require.NoError(t, book.Mint(tokenA, alice, big.NewInt(100)))

	outer := book.Snapshot()
	require.NoError(t, book.Transfer(tokenA, alice, bob, big.NewInt(10)))

	inner := book.Snapshot()
	require.NoError(t, book.Transfer(tokenA, alice, bob, big.NewInt(20)))
	require.NoError(t, book.RevertTo(inner))
	assert.Equal(t, int64(90), book.BalanceOf(tokenA, alice).Int64())

	// Reverting to the outer snapshot discards everything after it.
	require.NoError(t, book.RevertTo(outer))
	assert.Equal(t, int64(100), book.BalanceOf(tokenA, alice).Int64())
}

func TestWrappedNative(t *testing.T) {
	book := newTestBook(t)
	wrapperAcct := common.HexToAddress("0xa0000000000000000000000000000000000000ff")

	_, err := NewWrappedNative(book, token.Native(), wrapperAcct)
	assert.ErrorIs(t, err, ErrWrappedNotRegistered)

	_, err = NewWrappedNative(book, token.FromHex("0x2000000000000000000000000000000000000077"), wrapperAcct)
	assert.ErrorIs(t, err, ErrWrappedNotRegistered)

	w, err := NewWrappedNative(book, tokenA, wrapperAcct)
	require.NoError(t, err)
	assert.Equal(t, tokenA, w.Token())

	require.NoError(t, book.Mint(token.Native(), alice, big.NewInt(500)))

	require.NoError(t, w.Deposit(alice, big.NewInt(300)))
	assert.Equal(t, int64(200), book.BalanceOf(token.Native(), alice).Int64())
	assert.Equal(t, int64(300), book.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(300), book.BalanceOf(token.Native(), wrapperAcct).Int64())

	require.NoError(t, w.Withdraw(alice, big.NewInt(100)))
	assert.Equal(t, int64(300), book.BalanceOf(token.Native(), alice).Int64())
	assert.Equal(t, int64(200), book.BalanceOf(tokenA, alice).Int64())

	// More than was wrapped cannot be withdrawn.
	err = w.Withdraw(alice, big.NewInt(201))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}
