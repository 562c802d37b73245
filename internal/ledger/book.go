// Package ledger implements the journaled balance book the aggregation
// engine settles against. It models fungible-token balances, allowances
// with the zero-before-nonzero quirk some tokens enforce, per-account
// storage words for venue state, and snapshot/rollback so every router
// operation is all-or-nothing.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/token"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrAllowanceNotZero      = errors.New("allowance must be reset to zero first")
	ErrUnknownToken          = errors.New("unknown token")
	ErrTokenExists           = errors.New("token already registered")
	ErrNativeAllowance       = errors.New("native asset has no allowance semantics")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidSnapshot       = errors.New("invalid snapshot id")
)

// TokenInfo describes a registered fungible token.
type TokenInfo struct {
	Symbol   string
	Decimals uint8
	// RequireZeroAllowance marks tokens that reject a nonzero approval
	// unless the current allowance is exactly zero.
	RequireZeroAllowance bool
}

// Book holds all balances, allowances and storage words. All mutations go
// through exported methods; swap execution is serialized by the router, so
// the mutex only protects the read-only quote paths running alongside.
type Book struct {
	mu  sync.RWMutex
	log *zap.Logger

	tokens     map[token.Token]TokenInfo
	balances   map[token.Token]map[common.Address]*big.Int
	allowances map[token.Token]map[common.Address]map[common.Address]*big.Int
	storage    map[common.Address]map[common.Hash]common.Hash

	snaps []*bookState
}

type bookState struct {
	balances   map[token.Token]map[common.Address]*big.Int
	allowances map[token.Token]map[common.Address]map[common.Address]*big.Int
	storage    map[common.Address]map[common.Hash]common.Hash
}

// NewBook creates an empty balance book.
func NewBook(log *zap.Logger) *Book {
	return &Book{
		log:        log.Named("ledger"),
		tokens:     make(map[token.Token]TokenInfo),
		balances:   make(map[token.Token]map[common.Address]*big.Int),
		allowances: make(map[token.Token]map[common.Address]map[common.Address]*big.Int),
		storage:    make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// RegisterToken adds a fungible token to the book.
func (b *Book) RegisterToken(t token.Token, info TokenInfo) error {
	if t.IsNative() {
		return fmt.Errorf("register token: %w", ErrUnknownToken)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tokens[t]; ok {
		return fmt.Errorf("register token %s: %w", t, ErrTokenExists)
	}
	b.tokens[t] = info
	b.log.Info("Token registered",
		zap.String("token", t.String()),
		zap.String("symbol", info.Symbol),
		zap.Uint8("decimals", info.Decimals))
	return nil
}

// Info returns the descriptor for a registered token.
func (b *Book) Info(t token.Token) (TokenInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	info, ok := b.tokens[t]
	return info, ok
}

func (b *Book) known(t token.Token) bool {
	if t.IsNative() {
		return true
	}
	_, ok := b.tokens[t]
	return ok
}

// BalanceOf returns a copy of the balance of acct in t. Native balances are
// kept under the sentinel token.
func (b *Book) BalanceOf(t token.Token, acct common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.balance(t, acct))
}

func (b *Book) balance(t token.Token, acct common.Address) *big.Int {
	accts, ok := b.balances[t]
	if !ok {
		return new(big.Int)
	}
	bal, ok := accts[acct]
	if !ok {
		return new(big.Int)
	}
	return bal
}

func (b *Book) credit(t token.Token, acct common.Address, amount *big.Int) {
	accts, ok := b.balances[t]
	if !ok {
		accts = make(map[common.Address]*big.Int)
		b.balances[t] = accts
	}
	cur, ok := accts[acct]
	if !ok {
		cur = new(big.Int)
		accts[acct] = cur
	}
	cur.Add(cur, amount)
}

func (b *Book) debit(t token.Token, acct common.Address, amount *big.Int) error {
	cur := b.balance(t, acct)
	if cur.Cmp(amount) < 0 {
		return fmt.Errorf("debit %s from %s: %w", t, acct.Hex(), ErrInsufficientBalance)
	}
	cur.Sub(cur, amount)
	return nil
}

// Mint credits newly created units to acct. Used for genesis funding and by
// the wrapped-native converter.
func (b *Book) Mint(t token.Token, acct common.Address, amount *big.Int) error {
	if !token.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known(t) {
		return fmt.Errorf("mint %s: %w", t, ErrUnknownToken)
	}
	b.credit(t, acct, amount)
	return nil
}

// Burn destroys units held by acct.
func (b *Book) Burn(t token.Token, acct common.Address, amount *big.Int) error {
	if !token.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known(t) {
		return fmt.Errorf("burn %s: %w", t, ErrUnknownToken)
	}
	return b.debit(t, acct, amount)
}

// Transfer moves amount of t from one account to another. Works for the
// native sentinel as well; a native transfer failing here is the raw-value
// transfer failure of the settlement layer.
func (b *Book) Transfer(t token.Token, from, to common.Address, amount *big.Int) error {
	if !token.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known(t) {
		return fmt.Errorf("transfer %s: %w", t, ErrUnknownToken)
	}
	if err := b.debit(t, from, amount); err != nil {
		return err
	}
	b.credit(t, to, amount)
	return nil
}

// Approve sets the allowance owner grants spender on t. Tokens flagged
// RequireZeroAllowance reject a nonzero approval over a nonzero allowance.
func (b *Book) Approve(t token.Token, owner, spender common.Address, amount *big.Int) error {
	if t.IsNative() {
		return ErrNativeAllowance
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.tokens[t]
	if !ok {
		return fmt.Errorf("approve %s: %w", t, ErrUnknownToken)
	}
	cur := b.allowance(t, owner, spender)
	if info.RequireZeroAllowance && amount.Sign() > 0 && cur.Sign() > 0 {
		return fmt.Errorf("approve %s for %s: %w", t, spender.Hex(), ErrAllowanceNotZero)
	}
	b.setAllowance(t, owner, spender, new(big.Int).Set(amount))
	return nil
}

// Allowance returns a copy of the allowance owner grants spender on t.
func (b *Book) Allowance(t token.Token, owner, spender common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.allowance(t, owner, spender))
}

func (b *Book) allowance(t token.Token, owner, spender common.Address) *big.Int {
	owners, ok := b.allowances[t]
	if !ok {
		return new(big.Int)
	}
	spenders, ok := owners[owner]
	if !ok {
		return new(big.Int)
	}
	cur, ok := spenders[spender]
	if !ok {
		return new(big.Int)
	}
	return cur
}

func (b *Book) setAllowance(t token.Token, owner, spender common.Address, amount *big.Int) {
	owners, ok := b.allowances[t]
	if !ok {
		owners = make(map[common.Address]map[common.Address]*big.Int)
		b.allowances[t] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		owners[owner] = spenders
	}
	spenders[spender] = amount
}

// TransferFrom moves amount of t from owner to recipient, spending the
// allowance owner granted spender.
func (b *Book) TransferFrom(t token.Token, spender, owner, to common.Address, amount *big.Int) error {
	if t.IsNative() {
		return ErrNativeAllowance
	}
	if !token.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known(t) {
		return fmt.Errorf("transferFrom %s: %w", t, ErrUnknownToken)
	}
	cur := b.allowance(t, owner, spender)
	if cur.Cmp(amount) < 0 {
		return fmt.Errorf("transferFrom %s by %s: %w", t, spender.Hex(), ErrInsufficientAllowance)
	}
	if err := b.debit(t, owner, amount); err != nil {
		return err
	}
	b.credit(t, to, amount)
	b.setAllowance(t, owner, spender, new(big.Int).Sub(cur, amount))
	return nil
}

// SetWord writes a storage word for acct. Venue adapters keep their mutable
// pool state here so it participates in snapshot/rollback.
func (b *Book) SetWord(acct common.Address, key, value common.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	words, ok := b.storage[acct]
	if !ok {
		words = make(map[common.Hash]common.Hash)
		b.storage[acct] = words
	}
	words[key] = value
}

// Word reads a storage word for acct. Missing words read as zero.
func (b *Book) Word(acct common.Address, key common.Hash) common.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	words, ok := b.storage[acct]
	if !ok {
		return common.Hash{}
	}
	return words[key]
}

// Snapshot records the current state and returns an id usable with RevertTo
// or Commit. Snapshots nest: reverting to an id discards everything taken
// after it.
func (b *Book) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps = append(b.snaps, b.cloneState())
	return len(b.snaps) - 1
}

// RevertTo restores the state recorded by Snapshot.
func (b *Book) RevertTo(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id < 0 || id >= len(b.snaps) {
		return ErrInvalidSnapshot
	}
	st := b.snaps[id]
	b.balances = st.balances
	b.allowances = st.allowances
	b.storage = st.storage
	b.snaps = b.snaps[:id]
	return nil
}

// Commit discards the snapshot, keeping the current state.
func (b *Book) Commit(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id < 0 || id >= len(b.snaps) {
		return ErrInvalidSnapshot
	}
	b.snaps = b.snaps[:id]
	return nil
}

func (b *Book) cloneState() *bookState {
	st := &bookState{
		balances:   make(map[token.Token]map[common.Address]*big.Int, len(b.balances)),
		allowances: make(map[token.Token]map[common.Address]map[common.Address]*big.Int, len(b.allowances)),
		storage:    make(map[common.Address]map[common.Hash]common.Hash, len(b.storage)),
	}
	for t, accts := range b.balances {
		cp := make(map[common.Address]*big.Int, len(accts))
		for a, v := range accts {
			cp[a] = new(big.Int).Set(v)
		}
		st.balances[t] = cp
	}
	for t, owners := range b.allowances {
		ocp := make(map[common.Address]map[common.Address]*big.Int, len(owners))
		for o, spenders := range owners {
			scp := make(map[common.Address]*big.Int, len(spenders))
			for s, v := range spenders {
				scp[s] = new(big.Int).Set(v)
			}
			ocp[o] = scp
		}
		st.allowances[t] = ocp
	}
	for a, words := range b.storage {
		wcp := make(map[common.Hash]common.Hash, len(words))
		for k, v := range words {
			wcp[k] = v
		}
		st.storage[a] = wcp
	}
	return st
}
