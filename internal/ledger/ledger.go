// Package ledger is an in-memory account ledger used as a replay target.
//
// It models a chain-like system: operations are submitted, confirmed
// asynchronously and may be rejected with a code and a raw log reason.
// Each Ledger is isolated; use Provider to get a fresh one per replay.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/reactor"
	"github.com/roach88/kraft/internal/target"
)

// Operation kinds accepted by the ledger.
const (
	OpGenesis  = "genesis"
	OpTransfer = "transfer"
)

// Rejection codes.
const (
	CodeGenesisApplied    uint32 = 2
	CodeUnknownAccount    uint32 = 3
	CodeInvalidAmount     uint32 = 4
	CodeInsufficientFunds uint32 = 5
)

// Variables reported by Query.
const (
	VarBalances = "balances"
	VarAccounts = "accounts"
)

// ErrUnknownPending is returned by Await for ids the ledger never issued.
var ErrUnknownPending = errors.New("ledger: unknown pending operation")

type pending struct {
	op        reactor.Operation
	remaining int
	done      bool
	err       error
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	balances map[ir.Handle]*big.Int
	order    []ir.Handle
	genesis  bool
	pending  map[string]*pending
	nextAcct int
	nextTx   int
	delay    int
	delays   map[int]int
	log      []reactor.Operation
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAccount creates an account before any replay, for seeding.
func WithAccount(h ir.Handle, balance int64) Option {
	return func(l *Ledger) {
		l.open(h, big.NewInt(balance))
	}
}

// WithConfirmationDelay makes every submission time out n times before it
// is confirmed.
func WithConfirmationDelay(n int) Option {
	return func(l *Ledger) {
		l.delay = n
	}
}

// WithDelayFor overrides the confirmation delay for the nth submission,
// counting from 1.
func WithDelayFor(submission, n int) Option {
	return func(l *Ledger) {
		l.delays[submission] = n
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		balances: make(map[ir.Handle]*big.Int),
		pending:  make(map[string]*pending),
		delays:   make(map[int]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Provider returns a provider creating a fresh ledger for every replay.
func Provider(opts ...Option) target.Provider {
	return target.ProviderFunc(func(context.Context, string) (target.Client, func(), error) {
		return New(opts...), func() {}, nil
	})
}

// Allocate opens a new account with a zero balance.
func (l *Ledger) Allocate(ctx context.Context, _ ir.Value) (ir.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		l.nextAcct++
		h := ir.Handle(fmt.Sprintf("acct-%d", l.nextAcct))
		if _, taken := l.balances[h]; !taken {
			l.open(h, new(big.Int))
			return h, nil
		}
	}
}

// Submit queues op for confirmation. Malformed operations are refused
// immediately; business rules are checked on confirmation.
func (l *Ledger) Submit(ctx context.Context, op reactor.Operation) (target.Pending, error) {
	if err := ctx.Err(); err != nil {
		return target.Pending{}, err
	}
	if op.Kind != OpGenesis && op.Kind != OpTransfer {
		return target.Pending{}, fmt.Errorf("ledger: unknown operation kind %q", op.Kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextTx++
	id := fmt.Sprintf("tx-%d", l.nextTx)
	delay := l.delay
	if d, ok := l.delays[l.nextTx]; ok {
		delay = d
	}
	l.pending[id] = &pending{op: op, remaining: delay}
	return target.Pending{ID: id, Operation: op}, nil
}

// Await confirms p, or returns target.ErrTimeout while its scripted delay
// lasts. The ledger never sleeps.
func (l *Ledger) Await(ctx context.Context, p target.Pending, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.pending[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPending, p.ID)
	}
	if tx.done {
		return tx.err
	}
	if tx.remaining > 0 {
		tx.remaining--
		return target.ErrTimeout
	}

	tx.done = true
	tx.err = l.apply(tx.op)
	if tx.err == nil {
		l.log = append(l.log, tx.op)
	}
	return tx.err
}

// Query reports every open account: balances as a map from handle to
// amount and accounts as a set of handles.
func (l *Ledger) Query(ctx context.Context, _ target.QueryRequest) (target.Observed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]ir.MapEntry, 0, len(l.order))
	accounts := make([]ir.Value, 0, len(l.order))
	for _, h := range l.order {
		entries = append(entries, ir.E(h, ir.NewBigInt(l.balances[h])))
		accounts = append(accounts, h)
	}
	balances, err := ir.NewMap(entries...)
	if err != nil {
		return nil, err
	}
	return target.Observed{
		VarBalances: balances,
		VarAccounts: ir.NewSet(accounts...),
	}, nil
}

// Applied returns the confirmed operations in confirmation order.
func (l *Ledger) Applied() []reactor.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]reactor.Operation, len(l.log))
	copy(out, l.log)
	return out
}

// Balance returns the balance of h.
func (l *Ledger) Balance(h ir.Handle) (*big.Int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[h]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(b), true
}

func (l *Ledger) open(h ir.Handle, balance *big.Int) {
	if _, ok := l.balances[h]; !ok {
		l.order = append(l.order, h)
	}
	l.balances[h] = balance
}

func (l *Ledger) apply(op reactor.Operation) error {
	switch op.Kind {
	case OpGenesis:
		return l.applyGenesis(op.Params)
	default:
		return l.applyTransfer(op.Params)
	}
}

func (l *Ledger) applyGenesis(params ir.Record) error {
	if l.genesis {
		return &target.RejectedError{Code: CodeGenesisApplied, Reason: "genesis already applied"}
	}
	v, _ := params.Get("accounts")
	accounts, ok := v.(ir.Map)
	if !ok {
		return &target.RejectedError{Code: CodeInvalidAmount, Reason: "genesis: accounts must be a map"}
	}

	amounts := make(map[ir.Handle]*big.Int, accounts.Len())
	for _, e := range accounts.Entries() {
		h, ok := e.Key.(ir.Handle)
		if !ok {
			return &target.RejectedError{Code: CodeUnknownAccount, Reason: "genesis: account key " + ir.Format(e.Key) + " is not a handle"}
		}
		if _, known := l.balances[h]; !known {
			return unknownAccount(h)
		}
		amount, err := amountOf(e.Value)
		if err != nil {
			return err
		}
		amounts[h] = amount
	}

	for h, amount := range amounts {
		l.balances[h] = amount
	}
	l.genesis = true
	return nil
}

func (l *Ledger) applyTransfer(params ir.Record) error {
	from, err := accountParam(params, "from")
	if err != nil {
		return err
	}
	to, err := accountParam(params, "to")
	if err != nil {
		return err
	}
	v, _ := params.Get("amount")
	amount, err := amountOf(v)
	if err != nil {
		return err
	}

	src, ok := l.balances[from]
	if !ok {
		return unknownAccount(from)
	}
	dst, ok := l.balances[to]
	if !ok {
		return unknownAccount(to)
	}
	if src.Cmp(amount) < 0 {
		return &target.RejectedError{
			Code:   CodeInsufficientFunds,
			Reason: fmt.Sprintf("%s is smaller than %s: insufficient funds", src, amount),
		}
	}

	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}

func accountParam(params ir.Record, name string) (ir.Handle, error) {
	v, _ := params.Get(name)
	h, ok := v.(ir.Handle)
	if !ok {
		return "", &target.RejectedError{Code: CodeUnknownAccount, Reason: fmt.Sprintf("transfer: %s must be an account, got %s", name, ir.Format(v))}
	}
	return h, nil
}

func amountOf(v ir.Value) (*big.Int, error) {
	i, ok := v.(ir.Int)
	if !ok || i.Big().Sign() < 0 {
		return nil, &target.RejectedError{Code: CodeInvalidAmount, Reason: fmt.Sprintf("invalid amount %s", ir.Format(v))}
	}
	return i.Big(), nil
}

func unknownAccount(h ir.Handle) error {
	return &target.RejectedError{Code: CodeUnknownAccount, Reason: fmt.Sprintf("account %s does not exist", h)}
}
