// Package ledger implements the staged bonding-curve share ledger: one
// record per registered name, priced on a sum-of-squares curve, gated by
// per-stage limits and settled through a payment token held in custody.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bondings/bondings/internal/logging"
	"github.com/bondings/bondings/internal/policy"
	"github.com/bondings/bondings/internal/signature"
	"github.com/bondings/bondings/internal/token"
	"github.com/ethereum/go-ethereum/common"
)

// MaxNameLength bounds a bonding name in bytes.
const MaxNameLength = 64

// BondingID is the arena index of a bonding, assigned in launch order.
type BondingID uint64

// Config wires a Ledger to its collaborators.
type Config struct {
	// Custody is the account that holds collected payment tokens.
	Custody  common.Address
	Payment  token.Ledger
	Factory  token.Factory
	Policy   *policy.Store
	Verifier *signature.Verifier
	Now      func() time.Time
}

// Ledger is safe for concurrent use. Operations on one name serialize on
// that name's record; different names proceed in parallel. Trades price
// against a policy snapshot and never hold the policy lock across token I/O.
type Ledger struct {
	custody  common.Address
	payment  token.Ledger
	factory  token.Factory
	policy   *policy.Store
	verifier *signature.Verifier
	now      func() time.Time

	arenaMu sync.RWMutex
	records []*record
	index   map[string]BondingID

	// supplyEpoch is bumped before every max-supply check.
	supplyEpoch atomic.Uint64

	subsMu  sync.RWMutex
	subs    map[uint64]Subscriber
	nextSub uint64
}

type record struct {
	mu sync.Mutex

	id        BondingID
	name      string
	symbol    string
	creator   common.Address
	createdAt time.Time

	totalShare  uint64
	shares      map[common.Address]uint64
	stage       Stage
	collected   *big.Int
	rewardToken common.Address
	// rewardRecipient received the minted supply.
	rewardRecipient common.Address
	retrieved       bool

	// reserved is totalShare plus any buy still waiting on its payment.
	// It is readable without mu.
	reserved atomic.Uint64
}

// New creates a Ledger and registers its max-supply guard with the policy store.
func New(cfg Config) (*Ledger, error) {
	switch {
	case cfg.Payment == nil:
		return nil, errors.New("ledger: payment token required")
	case cfg.Factory == nil:
		return nil, errors.New("ledger: token factory required")
	case cfg.Policy == nil:
		return nil, errors.New("ledger: policy store required")
	case cfg.Custody == (common.Address{}):
		return nil, errors.New("ledger: custody address required")
	}
	if cfg.Verifier == nil {
		cfg.Verifier = signature.NewVerifier(0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Ledger{
		custody:  cfg.Custody,
		payment:  cfg.Payment,
		factory:  cfg.Factory,
		policy:   cfg.Policy,
		verifier: cfg.Verifier,
		now:      cfg.Now,
		index:    make(map[string]BondingID),
		subs:     make(map[uint64]Subscriber),
	}
	cfg.Policy.SetSupplyGuard(l.checkMaxSupply)
	return l, nil
}

// Custody returns the account holding collected funds.
func (l *Ledger) Custody() common.Address {
	return l.custody
}

// checkMaxSupply rejects a max supply below any bonding's issued or
// reserved share. It runs under the policy write lock and must not wait on
// a record, since buys hold their record across the payment transfer.
// Bumping the epoch first makes every buy that has not yet reserved retry
// against the new policy.
func (l *Ledger) checkMaxSupply(maxSupply uint64) error {
	l.supplyEpoch.Add(1)

	l.arenaMu.RLock()
	defer l.arenaMu.RUnlock()
	for _, r := range l.records {
		if total := r.reserved.Load(); total > maxSupply {
			return fmt.Errorf("%w: max_supply %d below %q total share %d", ErrInvalidPolicy, maxSupply, r.name, total)
		}
	}
	return nil
}

// LaunchRequest registers a new bonding. Signature is the trusted signer's
// EIP-191 signature over PackRegister(Name, caller, Timestamp).
type LaunchRequest struct {
	Name      string
	Symbol    string
	Timestamp uint64
	Signature []byte
}

// Deploy registers name with the name itself as reward-token symbol.
func (l *Ledger) Deploy(ctx context.Context, caller common.Address, name string, timestamp uint64, sig []byte) (BondingID, error) {
	return l.LaunchBondings(ctx, caller, LaunchRequest{
		Name:      name,
		Symbol:    name,
		Timestamp: timestamp,
		Signature: sig,
	})
}

// LaunchBondings creates a stage-1 bonding with zero shares.
func (l *Ledger) LaunchBondings(_ context.Context, caller common.Address, req LaunchRequest) (BondingID, error) {
	if err := validateName(req.Name); err != nil {
		return 0, err
	}
	symbol := req.Symbol
	if symbol == "" {
		symbol = req.Name
	}
	if err := validateName(symbol); err != nil {
		return 0, fmt.Errorf("symbol: %w", err)
	}

	msg := signature.PackRegister(req.Name, caller, req.Timestamp)

	var id BondingID
	err := l.policy.View(func(p *policy.Policy) error {
		if err := l.verifier.Verify(msg, req.Signature, p.TrustedSigner, req.Timestamp); err != nil {
			return err
		}

		l.arenaMu.Lock()
		defer l.arenaMu.Unlock()

		if _, exists := l.index[req.Name]; exists {
			return fmt.Errorf("%w: %q", ErrNameAlreadyExists, req.Name)
		}
		id = BondingID(len(l.records))
		l.records = append(l.records, &record{
			id:        id,
			name:      req.Name,
			symbol:    symbol,
			creator:   caller,
			createdAt: l.now().UTC(),
			shares:    make(map[common.Address]uint64),
			stage:     StageFairLaunch,
			collected: new(big.Int),
		})
		l.index[req.Name] = id
		return nil
	})
	if err != nil {
		logging.Debug("launch rejected",
			logging.Bonding(req.Name),
			logging.Address("caller", caller),
			logging.Err(err),
			logging.Component("ledger"))
		return 0, err
	}

	logging.Audit(logging.AuditEvent{
		Operation: logging.AuditBondingLaunched,
		Actor:     caller.Hex(),
		Target:    req.Name,
		Result:    "success",
		Details:   fmt.Sprintf("id=%d symbol=%s", id, symbol),
	})
	l.publish(Event{
		Type:    EventLaunched,
		ID:      id,
		Name:    req.Name,
		Account: caller,
		Stage:   StageFairLaunch,
		Time:    l.now().UTC(),
	})
	return id, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidName)
		}
	}
	return nil
}

// Side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Receipt describes a committed trade. For buys Total is what the caller
// paid (Value+Fee); for sells it is what the caller received (Value-Fee).
type Receipt struct {
	ID         BondingID      `json:"id"`
	Name       string         `json:"name"`
	Side       Side           `json:"side"`
	Account    common.Address `json:"account"`
	Amount     uint64         `json:"amount"`
	Value      *big.Int       `json:"value"`
	Fee        *big.Int       `json:"fee"`
	Total      *big.Int       `json:"total"`
	TotalShare uint64         `json:"total_share"`
	UserShare  uint64         `json:"user_share"`
	Stage      Stage          `json:"stage"`
}

// BuyBondings mints amount units to caller, charging the curve cost plus
// fee. maxPaymentIn bounds cost+fee; nil means unbounded.
func (l *Ledger) BuyBondings(ctx context.Context, caller common.Address, name string, amount uint64, maxPaymentIn *big.Int) (*Receipt, error) {
	r, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	var (
		receipt *Receipt
		events  []Event
	)
	for {
		epoch := l.supplyEpoch.Load()
		p := l.policy.Get()

		r.mu.Lock()
		receipt, events, err = l.buyLocked(ctx, r, p, epoch, caller, amount, maxPaymentIn)
		r.mu.Unlock()
		if !errors.Is(err, errSupplyChanged) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	logging.Debug("bondings bought",
		logging.Bonding(name),
		logging.Address("caller", caller),
		"amount", amount,
		"paid", receipt.Total.String(),
		logging.Stage(uint8(receipt.Stage)),
		logging.Component("ledger"))
	l.publish(events...)
	return receipt, nil
}

// errSupplyChanged sends a buy back to re-read the policy.
var errSupplyChanged = errors.New("max supply changed")

// buyLocked runs one buy attempt with r.mu held.
func (l *Ledger) buyLocked(ctx context.Context, r *record, p *policy.Policy, epoch uint64, caller common.Address, amount uint64, maxPaymentIn *big.Int) (*Receipt, []Event, error) {
	if r.stage == StageOpen || amount > p.MaxSupply-min(r.totalShare, p.MaxSupply) {
		return nil, nil, ErrExceedMaxSupply
	}
	if amount > p.MintLimit {
		return nil, nil, fmt.Errorf("%w: %d > %d", ErrExceedMintLimit, amount, p.MintLimit)
	}
	held := r.shares[caller]
	if held+amount > p.HoldLimit {
		return nil, nil, fmt.Errorf("%w: %d + %d > %d", ErrExceedHoldLimit, held, amount, p.HoldLimit)
	}

	cost := Curve(p.PriceUnit, r.totalShare, amount)
	fee := Fee(cost, p.FeeRateBps)
	pay := new(big.Int).Add(cost, fee)
	if maxPaymentIn != nil && pay.Cmp(maxPaymentIn) > 0 {
		return nil, nil, fmt.Errorf("%w: costs %s, max %s", ErrSlippageExceeded, pay, maxPaymentIn)
	}

	// Reserve, then confirm no max-supply check started since p was read.
	// Either that check sees the reservation or this buy retries.
	r.reserved.Store(r.totalShare + amount)
	if l.supplyEpoch.Load() != epoch {
		r.reserved.Store(r.totalShare)
		return nil, nil, errSupplyChanged
	}

	retained, err := l.collectPayment(ctx, caller, pay, fee, p.FeeDestination)
	if err != nil {
		r.reserved.Store(r.totalShare)
		return nil, nil, err
	}

	prev := r.stage
	r.totalShare += amount
	r.reserved.Store(r.totalShare)
	r.shares[caller] = held + amount
	r.collected.Add(r.collected, cost)
	r.collected.Add(r.collected, retained)
	r.stage = advance(r.stage, r.totalShare, p.FairLaunchSupply, p.MaxSupply)

	receipt := r.receipt(SideBuy, caller, amount, cost, fee, pay)
	events := []Event{r.tradeEvent(EventBuy, receipt, l.now())}
	if r.stage != prev {
		events = append(events, r.stageEvent(prev, l.now()))
	}
	return receipt, events, nil
}

// collectPayment pulls pay into custody and forwards fee to feeDest. It
// returns the part of fee that stays in custody because no fee destination
// is configured. A failed forward refunds the caller.
func (l *Ledger) collectPayment(ctx context.Context, caller common.Address, pay, fee *big.Int, feeDest common.Address) (*big.Int, error) {
	if err := l.payment.TransferFrom(ctx, l.custody, caller, l.custody, pay); err != nil {
		return nil, fmt.Errorf("%w: collect %s from %s: %w", ErrPaymentFailed, pay, caller.Hex(), err)
	}

	if fee.Sign() == 0 {
		return new(big.Int), nil
	}
	if feeDest == (common.Address{}) || feeDest == l.custody {
		return new(big.Int).Set(fee), nil
	}

	if err := l.payment.Transfer(ctx, l.custody, feeDest, fee); err != nil {
		if errors.Is(err, token.ErrTransactionPending) {
			// The fee may still land, so a refund could pay it out twice.
			logging.Error("fee forward unconfirmed, buy not credited",
				logging.Address("caller", caller),
				"amount", pay.String(),
				logging.Err(err),
				logging.Component("ledger"))
			return nil, fmt.Errorf("%w: forward fee: %w", ErrPaymentFailed, err)
		}
		if refundErr := l.payment.Transfer(ctx, l.custody, caller, pay); refundErr != nil {
			logging.Error("refund after failed fee transfer failed",
				logging.Address("caller", caller),
				"amount", pay.String(),
				logging.Err(refundErr),
				logging.Component("ledger"))
			return nil, fmt.Errorf("%w: forward fee: %w (refund failed: %v)", ErrPaymentFailed, err, refundErr)
		}
		return nil, fmt.Errorf("%w: forward fee: %w", ErrPaymentFailed, err)
	}
	return new(big.Int), nil
}

// SellBondings burns amount of caller's units and pays the curve value
// minus fee. minPaymentOut bounds the net payout; nil means no bound.
func (l *Ledger) SellBondings(ctx context.Context, caller common.Address, name string, amount uint64, minPaymentOut *big.Int) (*Receipt, error) {
	r, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	p := l.policy.Get()

	r.mu.Lock()
	receipt, err := l.sellLocked(ctx, r, p, caller, amount, minPaymentOut)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logging.Debug("bondings sold",
		logging.Bonding(name),
		logging.Address("caller", caller),
		"amount", amount,
		"received", receipt.Total.String(),
		logging.Component("ledger"))
	l.publish(r.tradeEvent(EventSell, receipt, l.now()))
	return receipt, nil
}

// sellLocked runs a sell with r.mu held.
func (l *Ledger) sellLocked(ctx context.Context, r *record, p *policy.Policy, caller common.Address, amount uint64, minPaymentOut *big.Int) (*Receipt, error) {
	if r.stage == StageOpen {
		return nil, ErrAlreadyStage3
	}
	held := r.shares[caller]
	if held < amount {
		return nil, fmt.Errorf("%w: holds %d, selling %d", ErrInsufficientShare, held, amount)
	}

	proceeds := Curve(p.PriceUnit, r.totalShare-amount, amount)
	fee := Fee(proceeds, p.FeeRateBps)
	net := new(big.Int).Sub(proceeds, fee)
	if minPaymentOut != nil && net.Cmp(minPaymentOut) < 0 {
		return nil, fmt.Errorf("%w: pays %s, min %s", ErrSlippageExceeded, net, minPaymentOut)
	}
	if proceeds.Cmp(r.collected) > 0 {
		return nil, fmt.Errorf("%w: %q holds %s, sale needs %s", ErrCustodyShortfall, r.name, r.collected, proceeds)
	}

	if net.Sign() > 0 {
		if err := l.payment.Transfer(ctx, l.custody, caller, net); err != nil {
			return nil, fmt.Errorf("%w: pay %s to %s: %w", ErrPaymentFailed, net, caller.Hex(), err)
		}
	}
	retained := l.forwardSellFee(ctx, fee, p.FeeDestination)

	r.totalShare -= amount
	r.reserved.Store(r.totalShare)
	if held == amount {
		delete(r.shares, caller)
	} else {
		r.shares[caller] = held - amount
	}
	r.collected.Sub(r.collected, proceeds)
	r.collected.Add(r.collected, retained)

	return r.receipt(SideSell, caller, amount, proceeds, fee, net), nil
}

// forwardSellFee sends a sell fee on. The seller has already been paid, so a
// failed forward keeps the fee in custody instead of unwinding the trade.
func (l *Ledger) forwardSellFee(ctx context.Context, fee *big.Int, feeDest common.Address) *big.Int {
	if fee.Sign() == 0 {
		return new(big.Int)
	}
	if feeDest == (common.Address{}) || feeDest == l.custody {
		return new(big.Int).Set(fee)
	}
	if err := l.payment.Transfer(ctx, l.custody, feeDest, fee); err != nil {
		logging.Warn("sell fee kept in custody",
			"fee", fee.String(),
			logging.Address("fee_destination", feeDest),
			logging.Err(err),
			logging.Component("ledger"))
		return new(big.Int).Set(fee)
	}
	return new(big.Int)
}

// TransferBondings moves units between holders once a bonding is open and
// returns both balances as they stood right after the move.
func (l *Ledger) TransferBondings(_ context.Context, caller common.Address, name string, to common.Address, amount uint64) (fromShare, toShare uint64, err error) {
	r, err := l.lookup(name)
	if err != nil {
		return 0, 0, err
	}

	r.mu.Lock()
	if r.stage != StageOpen {
		r.mu.Unlock()
		return 0, 0, ErrTransferNotAllowed
	}
	if to == (common.Address{}) {
		r.mu.Unlock()
		return 0, 0, ErrInvalidRecipient
	}
	if amount == 0 {
		r.mu.Unlock()
		return 0, 0, ErrZeroAmount
	}
	held := r.shares[caller]
	if held < amount {
		r.mu.Unlock()
		return 0, 0, fmt.Errorf("%w: holds %d, sending %d", ErrInsufficientShare, held, amount)
	}

	if held == amount {
		delete(r.shares, caller)
	} else {
		r.shares[caller] = held - amount
	}
	r.shares[to] += amount
	fromShare, toShare = r.shares[caller], r.shares[to]
	ev := Event{
		Type:       EventTransfer,
		ID:         r.id,
		Name:       r.name,
		Account:    caller,
		To:         to,
		Amount:     amount,
		TotalShare: r.totalShare,
		Stage:      r.stage,
		Time:       l.now().UTC(),
	}
	r.mu.Unlock()

	l.publish(ev)
	return fromShare, toShare, nil
}

func (l *Ledger) lookup(name string) (*record, error) {
	l.arenaMu.RLock()
	defer l.arenaMu.RUnlock()
	id, ok := l.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBondingNotFound, name)
	}
	return l.records[id], nil
}

func (r *record) receipt(side Side, account common.Address, amount uint64, value, fee, total *big.Int) *Receipt {
	return &Receipt{
		ID:         r.id,
		Name:       r.name,
		Side:       side,
		Account:    account,
		Amount:     amount,
		Value:      value,
		Fee:        fee,
		Total:      total,
		TotalShare: r.totalShare,
		UserShare:  r.shares[account],
		Stage:      r.stage,
	}
}

func (r *record) tradeEvent(typ EventType, rc *Receipt, now time.Time) Event {
	return Event{
		Type:       typ,
		ID:         rc.ID,
		Name:       rc.Name,
		Account:    rc.Account,
		Amount:     rc.Amount,
		Value:      rc.Value,
		Fee:        rc.Fee,
		TotalShare: rc.TotalShare,
		Stage:      rc.Stage,
		Time:       now.UTC(),
	}
}

func (r *record) stageEvent(prev Stage, now time.Time) Event {
	return Event{
		Type:       EventStageChanged,
		ID:         r.id,
		Name:       r.name,
		TotalShare: r.totalShare,
		Stage:      r.stage,
		PrevStage:  prev,
		Time:       now.UTC(),
	}
}
