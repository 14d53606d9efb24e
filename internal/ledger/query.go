package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/bondings/bondings/internal/policy"
	"github.com/ethereum/go-ethereum/common"
)

// Bonding is a point-in-time copy of a record.
type Bonding struct {
	ID             BondingID      `json:"id"`
	Name           string         `json:"name"`
	Symbol         string         `json:"symbol"`
	Creator        common.Address `json:"creator"`
	CreatedAt      time.Time      `json:"created_at"`
	TotalShare     uint64         `json:"total_share"`
	Holders        int            `json:"holders"`
	Stage          Stage          `json:"stage"`
	CollectedFunds *big.Int       `json:"collected_funds"`
	RewardToken    common.Address `json:"reward_token"`
	// RewardRecipient is the operator the reward supply was minted to.
	RewardRecipient common.Address `json:"reward_recipient"`
	Retrieved       bool           `json:"retrieved"`
}

func (r *record) snapshot() *Bonding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Bonding{
		ID:              r.id,
		Name:            r.name,
		Symbol:          r.symbol,
		Creator:         r.creator,
		CreatedAt:       r.createdAt,
		TotalShare:      r.totalShare,
		Holders:         len(r.shares),
		Stage:           r.stage,
		CollectedFunds:  new(big.Int).Set(r.collected),
		RewardToken:     r.rewardToken,
		RewardRecipient: r.rewardRecipient,
		Retrieved:       r.retrieved,
	}
}

// Bonding returns a snapshot of name.
func (l *Ledger) Bonding(name string) (*Bonding, error) {
	r, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	return r.snapshot(), nil
}

// BondingByID returns a snapshot by arena index.
func (l *Ledger) BondingByID(id BondingID) (*Bonding, error) {
	l.arenaMu.RLock()
	if uint64(id) >= uint64(len(l.records)) {
		l.arenaMu.RUnlock()
		return nil, fmt.Errorf("%w: id %d", ErrBondingNotFound, id)
	}
	r := l.records[id]
	l.arenaMu.RUnlock()
	return r.snapshot(), nil
}

// Lookup resolves a name to its id.
func (l *Ledger) Lookup(name string) (BondingID, bool) {
	l.arenaMu.RLock()
	defer l.arenaMu.RUnlock()
	id, ok := l.index[name]
	return id, ok
}

// Names lists registered names in launch order.
func (l *Ledger) Names() []string {
	l.arenaMu.RLock()
	defer l.arenaMu.RUnlock()
	names := make([]string, len(l.records))
	for i, r := range l.records {
		names[i] = r.name
	}
	return names
}

// Snapshots returns every bonding in launch order.
func (l *Ledger) Snapshots() []*Bonding {
	l.arenaMu.RLock()
	records := append([]*record(nil), l.records...)
	l.arenaMu.RUnlock()

	out := make([]*Bonding, len(records))
	for i, r := range records {
		out[i] = r.snapshot()
	}
	return out
}

// GetBondingsTotalShare returns the units outstanding for name.
func (l *Ledger) GetBondingsTotalShare(name string) (uint64, error) {
	r, err := l.lookup(name)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalShare, nil
}

// UserShare returns the units account holds in name; unknown holders have 0.
func (l *Ledger) UserShare(name string, account common.Address) (uint64, error) {
	r, err := l.lookup(name)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shares[account], nil
}

// BondingsStage returns the lifecycle stage name is currently in.
func (l *Ledger) BondingsStage(name string) (Stage, error) {
	r, err := l.lookup(name)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage, nil
}

// Quote prices a prospective trade without checking the caller's limits.
type Quote struct {
	Name       string `json:"name"`
	Side       Side   `json:"side"`
	Amount     uint64 `json:"amount"`
	TotalShare uint64 `json:"total_share"`
	// Value is the curve price of the units.
	Value *big.Int `json:"value"`
	Fee   *big.Int `json:"fee"`
	// Total is Value+Fee for buys and Value-Fee for sells.
	Total *big.Int `json:"total"`
}

// QuoteBuy prices buying amount units at the current supply.
func (l *Ledger) QuoteBuy(name string, amount uint64) (*Quote, error) {
	return l.quote(name, SideBuy, amount)
}

// QuoteSell prices selling amount units back at the current supply.
func (l *Ledger) QuoteSell(name string, amount uint64) (*Quote, error) {
	return l.quote(name, SideSell, amount)
}

func (l *Ledger) quote(name string, side Side, amount uint64) (*Quote, error) {
	r, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	r.mu.Lock()
	total, stage := r.totalShare, r.stage
	r.mu.Unlock()

	q, err := PriceTrade(l.policy.Get(), side, total, amount)
	if err != nil {
		return nil, err
	}
	if side == SideSell && stage == StageOpen {
		return nil, ErrAlreadyStage3
	}
	q.Name = name
	return q, nil
}

// PriceTrade prices a trade of amount units at supply total under p. It is
// the offline form of QuoteBuy/QuoteSell.
func PriceTrade(p *policy.Policy, side Side, total, amount uint64) (*Quote, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	q := &Quote{Side: side, Amount: amount, TotalShare: total}
	switch side {
	case SideBuy:
		if total > p.MaxSupply || amount > p.MaxSupply-total {
			return nil, ErrExceedMaxSupply
		}
		q.Value = Curve(p.PriceUnit, total, amount)
		q.Fee = Fee(q.Value, p.FeeRateBps)
		q.Total = new(big.Int).Add(q.Value, q.Fee)
	case SideSell:
		if amount > total {
			return nil, ErrInsufficientShare
		}
		q.Value = Curve(p.PriceUnit, total-amount, amount)
		q.Fee = Fee(q.Value, p.FeeRateBps)
		q.Total = new(big.Int).Sub(q.Value, q.Fee)
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}
	return q, nil
}
