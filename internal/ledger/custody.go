package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/bondings/bondings/internal/logging"
	"github.com/bondings/bondings/internal/policy"
	"github.com/ethereum/go-ethereum/common"
)

// Settlement describes a completed retrieval.
type Settlement struct {
	ID          BondingID      `json:"id"`
	Name        string         `json:"name"`
	Operator    common.Address `json:"operator"`
	Amount      *big.Int       `json:"amount"`
	RewardToken common.Address `json:"reward_token"`
	Supply      *big.Int       `json:"supply"`
}

// RetrieveAndDeploy settles an open bonding once: the reward token is
// deployed with the whole supply minted to the calling operator, then the
// collected funds move from custody to the operator.
//
// The token address and its recipient are recorded as soon as deployment
// succeeds. Custody cannot pull the minted supply back, so after a failed
// payout only that same operator may retry; the retry reuses the token
// instead of minting a second one. If deployment fails nothing has moved and
// nothing is recorded.
func (l *Ledger) RetrieveAndDeploy(ctx context.Context, caller common.Address, name string) (*Settlement, error) {
	r, err := l.lookup(name)
	if err != nil {
		return nil, err
	}

	p := l.policy.Get()
	settlement, err := l.retrieve(ctx, r, p, caller)
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Operation: logging.AuditFundsRetrieved,
			Actor:     caller.Hex(),
			Target:    name,
			Result:    "failure",
			Details:   err.Error(),
		})
		return nil, err
	}

	logging.Audit(logging.AuditEvent{
		Operation: logging.AuditFundsRetrieved,
		Actor:     caller.Hex(),
		Target:    name,
		Result:    "success",
		Details:   fmt.Sprintf("amount=%s token=%s", settlement.Amount, settlement.RewardToken.Hex()),
	})
	l.publish(Event{
		Type:    EventRetrieved,
		ID:      settlement.ID,
		Name:    settlement.Name,
		Account: caller,
		Value:   settlement.Amount,
		Token:   settlement.RewardToken,
		Stage:   StageOpen,
		Time:    l.now().UTC(),
	})
	return settlement, nil
}

func (l *Ledger) retrieve(ctx context.Context, r *record, p *policy.Policy, caller common.Address) (*Settlement, error) {
	if !p.IsOperator(caller) {
		return nil, ErrNotAuthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stage != StageOpen {
		return nil, ErrNotStage3
	}
	if r.retrieved {
		return nil, ErrAlreadyRetrieved
	}

	supply := new(big.Int).Set(p.RewardTokenSupply)
	if r.rewardToken == (common.Address{}) {
		addr, err := l.factory.Deploy(ctx, r.name, r.symbol, supply, caller)
		if err != nil {
			return nil, fmt.Errorf("%w: deploy reward token: %w", ErrPaymentFailed, err)
		}
		r.rewardToken = addr
		r.rewardRecipient = caller
	} else if r.rewardRecipient != caller {
		return nil, fmt.Errorf("%w: reward token %s was minted to %s, only that operator can finish retrieval",
			ErrNotAuthorized, r.rewardToken.Hex(), r.rewardRecipient.Hex())
	}

	amount := new(big.Int).Set(r.collected)
	if amount.Sign() > 0 {
		if err := l.payment.Transfer(ctx, l.custody, caller, amount); err != nil {
			return nil, fmt.Errorf("%w: release %s to %s: %w", ErrPaymentFailed, amount, caller.Hex(), err)
		}
	}

	r.collected.SetInt64(0)
	r.retrieved = true
	return &Settlement{
		ID:          r.id,
		Name:        r.name,
		Operator:    caller,
		Amount:      amount,
		RewardToken: r.rewardToken,
		Supply:      supply,
	}, nil
}
