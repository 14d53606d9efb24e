package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bondings/bondings/internal/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fsnotify/fsnotify"
)

// SupplyGuard is consulted before MaxSupply changes. The ledger registers
// one that rejects a value below any bonding's current total share.
type SupplyGuard func(maxSupply uint64) error

// Store owns the active Policy. Readers that need a stable view for the
// duration of an operation use View; setters take the write lock, so they
// never interleave with an operation running under View.
type Store struct {
	mu       sync.RWMutex
	policy   *Policy
	filePath string
	lastRaw  []byte
	guard    SupplyGuard
	now      func() time.Time
}

// NewStore creates a store seeded with initial. If filePath names an
// existing policy file, its contents replace the seed, since admin changes
// made at runtime are persisted there.
func NewStore(initial *Policy, filePath string) (*Store, error) {
	if initial == nil {
		initial = Default()
	}
	s := &Store{
		policy:   initial.Clone(),
		filePath: filePath,
		now:      time.Now,
	}

	if filePath != "" {
		dir := filepath.Dir(filePath)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create policy directory: %w", err)
		}
		if err := s.Reload(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load policy file: %w", err)
		}
	}

	if err := s.policy.Validate(); err != nil {
		return nil, err
	}
	if filePath != "" && s.lastRaw == nil {
		if err := s.saveLocked(s.policy); err != nil {
			return nil, fmt.Errorf("write policy file: %w", err)
		}
	}
	return s, nil
}

// SetSupplyGuard installs the max-supply guard.
func (s *Store) SetSupplyGuard(g SupplyGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = g
}

// Get returns a copy of the current policy.
func (s *Store) Get() *Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.Clone()
}

// View runs fn with the read lock held. fn must not mutate p and must not
// call back into the store.
func (s *Store) View(fn func(p *Policy) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.policy)
}

func (s *Store) SetHoldLimit(caller common.Address, v uint64) error {
	return s.update(caller, "hold_limit", func(p *Policy) { p.HoldLimit = v })
}

func (s *Store) SetMintLimit(caller common.Address, v uint64) error {
	return s.update(caller, "mint_limit", func(p *Policy) { p.MintLimit = v })
}

func (s *Store) SetMaxSupply(caller common.Address, v uint64) error {
	return s.update(caller, "max_supply", func(p *Policy) { p.MaxSupply = v })
}

func (s *Store) SetFairLaunchSupply(caller common.Address, v uint64) error {
	return s.update(caller, "fair_launch_supply", func(p *Policy) { p.FairLaunchSupply = v })
}

// SetBondingsTokenSupply sets the amount minted to the operator when a
// bonding's reward token is deployed.
func (s *Store) SetBondingsTokenSupply(caller common.Address, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: reward_token_supply must be positive", ErrInvalidPolicy)
	}
	supply := new(big.Int).Set(v)
	return s.update(caller, "reward_token_supply", func(p *Policy) { p.RewardTokenSupply = supply })
}

func (s *Store) SetOperator(caller, operator common.Address, enabled bool) error {
	if operator == (common.Address{}) {
		return fmt.Errorf("%w: operator must be set", ErrInvalidPolicy)
	}
	err := s.update(caller, "operators", func(p *Policy) { p.setOperator(operator, enabled) })
	if err == nil {
		logging.Audit(logging.AuditEvent{
			Operation: logging.AuditOperatorChanged,
			Actor:     caller.Hex(),
			Target:    operator.Hex(),
			Result:    "success",
			Details:   fmt.Sprintf("enabled=%t", enabled),
		})
	}
	return err
}

func (s *Store) SetTrustedSigner(caller, signer common.Address) error {
	return s.update(caller, "trusted_signer", func(p *Policy) { p.TrustedSigner = signer })
}

func (s *Store) SetFeeDestination(caller, dest common.Address) error {
	return s.update(caller, "fee_destination", func(p *Policy) { p.FeeDestination = dest })
}

func (s *Store) SetFeeRate(caller common.Address, bps uint64) error {
	return s.update(caller, "fee_rate_bps", func(p *Policy) { p.FeeRateBps = bps })
}

// TransferAdmin hands the admin role to next.
func (s *Store) TransferAdmin(caller, next common.Address) error {
	err := s.update(caller, "admin", func(p *Policy) { p.Admin = next })
	if err == nil {
		logging.Audit(logging.AuditEvent{
			Operation: logging.AuditAdminChanged,
			Actor:     caller.Hex(),
			Target:    next.Hex(),
			Result:    "success",
		})
	}
	return err
}

// Apply performs a partial update atomically.
func (s *Store) Apply(caller common.Address, patch Patch) error {
	if patch.Empty() {
		return fmt.Errorf("%w: empty update", ErrInvalidPolicy)
	}
	return s.update(caller, "patch", patch.apply)
}

func (s *Store) update(caller common.Address, field string, mutate func(p *Policy)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.policy.Admin {
		logging.Audit(logging.AuditEvent{
			Operation: logging.AuditPolicyUpdated,
			Actor:     caller.Hex(),
			Target:    field,
			Result:    "failure",
			Details:   "caller is not admin",
		})
		return ErrNotAuthorized
	}

	next := s.policy.Clone()
	mutate(next)
	if err := s.checkLocked(next); err != nil {
		return err
	}

	next.UpdatedAt = s.now().UTC()
	next.UpdatedBy = caller

	if err := s.saveLocked(next); err != nil {
		return fmt.Errorf("persist policy: %w", err)
	}
	s.policy = next

	logging.Audit(logging.AuditEvent{
		Operation: logging.AuditPolicyUpdated,
		Actor:     caller.Hex(),
		Target:    field,
		Result:    "success",
	})
	return nil
}

// checkLocked validates next and runs the supply guard if MaxSupply moved.
// MUST be called while s.mu is held.
func (s *Store) checkLocked(next *Policy) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if s.guard != nil && next.MaxSupply != s.policy.MaxSupply {
		if err := s.guard(next.MaxSupply); err != nil {
			return err
		}
	}
	return nil
}

// saveLocked writes p to disk. MUST be called while s.mu is held.
func (s *Store) saveLocked(p *Policy) error {
	if s.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return err
	}
	s.lastRaw = data
	return nil
}

// Reload re-reads the policy file. Invalid contents are rejected and the
// current policy stays in force.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if bytes.Equal(data, s.lastRaw) {
		return nil
	}

	var next Policy
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := s.checkLocked(&next); err != nil {
		return err
	}

	s.policy = &next
	s.lastRaw = data
	logging.Info("policy loaded",
		"path", s.filePath,
		"max_supply", next.MaxSupply,
		"fee_rate_bps", next.FeeRateBps,
		logging.Component("policy"))
	return nil
}

// Watch reloads the policy file whenever it changes on disk, until ctx is
// done. The parent directory is watched so atomic replaces are seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.filePath == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("watch policy directory: %w", err)
	}

	target := filepath.Clean(s.filePath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil && !os.IsNotExist(err) {
				logging.Warn("policy reload rejected",
					logging.Err(err),
					logging.Component("policy"))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("policy watcher error", logging.Err(err), logging.Component("policy"))
		}
	}
}
