package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/bondings/bondings/internal/config"
	"github.com/bondings/bondings/internal/identity"
	"github.com/bondings/bondings/internal/policy"
)

func shortAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}

// ConfigChecker loads and validates the daemon config file.
type ConfigChecker struct {
	Path string
}

func (c *ConfigChecker) Name() string       { return "Config file" }
func (c *ConfigChecker) Category() Category { return CategoryConfig }

func (c *ConfigChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if _, err := os.Stat(c.Path); errors.Is(err, os.ErrNotExist) {
		result.Status = StatusWarning
		result.Message = "Config: not found, defaults apply"
		result.Details = c.Path
		result.FixCommand = "bondings config init"
		return result
	}

	cfg, err := config.Load(c.Path)
	if err != nil {
		result.Status = StatusError
		result.Message = "Config: invalid"
		result.Details = err.Error()
		return result
	}

	mode := "on-chain"
	if cfg.Chain.MockPayments {
		mode = "mock payments"
	}
	result.Status = StatusOK
	result.Message = fmt.Sprintf("Config: %s (%s)", c.Path, mode)
	return result
}

// PolicyFileChecker parses the persisted policy and checks its invariants.
type PolicyFileChecker struct {
	Path string
}

func (c *PolicyFileChecker) Name() string       { return "Policy file" }
func (c *PolicyFileChecker) Category() Category { return CategoryConfig }

func (c *PolicyFileChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		result.Status = StatusSkipped
		result.Message = "Policy: not created yet (seeded from config on first start)"
		return result
	}
	if err != nil {
		result.Status = StatusError
		result.Message = "Policy: unreadable"
		result.Details = err.Error()
		return result
	}

	var p policy.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		result.Status = StatusError
		result.Message = "Policy: malformed JSON"
		result.Details = err.Error()
		return result
	}
	if err := p.Validate(); err != nil {
		result.Status = StatusError
		result.Message = "Policy: invalid"
		result.Details = err.Error()
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("Policy: admin %s, %d operator(s)", shortAddr(p.Admin.Hex()), len(p.Operators))
	return result
}

// WalletChecker checks that a keystore holds a wallet.
type WalletChecker struct {
	Label       string
	KeystoreDir string
	FixCommand  string
}

func (c *WalletChecker) Name() string       { return c.Label }
func (c *WalletChecker) Category() Category { return CategoryWallet }

func (c *WalletChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	w, err := identity.LoadWallet(c.KeystoreDir)
	if err != nil {
		result.Status = StatusError
		result.Message = c.Label + ": not configured"
		result.Details = err.Error()
		result.FixCommand = c.FixCommand
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("%s: %s", c.Label, shortAddr(w.Address().Hex()))
	return result
}

// PasswordChecker checks that the wallet password can be found without a
// prompt.
type PasswordChecker struct {
	PasswordFile string
}

func (c *PasswordChecker) Name() string       { return "Wallet password" }
func (c *PasswordChecker) Category() Category { return CategoryWallet }

func (c *PasswordChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if _, err := identity.ResolvePassword(c.PasswordFile); err != nil {
		result.Status = StatusWarning
		result.Message = "Wallet password: not stored, commands will prompt"
		result.Details = err.Error()
		return result
	}
	result.Status = StatusOK
	result.Message = "Wallet password: available"
	return result
}

// CustodyKeyChecker checks the on-chain custody key file. It is skipped in
// mock payment mode.
type CustodyKeyChecker struct {
	Config *config.Config
}

func (c *CustodyKeyChecker) Name() string       { return "Custody key" }
func (c *CustodyKeyChecker) Category() Category { return CategoryWallet }

func (c *CustodyKeyChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if c.Config == nil || c.Config.Chain.MockPayments {
		result.Status = StatusSkipped
		result.Message = "Custody key: not needed with mock payments"
		return result
	}

	info, err := os.Stat(c.Config.Chain.CustodyKeyFile)
	if err != nil {
		result.Status = StatusError
		result.Message = "Custody key: missing"
		result.Details = err.Error()
		return result
	}
	if info.Mode().Perm()&0077 != 0 {
		result.Status = StatusWarning
		result.Message = "Custody key: readable by other users"
		result.Details = fmt.Sprintf("%s has mode %04o", c.Config.Chain.CustodyKeyFile, info.Mode().Perm())
		result.FixCommand = "chmod 600 " + c.Config.Chain.CustodyKeyFile
		return result
	}

	result.Status = StatusOK
	result.Message = "Custody key: " + c.Config.Chain.CustodyKeyFile
	return result
}

// HealthProber is satisfied by the API client.
type HealthProber interface {
	Health(ctx context.Context) error
}

// DaemonChecker probes the daemon's health endpoint.
type DaemonChecker struct {
	Endpoint string
	Client   HealthProber
}

func (c *DaemonChecker) Name() string       { return "Daemon" }
func (c *DaemonChecker) Category() Category { return CategoryNetwork }

func (c *DaemonChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if err := c.Client.Health(ctx); err != nil {
		result.Status = StatusWarning
		result.Message = "Daemon: unreachable at " + c.Endpoint
		result.Details = err.Error()
		result.FixCommand = "bondingsd --config ~/.bondings/config.yaml"
		return result
	}
	result.Status = StatusOK
	result.Message = "Daemon: healthy at " + c.Endpoint
	return result
}
