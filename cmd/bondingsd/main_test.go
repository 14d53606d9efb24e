package main

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bondings/bondings/internal/config"
	"github.com/bondings/bondings/internal/token"
)

func TestServerConfigMapping(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.Addr = "127.0.0.1:9999"
	cfg.API.RateLimitRequests = 7
	cfg.API.AuthWindowSecs = 60
	cfg.API.MaxConnections = 64
	cfg.Metrics.Path = "/prom"

	sc := serverConfig(cfg)
	if sc.HTTPAddr != "127.0.0.1:9999" || sc.RateLimit != 7 {
		t.Errorf("unexpected server config %+v", sc)
	}
	if sc.MaxConnections != 64 {
		t.Errorf("MaxConnections = %d", sc.MaxConnections)
	}
	if sc.AuthWindow.Seconds() != 60 {
		t.Errorf("AuthWindow = %v", sc.AuthWindow)
	}
	if sc.MetricsPath != "/prom" {
		t.Errorf("MetricsPath = %q", sc.MetricsPath)
	}

	cfg.Metrics.Enabled = false
	if sc := serverConfig(cfg); sc.MetricsPath != "" {
		t.Errorf("metrics disabled but path = %q", sc.MetricsPath)
	}
}

func TestOpenMockPayments(t *testing.T) {
	alice := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	cfg := config.DefaultConfig()
	cfg.Chain.MockAccounts = []config.MockAccount{{Address: alice.Hex(), Balance: "1.5"}}

	fac, err := openPayments(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openPayments: %v", err)
	}
	defer fac.Close()

	if fac.Custody != common.HexToAddress(cfg.Ledger.Custody) {
		t.Errorf("custody = %s", fac.Custody.Hex())
	}

	bal, err := fac.Payment.BalanceOf(context.Background(), alice)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := token.ParseAmount("1.5")
	if bal.Cmp(want) != 0 {
		t.Errorf("balance = %s, want %s", bal, want)
	}

	// custody was approved for the whole balance
	if err := fac.Payment.TransferFrom(context.Background(), fac.Custody, alice, fac.Custody, want); err != nil {
		t.Errorf("TransferFrom: %v", err)
	}
	if _, err := fac.Factory.Deploy(context.Background(), "a", "a", big.NewInt(1), alice); err != nil {
		t.Errorf("Deploy: %v", err)
	}
}

func TestOpenMockPaymentsBadBalance(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Chain.MockAccounts = []config.MockAccount{{Address: "0x00000000000000000000000000000000000a11ce", Balance: "lots"}}

	if _, err := openPayments(context.Background(), cfg); err == nil {
		t.Error("expected error for unparsable balance")
	}
}

func TestMigrateDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Daemon.DataDir = dir
	cfg.Ledger.PolicyFile = filepath.Join(dir, "policy.json")
	cfg.Chain.KeystoreDir = filepath.Join(dir, "keystore")

	if err := migrate(cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "migrations.json")); err != nil {
		t.Errorf("state file missing: %v", err)
	}
	// second start is a no-op
	if err := migrate(cfg); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
