package doctor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bondings/bondings/internal/config"
	"github.com/bondings/bondings/internal/policy"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sys/unix"
)

type staticChecker struct {
	name     string
	category Category
	status   Status
}

func (c staticChecker) Name() string       { return c.name }
func (c staticChecker) Category() Category { return c.category }
func (c staticChecker) Check(context.Context) CheckResult {
	return CheckResult{Name: c.name, Category: c.category, Status: c.status, Message: c.name}
}

func sampleCheckers() []Checker {
	return []Checker{
		staticChecker{"a", CategoryConfig, StatusOK},
		staticChecker{"b", CategoryWallet, StatusError},
		staticChecker{"c", CategoryNetwork, StatusWarning},
		staticChecker{"d", CategoryConfig, StatusSkipped},
	}
}

func TestDoctorReport(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(DoctorOptions{}, &buf, false, sampleCheckers()...)

	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := Summary{Total: 4, Passed: 1, Failed: 1, Warned: 1, Skipped: 1}
	if report.Summary != want {
		t.Errorf("summary = %+v, want %+v", report.Summary, want)
	}
	if report.Summary.IsHealthy() {
		t.Error("report with a failure should not be healthy")
	}
	out := buf.String()
	if !strings.Contains(out, "[4/4] Checking d...") {
		t.Errorf("missing progress line:\n%s", out)
	}
	// config, wallet, network, then config again
	if n := strings.Count(out, "\nCONFIG\n"); n != 2 {
		t.Errorf("CONFIG section printed %d times:\n%s", n, out)
	}
}

func TestDoctorStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	report, err := NewWithWriter(DoctorOptions{}, &buf, false, sampleCheckers()...).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(report.Checks) != 0 {
		t.Errorf("ran %d checks after cancel", len(report.Checks))
	}
}

func TestDoctorWithCategoryFilter(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(DoctorOptions{Category: CategoryConfig}, &buf, false, sampleCheckers()...)

	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(report.Checks))
	}
	for _, check := range report.Checks {
		if check.Category != CategoryConfig {
			t.Errorf("unexpected category %s for %s", check.Category, check.Name)
		}
	}
}

func TestDoctorJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(DoctorOptions{JSON: true}, &buf, false, sampleCheckers()...)

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var report DoctorReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if report.Summary.Total != 4 {
		t.Errorf("total = %d", report.Summary.Total)
	}
}

func TestConfigChecker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	c := &ConfigChecker{Path: path}
	if r := c.Check(context.Background()); r.Status != StatusWarning || r.FixCommand == "" {
		t.Errorf("missing config: %+v", r)
	}

	if err := os.WriteFile(path, []byte("ledger: [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if r := c.Check(context.Background()); r.Status != StatusError {
		t.Errorf("broken config: %+v", r)
	}

	cfg := config.DefaultConfig()
	cfg.Ledger.Admin = "0x00000000000000000000000000000000000000ad"
	cfg.Ledger.TrustedSigner = "0x00000000000000000000000000000000000005e1"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	if r := c.Check(context.Background()); r.Status != StatusOK || !strings.Contains(r.Message, "mock payments") {
		t.Errorf("valid config: %+v", r)
	}
}

func TestPolicyFileChecker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	c := &PolicyFileChecker{Path: path}

	if r := c.Check(context.Background()); r.Status != StatusSkipped {
		t.Errorf("missing policy: %+v", r)
	}

	p := policy.Default()
	p.Admin = common.HexToAddress("0xad")
	p.TrustedSigner = common.HexToAddress("0x5e1")
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	if r := c.Check(context.Background()); r.Status != StatusOK {
		t.Errorf("valid policy: %+v", r)
	}

	p.FeeRateBps = policy.MaxFeeRateBps + 1
	data, _ = json.Marshal(p)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	if r := c.Check(context.Background()); r.Status != StatusError {
		t.Errorf("invalid policy: %+v", r)
	}
}

func TestWalletCheckerEmpty(t *testing.T) {
	c := &WalletChecker{Label: "Wallet", KeystoreDir: t.TempDir(), FixCommand: "bondings wallet create"}
	r := c.Check(context.Background())
	if r.Status != StatusError || r.FixCommand != "bondings wallet create" {
		t.Errorf("empty keystore: %+v", r)
	}
}

func TestCustodyKeyChecker(t *testing.T) {
	cfg := config.DefaultConfig()
	c := &CustodyKeyChecker{Config: cfg}
	if r := c.Check(context.Background()); r.Status != StatusSkipped {
		t.Errorf("mock mode: %+v", r)
	}

	cfg.Chain.MockPayments = false
	cfg.Chain.CustodyKeyFile = filepath.Join(t.TempDir(), "custody.json")
	if r := c.Check(context.Background()); r.Status != StatusError {
		t.Errorf("missing key: %+v", r)
	}

	if err := os.WriteFile(cfg.Chain.CustodyKeyFile, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(cfg.Chain.CustodyKeyFile, 0644); err != nil {
		t.Fatal(err)
	}
	if r := c.Check(context.Background()); r.Status != StatusWarning {
		t.Errorf("world-readable key: %+v", r)
	}

	if err := os.Chmod(cfg.Chain.CustodyKeyFile, 0600); err != nil {
		t.Fatal(err)
	}
	if r := c.Check(context.Background()); r.Status != StatusOK {
		t.Errorf("private key: %+v", r)
	}
}

type proberFunc func(context.Context) error

func (f proberFunc) Health(ctx context.Context) error { return f(ctx) }

func TestDaemonChecker(t *testing.T) {
	up := &DaemonChecker{Endpoint: "http://x", Client: proberFunc(func(context.Context) error { return nil })}
	if r := up.Check(context.Background()); r.Status != StatusOK {
		t.Errorf("healthy daemon: %+v", r)
	}

	down := &DaemonChecker{Endpoint: "http://x", Client: proberFunc(func(context.Context) error { return errors.New("refused") })}
	if r := down.Check(context.Background()); r.Status != StatusWarning || r.Details != "refused" {
		t.Errorf("down daemon: %+v", r)
	}
}

func TestFileDescriptorChecker(t *testing.T) {
	tests := []struct {
		name      string
		cur, hard uint64
		err       error
		status    Status
		fix       bool
	}{
		{"plenty", 65536, 65536, nil, StatusOK, false},
		{"raisable", 1024, 65536, nil, StatusWarning, true},
		{"hard capped", 1024, 4096, nil, StatusWarning, false},
		{"unreadable", 0, 0, errors.New("EPERM"), StatusWarning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &FileDescriptorChecker{getrlimit: func(_ int, lim *unix.Rlimit) error {
				lim.Cur, lim.Max = tt.cur, tt.hard
				return tt.err
			}}
			r := c.Check(context.Background())
			if r.Status != tt.status {
				t.Errorf("status = %s, want %s", r.Status, tt.status)
			}
			if (r.FixCommand != "") != tt.fix {
				t.Errorf("fix command = %q", r.FixCommand)
			}
		})
	}
}

func TestSummaryIsHealthy(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    bool
	}{
		{"all passed", Summary{Total: 5, Passed: 5}, true},
		{"has failures", Summary{Total: 5, Passed: 3, Failed: 2}, false},
		{"only warnings", Summary{Total: 5, Passed: 3, Warned: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.summary.IsHealthy(); got != tt.want {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutput(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(&buf, false)

	out.Header()
	if !strings.Contains(buf.String(), "Bondings Doctor") {
		t.Error("Header should contain 'Bondings Doctor'")
	}

	buf.Reset()
	out.CheckResult(CheckResult{Status: StatusOK, Message: "Test passed"})
	if !strings.Contains(buf.String(), "✓") {
		t.Error("CheckResult with StatusOK should contain checkmark")
	}

	buf.Reset()
	out.CheckResult(CheckResult{Status: StatusError, Message: "broken", FixCommand: "bondings config init"})
	if !strings.Contains(buf.String(), "Fix: bondings config init") {
		t.Errorf("missing fix hint:\n%s", buf.String())
	}

	buf.Reset()
	out.Summary(Summary{Passed: 2, Failed: 1, Warned: 1, Skipped: 1})
	if !strings.Contains(buf.String(), "2 passed, 1 failed, 1 warnings, 1 skipped") {
		t.Errorf("unexpected summary %q", buf.String())
	}
}
