package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/bondings/bondings/internal/policy"
	"github.com/bondings/bondings/internal/signature"
	"github.com/bondings/bondings/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	admin    = common.HexToAddress("0xAD")
	carol    = common.HexToAddress("0xCA201")
	david    = common.HexToAddress("0xDA71D")
	treasury = common.HexToAddress("0x7EA5")
	operator = common.HexToAddress("0x0BE2")
	custody  = common.HexToAddress("0xC057")
)

type harness struct {
	t       *testing.T
	ledger  *Ledger
	store   *policy.Store
	usdb    *token.MemoryToken
	factory *token.MemoryFactory
	signer  *ecdsa.PrivateKey
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	p := policy.Default()
	p.Admin = admin
	p.TrustedSigner = crypto.PubkeyToAddress(signer.PublicKey)
	p.FeeDestination = treasury
	p.Operators = []common.Address{operator}

	store, err := policy.NewStore(p, "")
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		t:       t,
		store:   store,
		usdb:    token.NewMemoryToken("USD Blast", "USDB"),
		factory: token.NewMemoryFactory(custody),
		signer:  signer,
		now:     time.Unix(1_704_500_000, 0),
	}

	clock := func() time.Time { return h.now }
	h.ledger, err = New(Config{
		Custody:  custody,
		Payment:  h.usdb,
		Factory:  h.factory,
		Policy:   store,
		Verifier: &signature.Verifier{Now: clock},
		Now:      clock,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, who := range []common.Address{carol, david} {
		h.fund(who, 40_000_000_000)
	}
	return h
}

func (h *harness) fund(who common.Address, amount int64) {
	h.t.Helper()
	if err := h.usdb.Mint(who, big.NewInt(amount)); err != nil {
		h.t.Fatal(err)
	}
	if err := h.usdb.Approve(who, custody, big.NewInt(amount)); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) launch(caller common.Address, name string) BondingID {
	h.t.Helper()
	id, err := h.ledger.LaunchBondings(context.Background(), caller, h.request(caller, name))
	if err != nil {
		h.t.Fatalf("launch %q: %v", name, err)
	}
	return id
}

func (h *harness) request(caller common.Address, name string) LaunchRequest {
	h.t.Helper()
	ts := uint64(h.now.Unix())
	sig, err := signature.Sign(signature.PackRegister(name, caller, ts), h.signer)
	if err != nil {
		h.t.Fatal(err)
	}
	return LaunchRequest{Name: name, Symbol: "hi", Timestamp: ts, Signature: sig}
}

func (h *harness) balance(who common.Address) int64 {
	h.t.Helper()
	b, err := h.usdb.BalanceOf(context.Background(), who)
	if err != nil {
		h.t.Fatal(err)
	}
	return b.Int64()
}

func TestCurveWorkedValues(t *testing.T) {
	unit := big.NewInt(1)
	tests := []struct {
		supply, amount uint64
		want           int64
	}{
		{0, 9, 285},
		{9, 5, 730},
		{7, 7, 875},
		{0, 1, 1},
		{0, 300, 9_045_050},
	}
	for _, tt := range tests {
		if got := Curve(unit, tt.supply, tt.amount); got.Int64() != tt.want {
			t.Errorf("Curve(%d, %d) = %s, want %d", tt.supply, tt.amount, got, tt.want)
		}
	}

	if got := Curve(big.NewInt(1000), 0, 9); got.Int64() != 285_000 {
		t.Errorf("scaled curve = %s", got)
	}
	if got := Fee(big.NewInt(285), 300); got.Int64() != 8 {
		t.Errorf("fee truncation: got %s, want 8", got)
	}
}

func TestWorkedScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launch(carol, "hello")

	start := h.balance(carol)

	r, err := h.ledger.BuyBondings(ctx, carol, "hello", 9, nil)
	if err != nil {
		t.Fatalf("buy 9: %v", err)
	}
	if r.Value.Int64() != 285 || r.Fee.Int64() != 8 || r.Total.Int64() != 293 {
		t.Errorf("buy 9 receipt: %+v", r)
	}
	if got := h.balance(carol) - start; got != -293 {
		t.Errorf("after buy 9: balance change %d, want -293", got)
	}

	r, err = h.ledger.BuyBondings(ctx, carol, "hello", 5, big.NewInt(751))
	if err != nil {
		t.Fatalf("buy 5: %v", err)
	}
	if r.Value.Int64() != 730 || r.Fee.Int64() != 21 {
		t.Errorf("buy 5 receipt: %+v", r)
	}

	before := h.balance(carol)
	r, err = h.ledger.SellBondings(ctx, carol, "hello", 7, big.NewInt(849))
	if err != nil {
		t.Fatalf("sell 7: %v", err)
	}
	if r.Value.Int64() != 875 || r.Fee.Int64() != 26 || r.Total.Int64() != 849 {
		t.Errorf("sell 7 receipt: %+v", r)
	}
	if got := h.balance(carol) - before; got != 849 {
		t.Errorf("sell 7: balance change %d, want +849", got)
	}

	if got := h.balance(treasury); got != 55 {
		t.Errorf("fees collected = %d, want 55", got)
	}

	b, _ := h.ledger.Bonding("hello")
	if b.TotalShare != 7 || b.CollectedFunds.Int64() != 140 {
		t.Errorf("bonding after scenario: %+v", b)
	}
	if got := h.balance(custody); got != 140 {
		t.Errorf("custody = %d, want 140", got)
	}
}

func TestStageProgression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launch(carol, "hello")

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 150, big.NewInt(1_000_000_000)); err != nil {
		t.Fatal(err)
	}
	assertShareStage(t, h.ledger, "hello", 150, StageFairLaunch)

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 150, big.NewInt(1_000_000_000)); err != nil {
		t.Fatal(err)
	}
	assertShareStage(t, h.ledger, "hello", 300, StageMintLimited)

	// selling back under the fair-launch threshold keeps stage 2
	if _, err := h.ledger.SellBondings(ctx, carol, "hello", 10, nil); err != nil {
		t.Fatal(err)
	}
	assertShareStage(t, h.ledger, "hello", 290, StageMintLimited)
}

func TestReachingMaxSupplyOpensBonding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SetMaxSupply(admin, 600); err != nil {
		t.Fatal(err)
	}
	h.launch(carol, "hello")

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 300, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.BuyBondings(ctx, david, "hello", 301, nil); !errors.Is(err, ErrExceedMaxSupply) {
		t.Errorf("overshoot: got %v", err)
	}

	r, err := h.ledger.BuyBondings(ctx, david, "hello", 300, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Stage != StageOpen {
		t.Errorf("stage after filling supply = %d, want 3", r.Stage)
	}
	assertShareStage(t, h.ledger, "hello", 600, StageOpen)

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 1, big.NewInt(100_000_000)); !errors.Is(err, ErrExceedMaxSupply) {
		t.Errorf("buy after stage 3: got %v, want ErrExceedMaxSupply", err)
	}
	_, err = h.ledger.SellBondings(ctx, carol, "hello", 1, big.NewInt(0))
	if !errors.Is(err, ErrAlreadyStage3) {
		t.Errorf("sell after stage 3: got %v, want ErrAlreadyStage3", err)
	}
	if err != nil && err.Error() != "Bondings already in stage 3!" {
		t.Errorf("revert reason = %q", err.Error())
	}
}

func TestBuyLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launch(carol, "hello")

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 301, nil); !errors.Is(err, ErrExceedMintLimit) {
		t.Errorf("mint limit: got %v", err)
	}

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 200, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 101, nil); !errors.Is(err, ErrExceedHoldLimit) {
		t.Errorf("hold limit: got %v", err)
	}
	// hold limit is per holder
	if _, err := h.ledger.BuyBondings(ctx, david, "hello", 101, nil); err != nil {
		t.Errorf("david within his own limit: %v", err)
	}

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 0, nil); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("zero amount: got %v", err)
	}
	if _, err := h.ledger.BuyBondings(ctx, carol, "nope", 1, nil); !errors.Is(err, ErrBondingNotFound) {
		t.Errorf("unknown name: got %v", err)
	}
}

func TestLimitChangesApplyToLaterTrades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launch(carol, "hello")

	if err := h.store.SetMintLimit(admin, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 11, nil); !errors.Is(err, ErrExceedMintLimit) {
		t.Errorf("got %v", err)
	}
	if err := h.store.SetHoldLimit(admin, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 6, nil); !errors.Is(err, ErrExceedHoldLimit) {
		t.Errorf("got %v", err)
	}
}

func TestSlippage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launch(carol, "hello")

	before := h.balance(carol)
	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 9, big.NewInt(292)); !errors.Is(err, ErrSlippageExceeded) {
		t.Errorf("buy: got %v", err)
	}
	if h.balance(carol) != before {
		t.Error("rejected buy moved funds")
	}
	if total, _ := h.ledger.GetBondingsTotalShare("hello"); total != 0 {
		t.Errorf("rejected buy minted %d", total)
	}

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 14, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.SellBondings(ctx, carol, "hello", 7, big.NewInt(850)); !errors.Is(err, ErrSlippageExceeded) {
		t.Errorf("sell: got %v", err)
	}
}

func TestSellChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launch(carol, "hello")

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 5, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.SellBondings(ctx, david, "hello", 1, nil); !errors.Is(err, ErrInsufficientShare) {
		t.Errorf("david sells: got %v", err)
	}
	if _, err := h.ledger.SellBondings(ctx, carol, "hello", 6, nil); !errors.Is(err, ErrInsufficientShare) {
		t.Errorf("oversell: got %v", err)
	}

	if _, err := h.ledger.SellBondings(ctx, carol, "hello", 5, nil); err != nil {
		t.Fatal(err)
	}
	b, _ := h.ledger.Bonding("hello")
	if b.TotalShare != 0 || b.Holders != 0 {
		t.Errorf("after full sell: %+v", b)
	}
}

func TestTransferOnlyWhenOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SetMaxSupply(admin, 300); err != nil {
		t.Fatal(err)
	}
	h.launch(carol, "hello")

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 100, nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.ledger.TransferBondings(ctx, carol, "hello", david, 10); !errors.Is(err, ErrTransferNotAllowed) {
		t.Errorf("transfer in stage 1: got %v", err)
	}

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 200, nil); err != nil {
		t.Fatal(err)
	}
	assertShareStage(t, h.ledger, "hello", 300, StageOpen)

	if _, _, err := h.ledger.TransferBondings(ctx, carol, "hello", common.Address{}, 1); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("zero recipient: got %v", err)
	}
	if _, _, err := h.ledger.TransferBondings(ctx, carol, "hello", david, 301); !errors.Is(err, ErrInsufficientShare) {
		t.Errorf("overdraw: got %v", err)
	}
	from, to, err := h.ledger.TransferBondings(ctx, carol, "hello", david, 120)
	if err != nil {
		t.Fatal(err)
	}
	if from != 180 || to != 120 {
		t.Errorf("returned balances: from=%d to=%d", from, to)
	}

	c, _ := h.ledger.UserShare("hello", carol)
	d, _ := h.ledger.UserShare("hello", david)
	if c != 180 || d != 120 {
		t.Errorf("shares after transfer: carol=%d david=%d", c, d)
	}

	// Sending to yourself leaves the balance where it was.
	if from, to, err := h.ledger.TransferBondings(ctx, david, "hello", david, 20); err != nil || from != 120 || to != 120 {
		t.Errorf("self transfer: from=%d to=%d err=%v", from, to, err)
	}
	assertShareStage(t, h.ledger, "hello", 300, StageOpen)
}

func TestLaunchValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launch(carol, "hello")

	if _, err := h.ledger.LaunchBondings(ctx, david, h.request(david, "hello")); !errors.Is(err, ErrNameAlreadyExists) {
		t.Errorf("duplicate: got %v", err)
	}
	if _, err := h.ledger.LaunchBondings(ctx, carol, h.request(carol, "")); !errors.Is(err, ErrInvalidName) {
		t.Errorf("empty name: got %v", err)
	}

	// signature issued for carol cannot be used by david
	req := h.request(carol, "world")
	if _, err := h.ledger.LaunchBondings(ctx, david, req); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("borrowed signature: got %v", err)
	}

	// stale authorization
	req = h.request(carol, "world")
	h.now = h.now.Add(6 * time.Minute)
	if _, err := h.ledger.LaunchBondings(ctx, carol, req); !errors.Is(err, ErrExpiredAuthorization) {
		t.Errorf("expired: got %v", err)
	}

	if names := h.ledger.Names(); len(names) != 1 || names[0] != "hello" {
		t.Errorf("rejected launches registered names: %v", names)
	}
}

func TestDeployUsesNameAsSymbol(t *testing.T) {
	h := newHarness(t)
	ts := uint64(h.now.Unix())
	sig, _ := signature.Sign(signature.PackRegister("world", david, ts), h.signer)

	id, err := h.ledger.Deploy(context.Background(), david, "world", ts, sig)
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.ledger.BondingByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if b.Symbol != "world" || b.Creator != david || b.Stage != StageFairLaunch || b.TotalShare != 0 {
		t.Errorf("deployed bonding: %+v", b)
	}
	if got, ok := h.ledger.Lookup("world"); !ok || got != id {
		t.Errorf("Lookup = %d, %t", got, ok)
	}
	if _, err := h.ledger.BondingByID(id + 1); !errors.Is(err, ErrBondingNotFound) {
		t.Errorf("out of range id: got %v", err)
	}
}

func TestArenaIDsFollowLaunchOrder(t *testing.T) {
	h := newHarness(t)
	for i, name := range []string{"a", "b", "c"} {
		if id := h.launch(carol, name); id != BondingID(i) {
			t.Errorf("%s got id %d, want %d", name, id, i)
		}
	}
	snaps := h.ledger.Snapshots()
	if len(snaps) != 3 || snaps[2].Name != "c" {
		t.Errorf("snapshots: %+v", snaps)
	}
}

func TestQuotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launch(carol, "hello")

	q, err := h.ledger.QuoteBuy("hello", 9)
	if err != nil {
		t.Fatal(err)
	}
	if q.Total.Int64() != 293 {
		t.Errorf("buy quote total = %s, want 293", q.Total)
	}

	r, err := h.ledger.BuyBondings(ctx, carol, "hello", 9, q.Total)
	if err != nil {
		t.Fatalf("buying at the quoted price: %v", err)
	}
	if r.Total.Cmp(q.Total) != 0 {
		t.Errorf("receipt %s != quote %s", r.Total, q.Total)
	}

	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 5, nil); err != nil {
		t.Fatal(err)
	}
	q, err = h.ledger.QuoteSell("hello", 7)
	if err != nil {
		t.Fatal(err)
	}
	if q.Value.Int64() != 875 || q.Total.Int64() != 849 {
		t.Errorf("sell quote: %+v", q)
	}

	if _, err := h.ledger.QuoteSell("hello", 15); !errors.Is(err, ErrInsufficientShare) {
		t.Errorf("oversized sell quote: got %v", err)
	}
	if _, err := h.ledger.QuoteBuy("hello", 2987); !errors.Is(err, ErrExceedMaxSupply) {
		t.Errorf("oversized buy quote: got %v", err)
	}
	if _, err := h.ledger.QuoteBuy("hello", 0); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("zero quote: got %v", err)
	}
}

func TestZeroFeeDestinationKeepsFeeInCustody(t *testing.T) {
	h := newHarness(t)
	if err := h.store.SetFeeDestination(admin, common.Address{}); err != nil {
		t.Fatal(err)
	}
	h.launch(carol, "hello")

	if _, err := h.ledger.BuyBondings(context.Background(), carol, "hello", 9, nil); err != nil {
		t.Fatal(err)
	}
	b, _ := h.ledger.Bonding("hello")
	if b.CollectedFunds.Int64() != 293 || h.balance(custody) != 293 {
		t.Errorf("collected %s, custody %d; want 293", b.CollectedFunds, h.balance(custody))
	}
}

func TestMaxSupplyGuard(t *testing.T) {
	h := newHarness(t)
	h.launch(carol, "hello")
	if _, err := h.ledger.BuyBondings(context.Background(), carol, "hello", 250, nil); err != nil {
		t.Fatal(err)
	}

	if err := h.store.SetFairLaunchSupply(admin, 200); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetMaxSupply(admin, 249); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("max below issued share: got %v", err)
	}
	if err := h.store.SetMaxSupply(admin, 250); err != nil {
		t.Errorf("max equal to issued share: %v", err)
	}

	// stages are not recomputed by a policy change
	if stage, _ := h.ledger.BondingsStage("hello"); stage != StageFairLaunch {
		t.Errorf("stage = %d, want 1", stage)
	}
}

// stallingPayment wraps a MemoryToken and holds payments from one account
// until release is closed.
type stallingPayment struct {
	*token.MemoryToken
	stall   common.Address
	entered chan struct{}
	release chan struct{}
}

func (s *stallingPayment) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if from == s.stall {
		close(s.entered)
		<-s.release
	}
	return s.MemoryToken.TransferFrom(ctx, spender, from, to, amount)
}

// within fails the test if fn does not return inside d.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s still blocked after %s", what, d)
	}
}

func TestSlowPaymentDoesNotStallPolicyOrOtherBondings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launch(carol, "a")
	h.launch(david, "b")
	if err := h.store.SetFairLaunchSupply(admin, 50); err != nil {
		t.Fatal(err)
	}

	pay := &stallingPayment{
		MemoryToken: h.usdb,
		stall:       carol,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	h.ledger.payment = pay

	buyErr := make(chan error, 1)
	go func() {
		_, err := h.ledger.BuyBondings(ctx, carol, "a", 100, nil)
		buyErr <- err
	}()
	<-pay.entered

	within(t, 2*time.Second, "hold limit update", func() {
		if err := h.store.SetHoldLimit(admin, 250); err != nil {
			t.Error(err)
		}
	})
	within(t, 2*time.Second, "buy on another bonding", func() {
		if _, err := h.ledger.BuyBondings(ctx, david, "b", 10, nil); err != nil {
			t.Error(err)
		}
	})

	// The pending buy on "a" counts against a lower max supply.
	within(t, 2*time.Second, "max supply update", func() {
		if err := h.store.SetMaxSupply(admin, 99); !errors.Is(err, ErrInvalidPolicy) {
			t.Errorf("max below pending buy: got %v", err)
		}
		if err := h.store.SetMaxSupply(admin, 100); err != nil {
			t.Errorf("max equal to pending buy: %v", err)
		}
	})

	close(pay.release)
	if err := <-buyErr; err != nil {
		t.Fatalf("stalled buy: %v", err)
	}
	assertShare(t, h.ledger, "a", 100)
	if err := h.store.SetMaxSupply(admin, 99); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("max below issued share: got %v", err)
	}
}

func TestFailedBuyReleasesReservation(t *testing.T) {
	h := newHarness(t)
	stranger := common.HexToAddress("0x5714")
	h.launch(carol, "hello")
	if err := h.store.SetFairLaunchSupply(admin, 10); err != nil {
		t.Fatal(err)
	}

	if _, err := h.ledger.BuyBondings(context.Background(), stranger, "hello", 200, nil); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("got %v", err)
	}
	if err := h.store.SetMaxSupply(admin, 10); err != nil {
		t.Errorf("failed buy still counted against max supply: %v", err)
	}
}

// failingPayment wraps a MemoryToken and fails transfers to one account.
type failingPayment struct {
	*token.MemoryToken
	failTo common.Address
	err    error
}

func (f *failingPayment) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if to == f.failTo {
		if f.err != nil {
			return f.err
		}
		return errors.New("recipient blacklisted")
	}
	return f.MemoryToken.Transfer(ctx, from, to, amount)
}

func TestBuyRefundsWhenFeeTransferFails(t *testing.T) {
	h := newHarness(t)
	pay := &failingPayment{MemoryToken: h.usdb, failTo: treasury}
	h.ledger.payment = pay
	h.launch(carol, "hello")

	before := h.balance(carol)
	_, err := h.ledger.BuyBondings(context.Background(), carol, "hello", 9, nil)
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("got %v, want ErrPaymentFailed", err)
	}
	if h.balance(carol) != before || h.balance(custody) != 0 {
		t.Errorf("funds not restored: carol %d, custody %d", h.balance(carol)-before, h.balance(custody))
	}
	if total, _ := h.ledger.GetBondingsTotalShare("hello"); total != 0 {
		t.Errorf("failed buy minted %d", total)
	}
}

func TestBuyNotRefundedWhileFeeForwardPending(t *testing.T) {
	h := newHarness(t)
	h.ledger.payment = &failingPayment{
		MemoryToken: h.usdb,
		failTo:      treasury,
		err:         fmt.Errorf("transfer: %w: 0xabc", token.ErrTransactionPending),
	}
	h.launch(carol, "hello")

	before := h.balance(carol)
	_, err := h.ledger.BuyBondings(context.Background(), carol, "hello", 9, nil)
	if !errors.Is(err, ErrPaymentFailed) || !errors.Is(err, token.ErrTransactionPending) {
		t.Fatalf("got %v", err)
	}
	// 285 cost + 8 fee stays collected; refunding could pay the fee twice.
	if h.balance(carol) != before-293 || h.balance(custody) != 293 {
		t.Errorf("carol moved %d, custody %d", h.balance(carol)-before, h.balance(custody))
	}
	if total, _ := h.ledger.GetBondingsTotalShare("hello"); total != 0 {
		t.Errorf("unconfirmed buy minted %d", total)
	}
}

func TestSellKeepsFeeWhenForwardFails(t *testing.T) {
	h := newHarness(t)
	h.launch(carol, "hello")
	ctx := context.Background()
	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 14, nil); err != nil {
		t.Fatal(err)
	}

	h.ledger.payment = &failingPayment{MemoryToken: h.usdb, failTo: treasury}
	r, err := h.ledger.SellBondings(ctx, carol, "hello", 7, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := h.ledger.Bonding("hello")
	// 1015 collected, 875 released, 26 fee kept back
	if want := int64(1015 - 875 + 26); b.CollectedFunds.Int64() != want {
		t.Errorf("collected = %s, want %d", b.CollectedFunds, want)
	}
	if r.Total.Int64() != 849 {
		t.Errorf("seller received %s", r.Total)
	}
}

func TestUnapprovedBuyFails(t *testing.T) {
	h := newHarness(t)
	stranger := common.HexToAddress("0x5714")
	h.launch(carol, "hello")

	_, err := h.ledger.BuyBondings(context.Background(), stranger, "hello", 1, nil)
	if !errors.Is(err, ErrPaymentFailed) || !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Errorf("got %v", err)
	}
}

func TestEventsPublished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []EventType
	unsubscribe := h.ledger.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Type)
	})

	h.launch(carol, "hello")
	if _, err := h.ledger.BuyBondings(ctx, carol, "hello", 300, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.SellBondings(ctx, carol, "hello", 1, nil); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	if _, err := h.ledger.BuyBondings(ctx, david, "hello", 1, nil); err != nil {
		t.Fatal(err)
	}

	want := []EventType{EventLaunched, EventBuy, EventStageChanged, EventSell}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	delivered := 0
	defer h.ledger.Subscribe(func(Event) { panic("subscriber bug") })()
	defer h.ledger.Subscribe(func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})()

	h.launch(carol, "hello")
	if _, err := h.ledger.BuyBondings(context.Background(), carol, "hello", 2, nil); err != nil {
		t.Fatalf("buy failed after subscriber panic: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
	assertShareStage(t, h.ledger, "hello", 2, StageFairLaunch)
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{ErrExceedMaxSupply, "exceed_max_supply"},
		{ErrNotAuthorized, "not_authorized"},
		{errors.Join(errors.New("ctx"), ErrAlreadyRetrieved), "already_retrieved"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.code {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}

func TestConcurrentTradesPreserveInvariants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SetHoldLimit(admin, 3000); err != nil {
		t.Fatal(err)
	}
	names := []string{"alpha", "beta", "gamma"}
	for _, n := range names {
		h.launch(carol, n)
	}

	buyers := make([]common.Address, 12)
	for i := range buyers {
		buyers[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		h.fund(buyers[i], 1_000_000_000_000)
	}

	var wg sync.WaitGroup
	for _, n := range names {
		for _, b := range buyers {
			wg.Add(1)
			go func(name string, buyer common.Address) {
				defer wg.Done()
				for i := 0; i < 30; i++ {
					_, _ = h.ledger.BuyBondings(ctx, buyer, name, 10, nil)
					if i%3 == 0 {
						_, _ = h.ledger.SellBondings(ctx, buyer, name, 5, nil)
					}
				}
			}(n, b)
		}
	}
	wg.Wait()

	for _, n := range names {
		r, _ := h.ledger.lookup(n)
		r.mu.Lock()
		var sum uint64
		for _, s := range r.shares {
			sum += s
		}
		total, stage, collected := r.totalShare, r.stage, new(big.Int).Set(r.collected)
		r.mu.Unlock()

		if sum != total {
			t.Errorf("%s: sum of shares %d != total %d", n, sum, total)
		}
		if total > 3000 {
			t.Errorf("%s: total %d exceeds max supply", n, total)
		}
		if total == 3000 && stage != StageOpen {
			t.Errorf("%s: full but stage %d", n, stage)
		}
		if want := Curve(big.NewInt(1), 0, total); collected.Cmp(want) != 0 {
			t.Errorf("%s: collected %s, want curve integral %s", n, collected, want)
		}
	}
}

func assertShare(t *testing.T, l *Ledger, name string, total uint64) {
	t.Helper()
	if got, err := l.GetBondingsTotalShare(name); err != nil || got != total {
		t.Errorf("%s total share = %d (%v), want %d", name, got, err, total)
	}
}

func assertShareStage(t *testing.T, l *Ledger, name string, total uint64, stage Stage) {
	t.Helper()
	gotTotal, err := l.GetBondingsTotalShare(name)
	if err != nil {
		t.Fatal(err)
	}
	gotStage, _ := l.BondingsStage(name)
	if gotTotal != total || gotStage != stage {
		t.Errorf("%s: total=%d stage=%d, want total=%d stage=%d", name, gotTotal, gotStage, total, stage)
	}
}
