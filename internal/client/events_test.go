package client

import (
	"math/big"
	"testing"

	"github.com/bondings/bondings/internal/ledger"
)

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	stream, err := f.anon.Events(f.ctx, "hello")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	defer stream.Close()

	f.launch(t, f.alice, "other")
	f.launch(t, f.alice, "hello")
	if _, err := f.alice.Buy(f.ctx, "hello", 2, big.NewInt(1000)); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	ev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != ledger.EventLaunched || ev.Name != "hello" {
		t.Errorf("first event = %s %s, want launched hello", ev.Type, ev.Name)
	}

	ev, err = stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != ledger.EventBuy || ev.Amount != 2 || ev.TotalShare != 2 {
		t.Errorf("unexpected buy event %+v", ev)
	}
	if ev.Account != f.alice.signer.Address() {
		t.Errorf("event account = %s", ev.Account.Hex())
	}
}
