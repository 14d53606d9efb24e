package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bondings/bondings/internal/util"
)

// EventType names a ledger event.
type EventType string

const (
	EventLaunched     EventType = "launched"
	EventBuy          EventType = "buy"
	EventSell         EventType = "sell"
	EventTransfer     EventType = "transfer"
	EventStageChanged EventType = "stage_changed"
	EventRetrieved    EventType = "retrieved"
)

// Event is published after a ledger operation commits.
type Event struct {
	Type       EventType      `json:"type"`
	ID         BondingID      `json:"id"`
	Name       string         `json:"name"`
	Account    common.Address `json:"account"`
	To         common.Address `json:"to,omitempty"`
	Amount     uint64         `json:"amount,omitempty"`
	Value      *big.Int       `json:"value,omitempty"`
	Fee        *big.Int       `json:"fee,omitempty"`
	TotalShare uint64         `json:"total_share"`
	Stage      Stage          `json:"stage"`
	PrevStage  Stage          `json:"prev_stage,omitempty"`
	Token      common.Address `json:"token,omitempty"`
	Time       time.Time      `json:"time"`
}

// Subscriber receives events synchronously and must not block or call
// mutating ledger methods.
type Subscriber func(Event)

// Subscribe registers fn and returns a function that removes it.
func (l *Ledger) Subscribe(fn Subscriber) (unsubscribe func()) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()

	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn

	return func() {
		l.subsMu.Lock()
		defer l.subsMu.Unlock()
		delete(l.subs, id)
	}
}

// publish runs after every lock of the originating operation is released.
func (l *Ledger) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()
	for _, ev := range events {
		for _, fn := range l.subs {
			deliver(fn, ev)
		}
	}
}

// deliver isolates the committed operation from a panicking subscriber.
func deliver(fn Subscriber, ev Event) {
	defer util.Recover("ledger-subscriber")
	fn(ev)
}
