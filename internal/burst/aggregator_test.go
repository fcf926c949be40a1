package burst

import (
	"sync"
	"testing"
	"time"
)

type capture struct {
	mu      sync.Mutex
	turns   [][]Item
	senders []string
}

func (c *capture) dispatch(senderID string, items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders = append(c.senders, senderID)
	c.turns = append(c.turns, items)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

func TestEnqueue_BurstProducesOneTurn(t *testing.T) {
	cap := &capture{}
	a := New(60*time.Millisecond, cap.dispatch)
	defer a.Close()

	a.Enqueue("cust-1", Item{Text: "hello"})
	time.Sleep(15 * time.Millisecond)
	a.Enqueue("cust-1", Item{Text: "are you there"})

	deadline := time.Now().Add(time.Second)
	for cap.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := cap.count(); got != 1 {
		t.Fatalf("expected exactly one dispatched turn, got %d", got)
	}
	if got := CombineText(cap.turns[0]); got != "hello\n\nare you there" {
		t.Fatalf("combined turn = %q", got)
	}
	if a.Pending("cust-1") != 0 {
		t.Fatal("queue must be cleared after dispatch")
	}
}

func TestEnqueue_TimerResetDelaysDispatch(t *testing.T) {
	cap := &capture{}
	a := New(50*time.Millisecond, cap.dispatch)
	defer a.Close()

	// keep the sender "talking" faster than the window
	for i := 0; i < 4; i++ {
		a.Enqueue("cust-1", Item{Text: "m"})
		time.Sleep(20 * time.Millisecond)
	}
	if got := cap.count(); got != 0 {
		t.Fatalf("dispatch before the sender went silent: %d turns", got)
	}

	time.Sleep(90 * time.Millisecond)
	if got := cap.count(); got != 1 {
		t.Fatalf("expected one turn after silence, got %d", got)
	}
	if got := len(cap.turns[0]); got != 4 {
		t.Fatalf("expected all 4 items in the turn, got %d", got)
	}
}

func TestEnqueue_SendersAreIndependent(t *testing.T) {
	cap := &capture{}
	a := New(30*time.Millisecond, cap.dispatch)
	defer a.Close()

	a.Enqueue("cust-1", Item{Text: "a"})
	a.Enqueue("cust-2", Item{Text: "b"})

	deadline := time.Now().Add(time.Second)
	for cap.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := cap.count(); got != 2 {
		t.Fatalf("expected one turn per sender, got %d", got)
	}
}

func TestEnqueue_DuringDispatchStartsFreshQueue(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	cap := &capture{}
	a := New(25*time.Millisecond, func(senderID string, items []Item) {
		cap.dispatch(senderID, items)
		if cap.count() == 1 {
			close(started)
			<-release // hold the first dispatch open
		}
	})

	a.Enqueue("cust-1", Item{Text: "first"})
	<-started

	// arrives while the first dispatch is still running
	a.Enqueue("cust-1", Item{Text: "second"})
	close(release)

	deadline := time.Now().Add(time.Second)
	for cap.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	a.Close()

	if got := cap.count(); got != 2 {
		t.Fatalf("expected a second independent turn, got %d turns", got)
	}
	if got := CombineText(cap.turns[1]); got != "second" {
		t.Fatalf("second turn = %q", got)
	}
}

func TestClose_FlushesPending(t *testing.T) {
	cap := &capture{}
	a := New(time.Hour, cap.dispatch)
	a.Enqueue("cust-1", Item{Text: "bye"})
	a.Close()

	if got := cap.count(); got != 1 {
		t.Fatalf("expected pending queue flushed on close, got %d turns", got)
	}
	a.Enqueue("cust-1", Item{Text: "late"})
	if a.Pending("cust-1") != 0 {
		t.Fatal("enqueue after close must be ignored")
	}
}

func TestCombineText_SkipsEmptyItems(t *testing.T) {
	got := CombineText([]Item{{Text: "a"}, {Text: "  "}, {Text: "b"}})
	if got != "a\n\nb" {
		t.Fatalf("CombineText = %q", got)
	}
}
