package dedup

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSeen_SecondDeliveryDropped(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	if c.Seen("cust-1:msg-100") {
		t.Fatal("first delivery must not be seen")
	}
	if !c.Seen("cust-1:msg-100") {
		t.Fatal("redelivery within TTL must be seen")
	}
	if c.Seen("cust-1:msg-101") {
		t.Fatal("distinct id must not be seen")
	}
}

func TestSeen_ExpiryReadmits(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()
	base := time.Now()
	c.now = func() time.Time { return base }

	if c.Seen("msg-1") {
		t.Fatal("first delivery must not be seen")
	}
	c.now = func() time.Time { return base.Add(61 * time.Second) }
	if c.Seen("msg-1") {
		t.Fatal("delivery after TTL expiry must be treated as new")
	}
}

func TestSeen_ConcurrentSenders(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	const senders = 32
	const perSender = 50
	var wg sync.WaitGroup
	dropped := make([]int, senders)
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				// every id delivered twice
				id := fmt.Sprintf("sender-%d:msg-%d", s, i)
				if c.Seen(id) {
					dropped[s]++
				}
				if c.Seen(id) {
					dropped[s]++
				}
			}
		}(s)
	}
	wg.Wait()

	for s, n := range dropped {
		if n != perSender {
			t.Fatalf("sender %d: expected exactly %d duplicates dropped, got %d", s, perSender, n)
		}
	}
	if c.Len() != senders*perSender {
		t.Fatalf("expected %d cached ids, got %d", senders*perSender, c.Len())
	}
}
