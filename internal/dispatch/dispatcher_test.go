package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/chat-router/internal/assistant"
	"github.com/psds-microservice/chat-router/internal/burst"
	"github.com/psds-microservice/chat-router/internal/channel"
	"github.com/psds-microservice/chat-router/internal/dedup"
	"github.com/psds-microservice/chat-router/internal/errs"
	"github.com/psds-microservice/chat-router/internal/model"
)

type fakeConvStore struct {
	mu          sync.Mutex
	byCustomer  map[string]*model.Conversation
	transitions []string
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{byCustomer: make(map[string]*model.Conversation)}
}

func (f *fakeConvStore) GetByCustomer(_ context.Context, customerID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byCustomer[customerID]
	if !ok {
		return nil, errs.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConvStore) Create(_ context.Context, customerID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &model.Conversation{
		ID:               "conv-" + customerID,
		CustomerID:       customerID,
		Status:           model.ConversationStatusOpen,
		AssistantEnabled: true,
	}
	f.byCustomer[customerID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeConvStore) Transition(_ context.Context, id string, to model.ConversationStatus, actor model.Actor, reason string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byCustomer {
		if c.ID != id {
			continue
		}
		c.Status = to
		switch to {
		case model.ConversationStatusAssigned:
			c.AssignedOperator = actor.ID
			c.AssistantEnabled = false
		case model.ConversationStatusOpen:
			c.AssignedOperator = ""
			c.AssistantEnabled = true
		}
		f.transitions = append(f.transitions, string(to)+":"+reason)
		cp := *c
		return &cp, nil
	}
	return nil, errs.ErrConversationNotFound
}

func (f *fakeConvStore) TouchCustomerMessage(_ context.Context, id string, at time.Time) error {
	return nil
}

func (f *fakeConvStore) TouchAgentMessage(_ context.Context, id string, at time.Time) error {
	return nil
}

func (f *fakeConvStore) put(c *model.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byCustomer[c.CustomerID] = c
}

type fakeTicketStore struct {
	mu        sync.Mutex
	resolved  map[string]*model.Ticket
	reopenErr error
	reopened  []string
}

func newFakeTicketStore() *fakeTicketStore {
	return &fakeTicketStore{resolved: make(map[string]*model.Ticket)}
}

func (f *fakeTicketStore) LatestResolvedForConversation(_ context.Context, conversationID string) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.resolved[conversationID]
	if !ok {
		return nil, errs.ErrTicketNotFound
	}
	return t, nil
}

func (f *fakeTicketStore) Reopen(_ context.Context, ticketID string, actor model.Actor, reason string) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reopenErr != nil {
		return nil, f.reopenErr
	}
	f.reopened = append(f.reopened, ticketID+":"+reason)
	return &model.Ticket{TicketID: ticketID, Status: model.TicketStatusOpen}, nil
}

type fakeAssistant struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeAssistant) Reply(_ context.Context, _ []assistant.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, f.err
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	notified []string
}

func (f *fakeSender) Send(_ context.Context, recipientID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recipientID+":"+text)
}

func (f *fakeSender) NotifyOperator(_ context.Context, operatorID, conversationID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, operatorID+":"+text)
}

func testDispatcher(convs *fakeConvStore, tickets *fakeTicketStore, a *fakeAssistant, s *fakeSender) *Dispatcher {
	return New(nil, convs, tickets, a, s, Config{
		HandoffKeywords:   []string{"human", "operator"},
		HandoffOperatorID: "op-1",
		FallbackReply:     "please hold on",
	})
}

func TestHandleTurnAssistantReplies(t *testing.T) {
	convs := newFakeConvStore()
	tickets := newFakeTicketStore()
	a := &fakeAssistant{reply: "sure, here is how"}
	s := &fakeSender{}
	d := testDispatcher(convs, tickets, a, s)

	d.HandleTurn("cust-1", []burst.Item{{Text: "how do I reset my password"}})

	if a.calls != 1 {
		t.Fatalf("assistant calls = %d, want 1", a.calls)
	}
	if len(s.sent) != 1 || s.sent[0] != "cust-1:sure, here is how" {
		t.Fatalf("sent = %v", s.sent)
	}
	if len(s.notified) != 0 {
		t.Fatalf("unexpected operator notifications: %v", s.notified)
	}
}

func TestHandleTurnAssignedForwardsToOperator(t *testing.T) {
	convs := newFakeConvStore()
	convs.put(&model.Conversation{
		ID:               "conv-cust-1",
		CustomerID:       "cust-1",
		Status:           model.ConversationStatusAssigned,
		AssignedOperator: "op-7",
	})
	a := &fakeAssistant{reply: "should not be used"}
	s := &fakeSender{}
	d := testDispatcher(convs, newFakeTicketStore(), a, s)

	d.HandleTurn("cust-1", []burst.Item{{Text: "any update?"}})

	if a.calls != 0 {
		t.Fatalf("assistant must not be called for assigned conversation, calls = %d", a.calls)
	}
	if len(s.notified) != 1 || s.notified[0] != "op-7:any update?" {
		t.Fatalf("notified = %v", s.notified)
	}
	if len(s.sent) != 0 {
		t.Fatalf("unexpected direct sends: %v", s.sent)
	}
}

func TestHandleTurnHandoffKeyword(t *testing.T) {
	convs := newFakeConvStore()
	a := &fakeAssistant{reply: "irrelevant"}
	s := &fakeSender{}
	d := testDispatcher(convs, newFakeTicketStore(), a, s)

	d.HandleTurn("cust-1", []burst.Item{{Text: "I want to talk to a HUMAN"}})

	conv, err := convs.GetByCustomer(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("GetByCustomer: %v", err)
	}
	if conv.Status != model.ConversationStatusAssigned || conv.AssignedOperator != "op-1" {
		t.Fatalf("conversation = %s/%s, want assigned/op-1", conv.Status, conv.AssignedOperator)
	}
	if a.calls != 0 {
		t.Fatalf("assistant called after handoff")
	}
	if len(s.notified) != 1 {
		t.Fatalf("notified = %v, want one forward", s.notified)
	}
}

func TestHandleTurnAssistantFailureFallsBack(t *testing.T) {
	convs := newFakeConvStore()
	a := &fakeAssistant{err: errors.New("upstream down")}
	s := &fakeSender{}
	d := testDispatcher(convs, newFakeTicketStore(), a, s)

	d.HandleTurn("cust-1", []burst.Item{{Text: "hello"}})

	if len(s.sent) != 1 || s.sent[0] != "cust-1:please hold on" {
		t.Fatalf("sent = %v, want fallback reply", s.sent)
	}
}

func TestHandleTurnReopensClosedConversation(t *testing.T) {
	convs := newFakeConvStore()
	convs.put(&model.Conversation{
		ID:         "conv-cust-1",
		CustomerID: "cust-1",
		Status:     model.ConversationStatusClosed,
	})
	a := &fakeAssistant{reply: "welcome back"}
	s := &fakeSender{}
	d := testDispatcher(convs, newFakeTicketStore(), a, s)

	d.HandleTurn("cust-1", []burst.Item{{Text: "hi again"}})

	conv, _ := convs.GetByCustomer(context.Background(), "cust-1")
	if conv.Status != model.ConversationStatusOpen {
		t.Fatalf("status = %s, want open", conv.Status)
	}
	if len(convs.transitions) == 0 || convs.transitions[0] != "open:customer_activity" {
		t.Fatalf("transitions = %v", convs.transitions)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent = %v, want assistant reply after reopen", s.sent)
	}
}

func TestHandleTurnWaitingResumesAssigned(t *testing.T) {
	convs := newFakeConvStore()
	convs.put(&model.Conversation{
		ID:               "conv-cust-1",
		CustomerID:       "cust-1",
		Status:           model.ConversationStatusWaiting,
		AssignedOperator: "op-3",
	})
	s := &fakeSender{}
	d := testDispatcher(convs, newFakeTicketStore(), &fakeAssistant{}, s)

	d.HandleTurn("cust-1", []burst.Item{{Text: "here is the screenshot"}})

	conv, _ := convs.GetByCustomer(context.Background(), "cust-1")
	if conv.Status != model.ConversationStatusAssigned {
		t.Fatalf("status = %s, want assigned", conv.Status)
	}
	if len(s.notified) != 1 {
		t.Fatalf("notified = %v, want forward to operator", s.notified)
	}
}

func TestHandleTurnAutoReopensResolvedTicket(t *testing.T) {
	convs := newFakeConvStore()
	convs.put(&model.Conversation{
		ID:               "conv-cust-1",
		CustomerID:       "cust-1",
		Status:           model.ConversationStatusOpen,
		AssistantEnabled: true,
	})
	tickets := newFakeTicketStore()
	tickets.resolved["conv-cust-1"] = &model.Ticket{TicketID: "TCK-2025-00007", Status: model.TicketStatusResolved}
	s := &fakeSender{}
	d := testDispatcher(convs, tickets, &fakeAssistant{reply: "noted"}, s)

	d.HandleTurn("cust-1", []burst.Item{{Text: "it broke again"}})

	if len(tickets.reopened) != 1 || tickets.reopened[0] != "TCK-2025-00007:customer_followup" {
		t.Fatalf("reopened = %v", tickets.reopened)
	}
}

func TestHandleTurnReopenRejectionDoesNotBlockReply(t *testing.T) {
	convs := newFakeConvStore()
	convs.put(&model.Conversation{
		ID:               "conv-cust-1",
		CustomerID:       "cust-1",
		Status:           model.ConversationStatusOpen,
		AssistantEnabled: true,
	})
	tickets := newFakeTicketStore()
	tickets.resolved["conv-cust-1"] = &model.Ticket{TicketID: "TCK-2025-00007", Status: model.TicketStatusResolved}
	tickets.reopenErr = &errs.ReopenNotAllowedError{TicketID: "TCK-2025-00007", Reason: "auto reopen window of 48h0m0s expired"}
	s := &fakeSender{}
	d := testDispatcher(convs, tickets, &fakeAssistant{reply: "noted"}, s)

	d.HandleTurn("cust-1", []burst.Item{{Text: "it broke again"}})

	if len(s.sent) != 1 || s.sent[0] != "cust-1:noted" {
		t.Fatalf("sent = %v, want assistant reply despite reopen rejection", s.sent)
	}
}

func TestIngestDedupAndBurst(t *testing.T) {
	convs := newFakeConvStore()
	a := &fakeAssistant{reply: "combined answer"}
	s := &fakeSender{}

	cache := dedup.New(time.Minute)
	defer cache.Close()

	d := New(cache, convs, newFakeTicketStore(), a, s, Config{FallbackReply: "hold on"})
	agg := burst.New(30*time.Millisecond, d.HandleTurn)
	defer agg.Close()
	d.SetAggregator(agg)

	d.Ingest(channel.InboundMessage{SenderID: "cust-1", Text: "hello", ExternalMessageID: "m1"})
	d.Ingest(channel.InboundMessage{SenderID: "cust-1", Text: "hello", ExternalMessageID: "m1"}) // redelivery
	d.Ingest(channel.InboundMessage{SenderID: "cust-1", Text: "are you there", ExternalMessageID: "m2"})

	time.Sleep(150 * time.Millisecond)

	a.mu.Lock()
	calls := a.calls
	a.mu.Unlock()
	if calls != 1 {
		t.Fatalf("assistant calls = %d, want 1 combined turn", calls)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) != 1 {
		t.Fatalf("sent = %v, want single combined reply", s.sent)
	}
}
