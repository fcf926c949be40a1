package dispatch

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/psds-microservice/chat-router/internal/assistant"
	"github.com/psds-microservice/chat-router/internal/burst"
	"github.com/psds-microservice/chat-router/internal/channel"
	"github.com/psds-microservice/chat-router/internal/dedup"
	"github.com/psds-microservice/chat-router/internal/errs"
	"github.com/psds-microservice/chat-router/internal/model"
)

// ConversationStore — подмножество ConversationService, нужное диспетчеру.
type ConversationStore interface {
	GetByCustomer(ctx context.Context, customerID string) (*model.Conversation, error)
	Create(ctx context.Context, customerID string) (*model.Conversation, error)
	Transition(ctx context.Context, id string, to model.ConversationStatus, actor model.Actor, reason string) (*model.Conversation, error)
	TouchCustomerMessage(ctx context.Context, id string, at time.Time) error
	TouchAgentMessage(ctx context.Context, id string, at time.Time) error
}

// TicketStore — подмножество TicketService, нужное для авто-reopen.
type TicketStore interface {
	LatestResolvedForConversation(ctx context.Context, conversationID string) (*model.Ticket, error)
	Reopen(ctx context.Context, ticketID string, actor model.Actor, reason string) (*model.Ticket, error)
}

// Assistant отвечает на объединённый текст клиентского хода.
type Assistant interface {
	Reply(ctx context.Context, messages []assistant.Message) (string, error)
}

// Sender доставляет исходящие сообщения в канал.
type Sender interface {
	Send(ctx context.Context, recipientID, text string)
	NotifyOperator(ctx context.Context, operatorID, conversationID, text string)
}

// Config — параметры маршрутизации клиентских ходов.
type Config struct {
	HandoffKeywords   []string
	HandoffOperatorID string
	FallbackReply     string
}

// Dispatcher принимает входящие сообщения, отсекает повторные доставки,
// склеивает всплески в ходы и маршрутизирует ход оператору или ассистенту.
type Dispatcher struct {
	deduper    dedup.Deduper
	aggregator *burst.Aggregator
	convs      ConversationStore
	tickets    TicketStore
	assistant  Assistant
	sender     Sender
	cfg        Config
	now        func() time.Time
}

func New(deduper dedup.Deduper, convs ConversationStore, tickets TicketStore, a Assistant, sender Sender, cfg Config) *Dispatcher {
	return &Dispatcher{
		deduper:   deduper,
		convs:     convs,
		tickets:   tickets,
		assistant: a,
		sender:    sender,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetAggregator привязывает агрегатор всплесков; его DispatchFunc должен
// указывать на HandleTurn этого диспетчера.
func (d *Dispatcher) SetAggregator(a *burst.Aggregator) {
	d.aggregator = a
}

// Ingest принимает сообщение из вебхука: повторная доставка того же
// external id от того же отправителя отбрасывается, остальное уходит
// в агрегатор всплесков.
func (d *Dispatcher) Ingest(msg channel.InboundMessage) {
	if d.deduper.Seen(msg.DedupKey()) {
		log.Printf("dispatch: duplicate delivery %s dropped", msg.DedupKey())
		return
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}
	d.aggregator.Enqueue(msg.SenderID, burst.Item{
		Text:              msg.Text,
		ExternalMessageID: msg.ExternalMessageID,
		ReceivedAt:        ts,
	})
}

// HandleTurn обрабатывает один склеенный ход клиента. Вызывается из
// таймера агрегатора, поэтому работает на собственном контексте.
func (d *Dispatcher) HandleTurn(senderID string, items []burst.Item) {
	ctx := context.Background()
	now := d.now()

	conv, err := d.convs.GetByCustomer(ctx, senderID)
	if errors.Is(err, errs.ErrConversationNotFound) {
		conv, err = d.convs.Create(ctx, senderID)
	}
	if err != nil {
		log.Printf("dispatch: conversation for %s: %v", senderID, err)
		return
	}

	if err := d.convs.TouchCustomerMessage(ctx, conv.ID, now); err != nil {
		log.Printf("dispatch: touch customer message: %v", err)
	}

	system := model.Actor{ID: "system", Role: model.RoleSystem}

	// Активность клиента возвращает конверсацию в работу.
	switch conv.Status {
	case model.ConversationStatusClosed, model.ConversationStatusResolved:
		conv, err = d.convs.Transition(ctx, conv.ID, model.ConversationStatusOpen, system, "customer_activity")
		if err != nil {
			log.Printf("dispatch: reopen conversation %s: %v", conv.ID, err)
			return
		}
	case model.ConversationStatusWaiting:
		actor := model.Actor{ID: conv.AssignedOperator, Role: model.RoleSystem}
		conv, err = d.convs.Transition(ctx, conv.ID, model.ConversationStatusAssigned, actor, "customer_reply")
		if err != nil {
			log.Printf("dispatch: resume conversation %s: %v", conv.ID, err)
			return
		}
	}

	d.maybeReopenTicket(ctx, conv.ID)

	text := burst.CombineText(items)

	if conv.Status == model.ConversationStatusOpen && d.cfg.HandoffOperatorID != "" && matchesHandoff(text, d.cfg.HandoffKeywords) {
		operator := model.Actor{ID: d.cfg.HandoffOperatorID, Role: model.RoleOperator}
		conv, err = d.convs.Transition(ctx, conv.ID, model.ConversationStatusAssigned, operator, "handoff_keyword")
		if err != nil {
			log.Printf("dispatch: handoff for conversation %s: %v", conv.ID, err)
		}
	}

	if conv.Status == model.ConversationStatusAssigned {
		d.sender.NotifyOperator(ctx, conv.AssignedOperator, conv.ID, text)
		return
	}

	if !conv.AssistantEnabled {
		return
	}

	reply, err := d.assistant.Reply(ctx, []assistant.Message{{Role: "user", Content: text}})
	if err != nil {
		log.Printf("dispatch: assistant reply for %s: %v", conv.ID, err)
		reply = d.cfg.FallbackReply
	}
	if reply == "" {
		return
	}
	d.sender.Send(ctx, conv.CustomerID, reply)
	if err := d.convs.TouchAgentMessage(ctx, conv.ID, d.now()); err != nil {
		log.Printf("dispatch: touch agent message: %v", err)
	}
}

// maybeReopenTicket автоматически открывает последний resolved-тикет
// конверсации при новом сообщении клиента. Отказ guard'а (окно истекло,
// лимит исчерпан) не прерывает обработку хода.
func (d *Dispatcher) maybeReopenTicket(ctx context.Context, conversationID string) {
	t, err := d.tickets.LatestResolvedForConversation(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, errs.ErrTicketNotFound) {
			log.Printf("dispatch: latest resolved ticket for %s: %v", conversationID, err)
		}
		return
	}
	system := model.Actor{ID: "system", Role: model.RoleSystem}
	if _, err := d.tickets.Reopen(ctx, t.TicketID, system, "customer_followup"); err != nil {
		if errs.IsReopenNotAllowed(err) {
			log.Printf("dispatch: auto reopen %s skipped: %v", t.TicketID, err)
			return
		}
		log.Printf("dispatch: auto reopen %s: %v", t.TicketID, err)
	}
}

func matchesHandoff(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
