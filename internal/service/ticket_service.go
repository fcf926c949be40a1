package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/chat-router/internal/errs"
	"github.com/psds-microservice/chat-router/internal/model"
	"github.com/psds-microservice/chat-router/internal/state"
	"gorm.io/gorm"
)

// События, передаваемые в TicketHook.
const (
	EventTicketCreated       = "ticket_created"
	EventTicketStatusChanged = "ticket_status_changed"
	EventTicketReopened      = "ticket_reopened"
)

// TicketHook вызывается после зафиксированного изменения тикета.
type TicketHook func(ctx context.Context, event string, prev model.TicketStatus, t *model.Ticket, actor model.Actor, reason string)

// TicketConfig — бизнес-параметры тикетов.
type TicketConfig struct {
	MaxReopenCount   int
	AutoReopenWindow time.Duration
	Categories       []string
	Priorities       []string
}

type TicketService struct {
	db    *gorm.DB
	seq   *SequenceService
	cfg   TicketConfig
	hooks []TicketHook
	now   func() time.Time
}

func NewTicketService(db *gorm.DB, seq *SequenceService, cfg TicketConfig) *TicketService {
	return &TicketService{db: db, seq: seq, cfg: cfg, now: time.Now}
}

// OnTransition регистрирует хук; хуки вызываются в порядке регистрации.
func (s *TicketService) OnTransition(h TicketHook) {
	s.hooks = append(s.hooks, h)
}

// CreateTicketInput — входные данные создания тикета (ассистентом через
// tool-call или оператором вручную).
type CreateTicketInput struct {
	CustomerID     string
	ConversationID string
	Subject        string
	Description    string
	Category       string
	Priority       string
	Actor          model.Actor
}

// Create выдаёт номер из последовательности и создаёт тикет в статусе new
// с первой записью истории. Без успешно выданного номера тикет не создаётся.
func (s *TicketService) Create(ctx context.Context, in CreateTicketInput) (*model.Ticket, error) {
	if in.Category == "" {
		in.Category = "general"
	}
	if in.Priority == "" {
		in.Priority = "normal"
	}
	if !contains(s.cfg.Categories, in.Category) {
		return nil, fmt.Errorf("category %q: %w", in.Category, errs.ErrInvalidCategory)
	}
	if !contains(s.cfg.Priorities, in.Priority) {
		return nil, fmt.Errorf("priority %q: %w", in.Priority, errs.ErrInvalidPriority)
	}

	period := CurrentPeriod(s.now())
	ticketID, err := s.seq.NextTicketID(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("issue ticket id: %w", err)
	}

	t := &model.Ticket{
		TicketID:       ticketID,
		CustomerID:     in.CustomerID,
		ConversationID: in.ConversationID,
		Subject:        in.Subject,
		Description:    in.Description,
		Status:         model.TicketStatusNew,
		Priority:       in.Priority,
		Category:       in.Category,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return tx.Create(&model.TicketStatusHistory{
			TicketRef:  t.ID,
			FromStatus: "",
			ToStatus:   model.TicketStatusNew,
			ChangedBy:  in.Actor.ID,
			Reason:     "created",
			ChangedAt:  s.now(),
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	for _, h := range s.hooks {
		h(ctx, EventTicketCreated, "", t, in.Actor, "created")
	}
	return t, nil
}

func (s *TicketService) GetByTicketID(ctx context.Context, ticketID string) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, "ticket_id = ?", ticketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TicketService) List(ctx context.Context, filter map[string]interface{}, limit, offset int) ([]model.Ticket, int64, error) {
	var items []model.Ticket
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	for k, v := range filter {
		tx = tx.Where(k, v)
	}
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if err := tx.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// History — append-only журнал смен статуса, в порядке записи.
func (s *TicketService) History(ctx context.Context, ticketID string) ([]model.TicketStatusHistory, error) {
	t, err := s.GetByTicketID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	var items []model.TicketStatusHistory
	err = s.db.WithContext(ctx).
		Where("ticket_ref = ?", t.ID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// Transition проводит тикет по таблице смежности, добавляя ровно одну запись
// истории в той же транзакции. Reopen-рёбра проходят через guard reopen
// (ручной путь — без проверки окна, оба пути — с проверкой лимита).
func (s *TicketService) Transition(ctx context.Context, ticketID string, to model.TicketStatus, actor model.Actor, reason string) (*model.Ticket, error) {
	manual := actor.Role != model.RoleSystem
	return s.transition(ctx, ticketID, to, actor, reason, manual)
}

// Reopen — явный reopen по имени; reason обязателен для истории.
func (s *TicketService) Reopen(ctx context.Context, ticketID string, actor model.Actor, reason string) (*model.Ticket, error) {
	manual := actor.Role != model.RoleSystem
	t, err := s.GetByTicketID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !state.IsTicketReopenEdge(t.Status, model.TicketStatusOpen) {
		return nil, &errs.ReopenNotAllowedError{
			TicketID: ticketID,
			Reason:   fmt.Sprintf("status %s is not reopenable", t.Status),
		}
	}
	return s.transition(ctx, ticketID, model.TicketStatusOpen, actor, reason, manual)
}

func (s *TicketService) transition(ctx context.Context, ticketID string, to model.TicketStatus, actor model.Actor, reason string, manual bool) (*model.Ticket, error) {
	var t model.Ticket
	var prev model.TicketStatus
	reopened := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, "ticket_id = ?", ticketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrTicketNotFound
			}
			return err
		}
		prev = t.Status
		entry, r, err := s.applyTransition(&t, to, actor, reason, manual)
		if err != nil {
			return err
		}
		reopened = r
		if err := tx.Save(&t).Error; err != nil {
			return err
		}
		entry.TicketRef = t.ID
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}

	event := EventTicketStatusChanged
	if reopened {
		event = EventTicketReopened
	}
	for _, h := range s.hooks {
		h(ctx, event, prev, &t, actor, reason)
	}
	return &t, nil
}

// applyTransition — ядро перехода без хранилища: проверка по таблице,
// guard reopen, побочные эффекты. Возвращает ровно одну запись истории для
// фиксации в той же транзакции; при ошибке тикет не изменяется.
func (s *TicketService) applyTransition(t *model.Ticket, to model.TicketStatus, actor model.Actor, reason string, manual bool) (*model.TicketStatusHistory, bool, error) {
	prev := t.Status
	if err := state.CheckTicket(prev, to); err != nil {
		return nil, false, err
	}
	reopened := false
	if state.IsTicketReopenEdge(prev, to) {
		if err := reopenAllowed(t, manual, s.now(), s.cfg.AutoReopenWindow, s.cfg.MaxReopenCount); err != nil {
			return nil, false, err
		}
		s.applyReopen(t)
		reopened = true
	} else {
		s.applySideEffects(t, to, actor, reason)
	}
	t.Status = to
	return &model.TicketStatusHistory{
		TicketRef:  t.ID,
		FromStatus: prev,
		ToStatus:   to,
		ChangedBy:  actor.ID,
		Reason:     reason,
		ChangedAt:  s.now(),
	}, reopened, nil
}

func (s *TicketService) applySideEffects(t *model.Ticket, to model.TicketStatus, actor model.Actor, reason string) {
	now := s.now()
	switch to {
	case model.TicketStatusResolved:
		// Resolution ставится один раз за resolve; reason — краткое summary.
		t.ResolutionSummary = reason
		t.ResolvedBy = actor.ID
		t.ResolvedAt = &now
	case model.TicketStatusClosed, model.TicketStatusCancelled:
		t.ClosedAt = &now
	}
}

func (s *TicketService) applyReopen(t *model.Ticket) {
	now := s.now()
	t.ReopenCount++
	t.LastReopenedAt = &now
	t.ResolutionSummary = ""
	t.ResolvedBy = ""
	t.ResolvedAt = nil
	t.ClosedAt = nil
}

// reopenAllowed — guard ограниченного reopen: статус уже проверен по таблице,
// здесь проверяются лимит повторных открытий и, для автоматического пути,
// окно от момента resolve.
func reopenAllowed(t *model.Ticket, manual bool, now time.Time, window time.Duration, max int) error {
	if t.ReopenCount >= max {
		return &errs.ReopenNotAllowedError{
			TicketID: t.TicketID,
			Reason:   fmt.Sprintf("reopen limit reached (%d of %d)", t.ReopenCount, max),
		}
	}
	if manual {
		return nil
	}
	if t.ResolvedAt == nil {
		return &errs.ReopenNotAllowedError{
			TicketID: t.TicketID,
			Reason:   "no resolution timestamp for auto reopen",
		}
	}
	if now.Sub(*t.ResolvedAt) > window {
		return &errs.ReopenNotAllowedError{
			TicketID: t.TicketID,
			Reason:   fmt.Sprintf("auto reopen window of %s expired", window),
		}
	}
	return nil
}

// LatestResolvedForConversation — последний resolved-тикет конверсации;
// кандидат на авто-reopen при новом сообщении клиента.
func (s *TicketService) LatestResolvedForConversation(ctx context.Context, conversationID string) (*model.Ticket, error) {
	var t model.Ticket
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND status = ?", conversationID, model.TicketStatusResolved).
		Order("resolved_at DESC").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// AddNote добавляет заметку; internal-заметки не уходят клиенту.
func (s *TicketService) AddNote(ctx context.Context, ticketID, author, body string, internal bool) (*model.TicketNote, error) {
	t, err := s.GetByTicketID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	n := &model.TicketNote{
		TicketRef: t.ID,
		Author:    author,
		Body:      body,
		Internal:  internal,
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, fmt.Errorf("add note: %w", err)
	}
	return n, nil
}

func (s *TicketService) Notes(ctx context.Context, ticketID string) ([]model.TicketNote, error) {
	t, err := s.GetByTicketID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	var items []model.TicketNote
	err = s.db.WithContext(ctx).
		Where("ticket_ref = ?", t.ID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
