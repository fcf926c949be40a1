package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/chat-router/internal/errs"
	"github.com/psds-microservice/chat-router/internal/model"
	"github.com/psds-microservice/chat-router/internal/state"
	"gorm.io/gorm"
)

// ConversationHook вызывается после зафиксированного перехода конверсации.
// Через хуки навешиваются события для observer-UI и правила синхронизации
// с тикетами — сами машины состояний друг о друге не знают.
type ConversationHook func(ctx context.Context, prev model.ConversationStatus, c *model.Conversation, actor model.Actor, reason string)

type ConversationService struct {
	db    *gorm.DB
	hooks []ConversationHook
	now   func() time.Time
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db, now: time.Now}
}

// OnTransition регистрирует хук; хуки вызываются в порядке регистрации.
func (s *ConversationService) OnTransition(h ConversationHook) {
	s.hooks = append(s.hooks, h)
}

func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrConversationNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetByCustomer возвращает последнюю по времени конверсацию клиента.
func (s *ConversationService) GetByCustomer(ctx context.Context, customerID string) (*model.Conversation, error) {
	var c model.Conversation
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrConversationNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Create заводит конверсацию по первому входящему сообщению клиента:
// статус open, ассистент включён.
func (s *ConversationService) Create(ctx context.Context, customerID string) (*model.Conversation, error) {
	now := s.now()
	c := &model.Conversation{
		ID:               uuid.NewString(),
		CustomerID:       customerID,
		Status:           model.ConversationStatusOpen,
		AssistantEnabled: true,
		LastMessageAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *ConversationService) List(ctx context.Context, filter map[string]interface{}, limit, offset int) ([]model.Conversation, int64, error) {
	var items []model.Conversation
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Conversation{})
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

// Transition — единственная точка смены статуса конверсации; ею пользуются
// и действия оператора, и диспетчер, и фоновая сверка. Переход валидируется
// по таблице смежности, побочные эффекты применяются атомарно.
func (s *ConversationService) Transition(ctx context.Context, id string, to model.ConversationStatus, actor model.Actor, reason string) (*model.Conversation, error) {
	var c model.Conversation
	var prev model.ConversationStatus

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrConversationNotFound
			}
			return err
		}
		prev = c.Status
		if err := state.CheckConversation(prev, to); err != nil {
			return err
		}
		if err := s.checkRole(prev, to, actor); err != nil {
			return err
		}
		s.applySideEffects(&c, prev, to, actor)
		c.Status = to
		return tx.Save(&c).Error
	})
	if err != nil {
		return nil, err
	}

	for _, h := range s.hooks {
		h(ctx, prev, &c, actor, reason)
	}
	return &c, nil
}

func (s *ConversationService) checkRole(from, to model.ConversationStatus, actor model.Actor) error {
	// Force-close минуя resolved разрешён только повышенным ролям.
	if to == model.ConversationStatusClosed && from != model.ConversationStatusResolved && !actor.Elevated() {
		return fmt.Errorf("close %s conversation: %w", from, errs.ErrForbidden)
	}
	// Reopen закрытой конверсации: руками — supervisor, автоматически — system.
	// resolved -> open остаётся доступен всем: клиент возвращает диалог в
	// работу одним сообщением, пока тот не закрыт окончательно.
	if from == model.ConversationStatusClosed && to == model.ConversationStatusOpen && !actor.Elevated() {
		return fmt.Errorf("reopen closed conversation: %w", errs.ErrForbidden)
	}
	if to == model.ConversationStatusAssigned && actor.ID == "" {
		return fmt.Errorf("assign conversation: actor id is empty: %w", errs.ErrForbidden)
	}
	return nil
}

func (s *ConversationService) applySideEffects(c *model.Conversation, from, to model.ConversationStatus, actor model.Actor) {
	now := s.now()
	switch to {
	case model.ConversationStatusAssigned:
		// Оператор и ассистент взаимоисключающи.
		c.AssignedOperator = actor.ID
		c.AssistantEnabled = false
	case model.ConversationStatusOpen:
		c.AssignedOperator = ""
		c.AssistantEnabled = true
		if state.IsConversationReopenEdge(from, to) {
			c.ResolvedAt = nil
			c.ResolvedBy = ""
			c.ClosedAt = nil
		}
	case model.ConversationStatusResolved:
		// Оператор освобождается сразу: resolved ждёт только реакции клиента.
		c.ResolvedAt = &now
		c.ResolvedBy = actor.ID
		c.AssignedOperator = ""
		c.AssistantEnabled = false
	case model.ConversationStatusClosed:
		c.ClosedAt = &now
		c.AssignedOperator = ""
		c.AssistantEnabled = false
	}
}

// TouchCustomerMessage фиксирует входящую активность клиента.
func (s *ConversationService) TouchCustomerMessage(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_message_at":          at,
			"last_customer_message_at": at,
		}).Error
}

// TouchAgentMessage фиксирует исходящий ответ оператора или ассистента.
func (s *ConversationService) TouchAgentMessage(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_message_at":       at,
			"last_agent_message_at": at,
		}).Error
}

// ListAssignedIdleSince — назначенные конверсации без активности с before;
// кандидаты на авто-освобождение фоновой сверкой.
func (s *ConversationService) ListAssignedIdleSince(ctx context.Context, before time.Time) ([]model.Conversation, error) {
	var items []model.Conversation
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_message_at < ?", model.ConversationStatusAssigned, before).
		Find(&items).Error
	return items, err
}

// ListResolvedBefore — конверсации, ожидающие подтверждения решения дольше
// порога; кандидаты на авто-закрытие.
func (s *ConversationService) ListResolvedBefore(ctx context.Context, before time.Time) ([]model.Conversation, error) {
	var items []model.Conversation
	err := s.db.WithContext(ctx).
		Where("status = ? AND resolved_at < ?", model.ConversationStatusResolved, before).
		Find(&items).Error
	return items, err
}
