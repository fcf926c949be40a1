package sweep

import (
	"context"
	"log"
	"time"

	"github.com/psds-microservice/chat-router/internal/model"
)

// ConversationStore — подмножество ConversationService, нужное метле.
type ConversationStore interface {
	ListAssignedIdleSince(ctx context.Context, before time.Time) ([]model.Conversation, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]model.Conversation, error)
	Transition(ctx context.Context, id string, to model.ConversationStatus, actor model.Actor, reason string) (*model.Conversation, error)
}

// Config — пороги фоновой сверки состояний.
type Config struct {
	Interval     time.Duration
	ReleaseAfter time.Duration
	ConfirmAfter time.Duration
}

// Sweeper периодически возвращает простаивающие назначенные конверсации
// в общую очередь и закрывает resolved-конверсации без возражений клиента.
type Sweeper struct {
	convs ConversationStore
	cfg   Config
	now   func() time.Time
}

func New(convs ConversationStore, cfg Config) *Sweeper {
	return &Sweeper{convs: convs, cfg: cfg, now: time.Now}
}

// Run запускает цикл сверки до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	log.Printf("sweep: started, interval %s", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("sweep: stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход сверки. Ошибки по отдельным конверсациям
// логируются и не прерывают проход.
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := s.now()
	system := model.Actor{ID: "system", Role: model.RoleSystem}

	idle, err := s.convs.ListAssignedIdleSince(ctx, now.Add(-s.cfg.ReleaseAfter))
	if err != nil {
		log.Printf("sweep: list idle assigned: %v", err)
	}
	for _, c := range idle {
		if _, err := s.convs.Transition(ctx, c.ID, model.ConversationStatusOpen, system, "auto_timeout_inactivity"); err != nil {
			log.Printf("sweep: release conversation %s: %v", c.ID, err)
			continue
		}
		log.Printf("sweep: conversation %s released after inactivity", c.ID)
	}

	stale, err := s.convs.ListResolvedBefore(ctx, now.Add(-s.cfg.ConfirmAfter))
	if err != nil {
		log.Printf("sweep: list stale resolved: %v", err)
	}
	for _, c := range stale {
		if _, err := s.convs.Transition(ctx, c.ID, model.ConversationStatusClosed, system, "auto_confirm_timeout"); err != nil {
			log.Printf("sweep: close conversation %s: %v", c.ID, err)
			continue
		}
		log.Printf("sweep: conversation %s closed after confirm timeout", c.ID)
	}
}
