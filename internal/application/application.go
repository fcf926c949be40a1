package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/chat-router/internal/assistant"
	"github.com/psds-microservice/chat-router/internal/burst"
	"github.com/psds-microservice/chat-router/internal/channel"
	"github.com/psds-microservice/chat-router/internal/config"
	"github.com/psds-microservice/chat-router/internal/database"
	"github.com/psds-microservice/chat-router/internal/dedup"
	"github.com/psds-microservice/chat-router/internal/dispatch"
	"github.com/psds-microservice/chat-router/internal/events"
	"github.com/psds-microservice/chat-router/internal/handler"
	"github.com/psds-microservice/chat-router/internal/model"
	"github.com/psds-microservice/chat-router/internal/router"
	"github.com/psds-microservice/chat-router/internal/service"
	"github.com/psds-microservice/chat-router/internal/sweep"
)

// API приложение: HTTP-сервер, диспетчер входящих сообщений и фоновая сверка.
type API struct {
	cfg        *config.Config
	httpSrv    *http.Server
	sweeper    *sweep.Sweeper
	aggregator *burst.Aggregator
	deduper    *dedup.Cache
	producer   *events.Producer
}

// NewAPI собирает приложение: миграции, сервисы, хуки переходов, маршруты.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	seq := service.NewSequenceService(db, cfg.TicketIDPrefix, cfg.TicketSeqPad)
	convSvc := service.NewConversationService(db)
	ticketSvc := service.NewTicketService(db, seq, service.TicketConfig{
		MaxReopenCount:   cfg.MaxReopenCount,
		AutoReopenWindow: cfg.AutoReopenWindow,
		Categories:       cfg.AllowedCategories,
		Priorities:       cfg.AllowedPriorities,
	})

	producer := events.NewProducer(events.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopic)
	sender := channel.NewClient(cfg.ChannelBaseURL, cfg.ChannelToken)
	assistantClient := assistant.NewClient(assistant.Config{
		BaseURL:      cfg.AssistantBaseURL,
		APIKey:       cfg.AssistantAPIKey,
		Model:        cfg.AssistantModel,
		SystemPrompt: cfg.AssistantSystemPrompt,
		Retries:      cfg.AssistantRetries,
		Backoff:      cfg.AssistantBackoff,
	})

	deduper := dedup.New(cfg.DedupTTL)
	dispatcher := dispatch.New(deduper, convSvc, ticketSvc, assistantClient, sender, dispatch.Config{
		HandoffKeywords:   cfg.HandoffKeywords,
		HandoffOperatorID: cfg.HandoffOperatorID,
		FallbackReply:     cfg.AssistantFallback,
	})
	aggregator := burst.New(cfg.DebounceWindow, dispatcher.HandleTurn)
	dispatcher.SetAggregator(aggregator)

	// События переходов для observer-UI.
	convSvc.OnTransition(func(ctx context.Context, prev model.ConversationStatus, c *model.Conversation, actor model.Actor, reason string) {
		producer.Produce(ctx, "conversation_status_changed", map[string]interface{}{
			"conversation_id": c.ID,
			"customer_id":     c.CustomerID,
			"status":          string(c.Status),
			"previous_status": string(prev),
			"actor":           actor.ID,
			"reason":          reason,
		})
	})
	ticketSvc.OnTransition(func(ctx context.Context, event string, prev model.TicketStatus, t *model.Ticket, actor model.Actor, reason string) {
		producer.Produce(ctx, event, map[string]interface{}{
			"ticket_id":       t.TicketID,
			"customer_id":     t.CustomerID,
			"conversation_id": t.ConversationID,
			"status":          string(t.Status),
			"previous_status": string(prev),
			"reopen_count":    t.ReopenCount,
			"actor":           actor.ID,
			"reason":          reason,
		})
	})
	// Просьба подтвердить решение уходит клиенту при переводе в resolved.
	if cfg.ResolveConfirmPrompt != "" {
		convSvc.OnTransition(func(ctx context.Context, prev model.ConversationStatus, c *model.Conversation, actor model.Actor, reason string) {
			if c.Status == model.ConversationStatusResolved {
				sender.Send(ctx, c.CustomerID, cfg.ResolveConfirmPrompt)
			}
		})
	}

	sweeper := sweep.New(convSvc, sweep.Config{
		Interval:     cfg.SweepInterval,
		ReleaseAfter: cfg.InactivityReleaseAfter,
		ConfirmAfter: cfg.ResolveConfirmAfter,
	})

	h := router.New(
		handler.NewWebhookHandler(dispatcher),
		handler.NewConversationHandler(convSvc),
		handler.NewTicketHandler(ticketSvc),
	)
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:        cfg,
		httpSrv:    httpSrv,
		sweeper:    sweeper,
		aggregator: aggregator,
		deduper:    deduper,
		producer:   producer,
	}, nil
}

// Run запускает HTTP-сервер и цикл сверки, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI:    %s/swagger", base)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Webhook:       %s/api/v1/webhook/messages", base)
	log.Printf("  API v1:        %s/api/v1/", base)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()
	go a.sweeper.Run(ctx)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	// Недоставленные всплески дособираются и уходят в обработку перед выходом.
	a.aggregator.Close()
	a.deduper.Close()
	if err := a.producer.Close(); err != nil {
		log.Printf("events: close: %v", err)
	}
	return nil
}
