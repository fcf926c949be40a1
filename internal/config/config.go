package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// Дебаунс и дедупликация входящего потока.
	DebounceWindow time.Duration
	DedupTTL       time.Duration

	// Периодическая сверка (reconciliation sweep).
	SweepInterval          time.Duration
	InactivityReleaseAfter time.Duration
	ResolveConfirmAfter    time.Duration

	// Ограниченный reopen тикетов.
	AutoReopenWindow time.Duration
	MaxReopenCount   int

	// Генератор номеров тикетов.
	TicketIDPrefix string
	TicketSeqPad   int

	// Классификация тикетов (allow-list, через запятую в env).
	AllowedCategories []string
	AllowedPriorities []string

	// Ассистент (OpenAI-совместимый chat-completions endpoint).
	AssistantBaseURL      string
	AssistantAPIKey       string
	AssistantModel        string
	AssistantSystemPrompt string
	AssistantRetries      int
	AssistantBackoff      time.Duration
	AssistantFallback     string

	// Исходящий канал (адаптер провайдера чата).
	ChannelBaseURL string
	ChannelToken   string

	// Оператор по умолчанию для handoff-триггера; пусто — триггер выключен.
	HandoffOperatorID string
	HandoffKeywords   []string

	// Текст подтверждения при переводе конверсации в resolved; пусто — не шлём.
	ResolveConfirmPrompt string

	// Kafka — события изменений для observer-UI (пусто — события выключены).
	KafkaBrokers string
	KafkaTopic   string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:  getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort: firstEnv("APP_PORT", "HTTP_PORT", "8099"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DebounceWindow: getDurationEnv("DEBOUNCE_WINDOW", 2*time.Second),
		DedupTTL:       getDurationEnv("DEDUP_TTL", 60*time.Second),

		SweepInterval:          getDurationEnv("SWEEP_INTERVAL", 2*time.Minute),
		InactivityReleaseAfter: getDurationEnv("INACTIVITY_RELEASE_AFTER", 15*time.Minute),
		ResolveConfirmAfter:    getDurationEnv("RESOLVE_CONFIRM_AFTER", 24*time.Hour),

		AutoReopenWindow: getDurationEnv("AUTO_REOPEN_WINDOW", 48*time.Hour),
		MaxReopenCount:   getIntEnv("MAX_REOPEN_COUNT", 3),

		TicketIDPrefix: getEnv("TICKET_ID_PREFIX", "TCK"),
		TicketSeqPad:   getIntEnv("TICKET_SEQ_PAD", 5),

		AllowedCategories: splitEnv("TICKET_CATEGORIES", "billing,technical,account,general"),
		AllowedPriorities: splitEnv("TICKET_PRIORITIES", "low,normal,high,urgent"),

		AssistantBaseURL: getEnv("ASSISTANT_BASE_URL", "https://api.openai.com/v1"),
		AssistantAPIKey:  getEnv("ASSISTANT_API_KEY", ""),
		AssistantModel:   getEnv("ASSISTANT_MODEL", "gpt-4o-mini"),
		AssistantSystemPrompt: getEnv("ASSISTANT_SYSTEM_PROMPT",
			"You are a support assistant. Answer briefly and suggest contacting an operator for account-specific issues."),
		AssistantRetries: getIntEnv("ASSISTANT_RETRIES", 3),
		AssistantBackoff: getDurationEnv("ASSISTANT_BACKOFF", 500*time.Millisecond),
		AssistantFallback: getEnv("ASSISTANT_FALLBACK_MESSAGE",
			"Sorry, we are having trouble right now. An operator will get back to you shortly."),

		ChannelBaseURL: getEnv("CHANNEL_BASE_URL", ""),
		ChannelToken:   getEnv("CHANNEL_TOKEN", ""),

		HandoffOperatorID: getEnv("HANDOFF_OPERATOR_ID", ""),
		HandoffKeywords:   splitEnv("HANDOFF_KEYWORDS", "human,operator,real person,talk to someone,agent please"),

		ResolveConfirmPrompt: getEnv("RESOLVE_CONFIRM_PROMPT",
			"We believe your issue is resolved. Reply here if you still need help, otherwise the conversation will be closed."),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "chat-router.events"),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "chat_router")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.DebounceWindow <= 0 {
		return errors.New("config: DEBOUNCE_WINDOW must be positive")
	}
	if c.DedupTTL <= 0 {
		return errors.New("config: DEDUP_TTL must be positive")
	}
	if c.MaxReopenCount < 0 {
		return errors.New("config: MAX_REOPEN_COUNT must not be negative")
	}
	if c.AssistantRetries < 1 {
		return errors.New("config: ASSISTANT_RETRIES must be at least 1")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitEnv(key, def string) []string {
	raw := getEnv(key, def)
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
