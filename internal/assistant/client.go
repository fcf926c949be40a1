package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrRunConflict возвращается, когда у провайдера уже идёт обработка
// предыдущего запроса по той же сессии (HTTP 409).
var ErrRunConflict = errors.New("assistant run already in progress")

// Message — одно сообщение диалога в формате chat-completions.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int     `json:"index"`
		Message Message `json:"message"`
	} `json:"choices"`
}

// Client — клиент OpenAI-совместимого chat-completions API с повторами
// при 409 и 5xx.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	retries      int
	backoff      time.Duration
	httpClient   *http.Client
}

type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	// Retries — общее число попыток запроса, включая первую.
	Retries int
	Backoff time.Duration
}

func NewClient(cfg Config) *Client {
	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		retries:      retries,
		backoff:      cfg.Backoff,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Reply отправляет историю диалога и возвращает текст ответа модели.
// 409 и 5xx повторяются с экспоненциальной паузой, всего не больше
// Retries попыток; если все попытки закончились конфликтом,
// возвращается ErrRunConflict.
func (c *Client) Reply(ctx context.Context, messages []Message) (string, error) {
	all := make([]Message, 0, len(messages)+1)
	if c.systemPrompt != "" {
		all = append(all, Message{Role: "system", Content: c.systemPrompt})
	}
	all = append(all, messages...)

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    all,
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.backoff * (1 << (attempt - 1))):
			}
		}

		text, err := c.do(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		return "", ErrRunConflict
	case resp.StatusCode >= 500:
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("assistant API error: status %d, body: %s", resp.StatusCode, string(raw))
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(resp.Body)
		return "", &permanentError{fmt.Errorf("assistant API error: status %d, body: %s", resp.StatusCode, string(raw))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", &permanentError{errors.New("no choices in response")}
	}
	return out.Choices[0].Message.Content, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var pe *permanentError
	return !errors.As(err, &pe)
}
