package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Client отправляет исходящие сообщения в канал доставки (best-effort,
// не блокирует обработку диалога).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient возвращает клиент. Если baseURL пустой, отправка — no-op.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// OutboundPayload — тело POST /messages/send.
type OutboundPayload struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

// Send доставляет текст получателю. Ошибки логируются и не возвращаются
// наверх: потеря исходящего сообщения не должна ронять обработку входящих.
func (c *Client) Send(ctx context.Context, recipientID, text string) {
	if c.baseURL == "" {
		return
	}
	c.post(ctx, "/messages/send", OutboundPayload{
		RecipientID: recipientID,
		Text:        text,
	})
}

// NotifyOperator пересылает оператору сообщение клиента из назначенной
// ему конверсации.
func (c *Client) NotifyOperator(ctx context.Context, operatorID, conversationID, text string) {
	if c.baseURL == "" {
		return
	}
	c.post(ctx, "/messages/send", OutboundPayload{
		RecipientID: operatorID,
		Text:        fmt.Sprintf("[conversation %s] %s", conversationID, text),
	})
}

func (c *Client) post(ctx context.Context, path string, payload OutboundPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("channel: marshal: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		log.Printf("channel: new request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("channel: request: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("channel: status %d sending to %s", resp.StatusCode, payload.RecipientID)
	}
}
