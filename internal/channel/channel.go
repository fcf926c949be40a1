package channel

import "time"

// InboundMessage — сообщение клиента, принятое вебхуком канала.
type InboundMessage struct {
	SenderID          string    `json:"sender_id" binding:"required"`
	Text              string    `json:"text"`
	ExternalMessageID string    `json:"external_message_id" binding:"required"`
	Timestamp         time.Time `json:"timestamp"`
}

// DedupKey — ключ дедупликации доставки; external id уникален только
// в пределах отправителя, поэтому ключ составной.
func (m InboundMessage) DedupKey() string {
	return m.SenderID + ":" + m.ExternalMessageID
}
