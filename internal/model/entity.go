package model

import "time"

type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusAssigned ConversationStatus = "assigned"
	ConversationStatusWaiting  ConversationStatus = "waiting"
	ConversationStatusResolved ConversationStatus = "resolved"
	ConversationStatusClosed   ConversationStatus = "closed"
)

type TicketStatus string

const (
	TicketStatusNew             TicketStatus = "new"
	TicketStatusOpen            TicketStatus = "open"
	TicketStatusInProgress      TicketStatus = "in_progress"
	TicketStatusPendingCustomer TicketStatus = "pending_customer"
	TicketStatusResolved        TicketStatus = "resolved"
	TicketStatusClosed          TicketStatus = "closed"
	TicketStatusCancelled       TicketStatus = "cancelled"
)

// Conversation — одна сессия чата с клиентом. Не удаляется: терминальное
// состояние покоя — closed, из него возможен reopen.
type Conversation struct {
	ID               string             `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID       string             `gorm:"index;not null" json:"customer_id"`
	Status           ConversationStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	AssignedOperator string             `gorm:"type:varchar(64);index" json:"assigned_operator,omitempty"`
	AssistantEnabled bool               `gorm:"not null" json:"assistant_enabled"`

	LastMessageAt         time.Time  `json:"last_message_at"`
	LastCustomerMessageAt *time.Time `json:"last_customer_message_at,omitempty"`
	LastAgentMessageAt    *time.Time `json:"last_agent_message_at,omitempty"`

	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `gorm:"type:varchar(64)" json:"resolved_by,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ticket — отслеживаемая единица работы. Опционально связан 1:1 с
// Conversation на момент создания, живёт независимо от неё.
type Ticket struct {
	ID             uint64       `gorm:"primaryKey" json:"-"`
	TicketID       string       `gorm:"type:varchar(32);uniqueIndex;not null" json:"ticket_id"`
	CustomerID     string       `gorm:"index;not null" json:"customer_id"`
	ConversationID string       `gorm:"type:uuid;index" json:"conversation_id,omitempty"`
	Subject        string       `gorm:"type:varchar(255)" json:"subject,omitempty"`
	Description    string       `gorm:"type:text" json:"description,omitempty"`
	Status         TicketStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	Priority       string       `gorm:"type:varchar(32);index" json:"priority,omitempty"`
	Category       string       `gorm:"type:varchar(64);index" json:"category,omitempty"`

	// Resolution заполняется только транзицией resolve; reopen очищает её.
	ResolutionSummary string     `gorm:"type:text" json:"resolution_summary,omitempty"`
	ResolvedBy        string     `gorm:"type:varchar(64)" json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`

	ReopenCount    int        `gorm:"not null;default:0" json:"reopen_count"`
	LastReopenedAt *time.Time `json:"last_reopened_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// TicketStatusHistory — append-only журнал смен статуса (единственный
// аудиторский след тикета): по этой таблице нет ни update, ни delete.
type TicketStatusHistory struct {
	ID         uint64       `gorm:"primaryKey" json:"-"`
	TicketRef  uint64       `gorm:"index;not null" json:"-"`
	FromStatus TicketStatus `gorm:"type:varchar(32);not null" json:"from"`
	ToStatus   TicketStatus `gorm:"type:varchar(32);not null" json:"to"`
	ChangedBy  string       `gorm:"type:varchar(64);not null" json:"changed_by"`
	Reason     string       `gorm:"type:varchar(255)" json:"reason,omitempty"`
	ChangedAt  time.Time    `gorm:"not null" json:"changed_at"`
}

func (TicketStatusHistory) TableName() string { return "ticket_status_history" }

// TicketNote — заметка по тикету; internal-заметки не показываются клиенту.
type TicketNote struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	TicketRef uint64    `gorm:"index;not null" json:"-"`
	Author    string    `gorm:"type:varchar(64);not null" json:"author"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	Internal  bool      `gorm:"not null;default:false" json:"internal"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketSequence — счётчик номеров тикетов, одна строка на период генерации
// (календарный год). Единственная сущность, требующая от хранилища
// атомарного increment-and-fetch.
type TicketSequence struct {
	Period    string    `gorm:"type:varchar(8);primaryKey"`
	LastValue int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (TicketSequence) TableName() string { return "ticket_sequences" }

// Actor — инициатор действия над конверсацией или тикетом.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

const (
	RoleCustomer   = "customer"
	RoleOperator   = "operator"
	RoleAssistant  = "assistant"
	RoleSupervisor = "supervisor"
	RoleSystem     = "system"
)

// Elevated — роли, которым разрешены принудительные переходы (force-close из
// любого нетерминального статуса, ручной reopen закрытого диалога).
func (a Actor) Elevated() bool {
	return a.Role == RoleSupervisor || a.Role == RoleSystem
}
