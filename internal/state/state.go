// Package state содержит таблицы переходов обеих машин состояний.
// Проверка перехода — чистая функция над фиксированной таблицей смежности;
// reopen-рёбра (resolved->open, closed->open) включены в таблицу явно,
// чтобы инварианты терминальных статусов оставались проверяемыми по ней одной.
package state

import (
	"github.com/psds-microservice/chat-router/internal/errs"
	"github.com/psds-microservice/chat-router/internal/model"
)

var conversationNext = map[model.ConversationStatus][]model.ConversationStatus{
	model.ConversationStatusOpen: {
		model.ConversationStatusAssigned,
		model.ConversationStatusResolved,
		model.ConversationStatusClosed,
	},
	model.ConversationStatusAssigned: {
		model.ConversationStatusWaiting,
		model.ConversationStatusOpen,
		model.ConversationStatusResolved,
		model.ConversationStatusClosed,
	},
	model.ConversationStatusWaiting: {
		model.ConversationStatusAssigned,
		model.ConversationStatusOpen,
		model.ConversationStatusResolved,
		model.ConversationStatusClosed,
	},
	model.ConversationStatusResolved: {
		model.ConversationStatusClosed,
		model.ConversationStatusOpen, // reopen
	},
	model.ConversationStatusClosed: {
		model.ConversationStatusOpen, // reopen
	},
}

var ticketNext = map[model.TicketStatus][]model.TicketStatus{
	model.TicketStatusNew: {
		model.TicketStatusOpen,
		model.TicketStatusCancelled,
	},
	model.TicketStatusOpen: {
		model.TicketStatusInProgress,
		model.TicketStatusCancelled,
	},
	model.TicketStatusInProgress: {
		model.TicketStatusPendingCustomer,
		model.TicketStatusResolved,
		model.TicketStatusCancelled,
	},
	model.TicketStatusPendingCustomer: {
		model.TicketStatusInProgress,
		model.TicketStatusResolved,
		model.TicketStatusCancelled,
	},
	model.TicketStatusResolved: {
		model.TicketStatusClosed,
		model.TicketStatusOpen, // reopen
	},
	model.TicketStatusClosed: {
		model.TicketStatusOpen, // reopen
	},
	model.TicketStatusCancelled: {}, // terminal
}

// ConversationAllowed возвращает легальные следующие статусы конверсации.
func ConversationAllowed(from model.ConversationStatus) []model.ConversationStatus {
	return conversationNext[from]
}

// TicketAllowed возвращает легальные следующие статусы тикета.
func TicketAllowed(from model.TicketStatus) []model.TicketStatus {
	return ticketNext[from]
}

// CheckConversation валидирует переход конверсации; nil — переход разрешён.
func CheckConversation(from, to model.ConversationStatus) error {
	for _, s := range conversationNext[from] {
		if s == to {
			return nil
		}
	}
	return &errs.InvalidTransitionError{
		Entity:  "conversation",
		From:    string(from),
		To:      string(to),
		Allowed: conversationStrings(conversationNext[from]),
	}
}

// CheckTicket валидирует переход тикета; nil — переход разрешён.
func CheckTicket(from, to model.TicketStatus) error {
	for _, s := range ticketNext[from] {
		if s == to {
			return nil
		}
	}
	return &errs.InvalidTransitionError{
		Entity:  "ticket",
		From:    string(from),
		To:      string(to),
		Allowed: ticketStrings(ticketNext[from]),
	}
}

// IsTicketReopenEdge — true для именованных reopen-рёбер таблицы тикетов.
func IsTicketReopenEdge(from, to model.TicketStatus) bool {
	return to == model.TicketStatusOpen &&
		(from == model.TicketStatusResolved || from == model.TicketStatusClosed)
}

// IsConversationReopenEdge — true для reopen-рёбер таблицы конверсаций.
func IsConversationReopenEdge(from, to model.ConversationStatus) bool {
	return to == model.ConversationStatusOpen &&
		(from == model.ConversationStatusResolved || from == model.ConversationStatusClosed)
}

func conversationStrings(in []model.ConversationStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func ticketStrings(in []model.TicketStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
