package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidCategory      = errors.New("category is not in the allowed list")
	ErrInvalidPriority      = errors.New("priority is not in the allowed list")
	ErrForbidden            = errors.New("actor role is not allowed to perform this transition")
)

// InvalidTransitionError — запрошенная пара (from, to) отсутствует в таблице
// переходов. Allowed перечисляет легальные следующие статусы.
type InvalidTransitionError struct {
	Entity  string
	From    string
	To      string
	Allowed []string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid transition %s -> %s (allowed: %s)",
		e.Entity, e.From, e.To, strings.Join(e.Allowed, ", "))
}

// ReopenNotAllowedError — reopen отклонён бизнес-правилом (статус, лимит
// повторных открытий или окно авто-reopen). Не фатальная ошибка.
type ReopenNotAllowedError struct {
	TicketID string
	Reason   string
}

func (e *ReopenNotAllowedError) Error() string {
	return fmt.Sprintf("ticket %s: reopen not allowed: %s", e.TicketID, e.Reason)
}

// IsInvalidTransition — true, если err (в том числе обёрнутая) это
// InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

func IsReopenNotAllowed(err error) bool {
	var e *ReopenNotAllowedError
	return errors.As(err, &e)
}
