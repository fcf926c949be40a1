package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/chat-router/internal/errs"
	"github.com/psds-microservice/chat-router/internal/model"
	"github.com/psds-microservice/chat-router/internal/service"
)

type TicketHandler struct {
	svc *service.TicketService
}

func NewTicketHandler(svc *service.TicketService) *TicketHandler {
	return &TicketHandler{svc: svc}
}

type createTicketRequest struct {
	CustomerID     string `json:"customer_id" binding:"required"`
	ConversationID string `json:"conversation_id"`
	Subject        string `json:"subject" binding:"required"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	Priority       string `json:"priority"`
	ActorID        string `json:"actor_id" binding:"required"`
	ActorRole      string `json:"actor_role" binding:"required"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, err := h.svc.Create(c.Request.Context(), service.CreateTicketInput{
		CustomerID:     req.CustomerID,
		ConversationID: req.ConversationID,
		Subject:        req.Subject,
		Description:    req.Description,
		Category:       req.Category,
		Priority:       req.Priority,
		Actor:          model.Actor{ID: req.ActorID, Role: req.ActorRole},
	})
	if err != nil {
		if errors.Is(err, errs.ErrInvalidCategory) || errors.Is(err, errs.ErrInvalidPriority) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create ticket"})
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TicketHandler) Get(c *gin.Context) {
	t, err := h.svc.GetByTicketID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) List(c *gin.Context) {
	filter := make(map[string]interface{})
	if v := c.Query("customer_id"); v != "" {
		filter["customer_id = ?"] = v
	}
	if v := c.Query("conversation_id"); v != "" {
		filter["conversation_id = ?"] = v
	}
	if v := c.Query("status"); v != "" {
		filter["status = ?"] = v
	}
	if v := c.Query("category"); v != "" {
		filter["category = ?"] = v
	}
	if v := c.Query("priority"); v != "" {
		filter["priority = ?"] = v
	}

	limit := 0
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	items, total, err := h.svc.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
	})
}

type transitionRequest struct {
	Status    string `json:"status" binding:"required"`
	ActorID   string `json:"actor_id" binding:"required"`
	ActorRole string `json:"actor_role" binding:"required"`
	Reason    string `json:"reason"`
}

func (h *TicketHandler) Transition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	actor := model.Actor{ID: req.ActorID, Role: req.ActorRole}
	t, err := h.svc.Transition(c.Request.Context(), c.Param("id"), model.TicketStatus(req.Status), actor, req.Reason)
	if err != nil {
		writeTicketError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type reopenRequest struct {
	ActorID   string `json:"actor_id" binding:"required"`
	ActorRole string `json:"actor_role" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

func (h *TicketHandler) Reopen(c *gin.Context) {
	var req reopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	actor := model.Actor{ID: req.ActorID, Role: req.ActorRole}
	t, err := h.svc.Reopen(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		writeTicketError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) History(c *gin.Context) {
	items, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTicketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": items})
}

type addNoteRequest struct {
	Author   string `json:"author" binding:"required"`
	Body     string `json:"body" binding:"required"`
	Internal bool   `json:"internal"`
}

func (h *TicketHandler) AddNote(c *gin.Context) {
	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	n, err := h.svc.AddNote(c.Request.Context(), c.Param("id"), req.Author, req.Body, req.Internal)
	if err != nil {
		writeTicketError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *TicketHandler) Notes(c *gin.Context) {
	items, err := h.svc.Notes(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTicketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": items})
}

// writeTicketError переводит доменные ошибки в HTTP-статусы: not found -> 404,
// запрещённый переход и отказ reopen -> 409, остальное -> 500.
func writeTicketError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
	case errs.IsInvalidTransition(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errs.IsReopenNotAllowed(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
