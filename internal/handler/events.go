package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tikiti-ke/tikiti/internal/repository"
)

// EventHandler serves the public event catalogue and organizer event
// creation.
type EventHandler struct {
	Events *repository.EventRepo
}

func NewEventHandler(e *repository.EventRepo) *EventHandler {
	if e == nil {
		panic("nil repository passed to NewEventHandler")
	}
	return &EventHandler{Events: e}
}

// List handles GET /v1/events.  It returns all published upcoming
// events with their ticket tiers so buyers can pick a tier and see
// remaining availability.
func (h *EventHandler) List(c echo.Context) error {
	items, err := h.Events.ListPublished(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Get handles GET /v1/events/:id and returns one published event.
func (h *EventHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	item, err := h.Events.GetPublished(c.Request().Context(), id)
	if err != nil {
		if err == repository.ErrEventNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": item})
}

type createEventReq struct {
	Title       string `json:"title"`
	Venue       string `json:"venue"`
	StartsAt    string `json:"starts_at"` // RFC 3339
	TicketTypes []struct {
		Name       string `json:"name"`
		PriceCents uint32 `json:"price_cents"`
		Available  uint32 `json:"available"`
	} `json:"ticket_types"`
}

// Create handles POST /v1/events.  Organizer only; the event is
// published immediately with its ticket tiers.
func (h *EventHandler) Create(c echo.Context) error {
	organizerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createEventReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title is required"})
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at must be RFC 3339"})
	}
	if len(req.TicketTypes) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "at least one ticket type is required"})
	}
	types := make([]repository.TicketTypeInput, 0, len(req.TicketTypes))
	for _, tt := range req.TicketTypes {
		name := strings.TrimSpace(tt.Name)
		if name == "" || tt.PriceCents == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket types need a name and a price"})
		}
		types = append(types, repository.TicketTypeInput{
			Name:       name,
			PriceCents: tt.PriceCents,
			Available:  tt.Available,
		})
	}

	id, err := h.Events.Create(c.Request().Context(), organizerID, req.Title, strings.TrimSpace(req.Venue), startsAt, types)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create event failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": id})
}
