package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tikiti-ke/tikiti/internal/model"
	"github.com/tikiti-ke/tikiti/internal/phone"
	"github.com/tikiti-ke/tikiti/internal/purchase"
	"github.com/tikiti-ke/tikiti/internal/repository"
	"github.com/tikiti-ke/tikiti/internal/store"
	"github.com/tikiti-ke/tikiti/internal/ticketpdf"
)

// PurchaseHandler creates ticket reservations and serves paid ticket
// PDFs.  Both endpoints work for logged-in buyers and guests: the
// routes run behind OptionalJWTAuth, so a valid bearer token yields a
// user identity and its absence means guest authorization (guest token
// or purchase email).
type PurchaseHandler struct {
	Events  *repository.EventRepo
	Tickets *repository.TicketRepo
	Tokens  *store.Redis

	// VerifyBaseURL is the public URL embedded in ticket QR codes.
	VerifyBaseURL string
}

func NewPurchaseHandler(e *repository.EventRepo, t *repository.TicketRepo, tokens *store.Redis, verifyBaseURL string) *PurchaseHandler {
	if e == nil || t == nil || tokens == nil {
		panic("nil dependency passed to NewPurchaseHandler")
	}
	return &PurchaseHandler{Events: e, Tickets: t, Tokens: tokens, VerifyBaseURL: verifyBaseURL}
}

type purchaseReq struct {
	EventID      uint64 `json:"event_id"`
	TicketTypeID uint64 `json:"ticket_type_id"`
	Quantity     uint32 `json:"quantity"`
	Name         string `json:"name"`  // guest only
	Email        string `json:"email"` // guest only
}

type ticketPart struct {
	ID         uint64 `json:"id"`
	Code       string `json:"code"`
	EventID    uint64 `json:"event_id"`
	Quantity   uint32 `json:"quantity"`
	TotalCents uint32 `json:"total_cents"`
	Status     string `json:"status"`
}

// Purchase handles POST /tickets/purchase.  It reserves admissions by
// decrementing tier availability under a row lock and creating a
// PENDING_PAYMENT ticket in the same transaction.  Guests additionally
// receive a guest token authorizing later status checks and downloads.
func (h *PurchaseHandler) Purchase(c echo.Context) error {
	var req purchaseReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.EventID == 0 || req.TicketTypeID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id and ticket_type_id are required"})
	}
	if req.Quantity < 1 || req.Quantity > purchase.MaxQuantity {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": fmt.Sprintf("quantity must be between 1 and %d", purchase.MaxQuantity)})
	}

	t := model.Ticket{
		Code:         uuid.NewString(),
		EventID:      req.EventID,
		TicketTypeID: req.TicketTypeID,
		Quantity:     req.Quantity,
	}
	if uid, err := getUserID(c); err == nil {
		t.UserID = &uid
	} else {
		name := strings.TrimSpace(req.Name)
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if !phone.ValidGuestName(name) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "name must be at least 2 characters"})
		}
		if !phone.ValidEmail(email) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "a valid email is required"})
		}
		t.GuestName = &name
		t.GuestEmail = &email
	}

	ctx := c.Request().Context()
	tx, err := h.Events.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	tier, err := h.Events.GetTicketTypeForUpdateTx(ctx, tx, req.EventID, req.TicketTypeID)
	if err != nil {
		if err == repository.ErrEventNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event or ticket type not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if tier.Available < req.Quantity {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     "not enough tickets available",
			"available": tier.Available,
		})
	}
	if err := h.Events.DecrementAvailableTx(ctx, tx, tier.ID, req.Quantity); err != nil {
		if err == repository.ErrSoldOut {
			return c.JSON(http.StatusConflict, echo.Map{"error": "not enough tickets available"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	t.TotalCents = tier.PriceCents * req.Quantity
	if err := h.Tickets.CreateTx(ctx, tx, &t); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create ticket failed"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	committed = true

	resp := echo.Map{"ticket": ticketPart{
		ID:         t.ID,
		Code:       t.Code,
		EventID:    t.EventID,
		Quantity:   t.Quantity,
		TotalCents: t.TotalCents,
		Status:     t.Status,
	}}
	if t.UserID == nil {
		token, err := newGuestCredential(c, h.Tokens, t.ID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue guest token failed"})
		}
		resp["guest_token"] = token
	}
	return c.JSON(http.StatusCreated, resp)
}

// Download handles GET /tickets/download/:id and streams the eTicket
// PDF for a paid ticket.  Authorization is the ticket owner's bearer
// token, the guest token, or the guest purchase email.
func (h *PurchaseHandler) Download(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket id"})
	}
	ctx := c.Request().Context()
	d, err := h.Tickets.GetDetail(ctx, id)
	if err != nil {
		if err == repository.ErrTicketNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if !h.authorizeTicket(c, &d.Ticket) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	if d.Ticket.Status != model.TicketPaid {
		return c.JSON(http.StatusConflict, echo.Map{"error": "ticket is not paid"})
	}

	pdf, err := ticketpdf.Render(d, h.VerifyBaseURL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "render ticket failed"})
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="ticket-%s.pdf"`, d.Ticket.Code))
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

// Verify handles GET /v1/tickets/verify/:code, the URL printed in the
// ticket QR code.  Gate staff scan it to confirm a ticket is genuine
// and paid; only non-identifying fields are returned.
func (h *PurchaseHandler) Verify(c echo.Context) error {
	code := c.Param("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket code"})
	}
	d, err := h.Tickets.GetByCode(c.Request().Context(), code)
	if err != nil {
		if err == repository.ErrTicketNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"code":     d.Code,
		"valid":    d.Status == model.TicketPaid,
		"status":   d.Status,
		"event_id": d.EventID,
		"quantity": d.Quantity,
	})
}

// authorizeTicket checks that the caller may act on the ticket: the
// owning user, a matching guest token, or the guest purchase email.
func (h *PurchaseHandler) authorizeTicket(c echo.Context, t *model.Ticket) bool {
	if uid, err := getUserID(c); err == nil {
		return t.UserID != nil && *t.UserID == uid
	}
	if t.UserID != nil {
		return false // account tickets require the owner's token
	}
	if token := c.QueryParam("guest_token"); token != "" {
		ok, err := h.Tokens.Validate(c.Request().Context(), t.ID, token)
		return err == nil && ok
	}
	if email := strings.ToLower(strings.TrimSpace(c.QueryParam("email"))); email != "" {
		return t.GuestEmail != nil && *t.GuestEmail == email
	}
	return false
}
