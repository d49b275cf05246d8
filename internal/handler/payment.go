package handler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tikiti-ke/tikiti/internal/model"
	"github.com/tikiti-ke/tikiti/internal/mpesa"
	"github.com/tikiti-ke/tikiti/internal/phone"
	"github.com/tikiti-ke/tikiti/internal/queue"
	"github.com/tikiti-ke/tikiti/internal/ratelimit"
	"github.com/tikiti-ke/tikiti/internal/repository"
	queuepub "github.com/tikiti-ke/tikiti/internal/service"
	"github.com/tikiti-ke/tikiti/internal/store"
)

// PaymentHandler drives the M-Pesa leg of a purchase: STK push
// initiation, the Daraja result callback, and the status endpoints the
// buyer's client polls.  Status reads come from the mpesa_transactions
// table, which only gains a row once Daraja reports a result; until
// then the endpoints answer 404 and pollers treat the payment as still
// in flight.
type PaymentHandler struct {
	Events       *repository.EventRepo
	Tickets      *repository.TicketRepo
	Transactions *repository.TransactionRepo
	Gateway      *mpesa.Client
	Tokens       *store.Redis
	Limiter      *ratelimit.STKLimiter
}

func NewPaymentHandler(e *repository.EventRepo, t *repository.TicketRepo, tr *repository.TransactionRepo,
	gw *mpesa.Client, tokens *store.Redis, limiter *ratelimit.STKLimiter) *PaymentHandler {
	if e == nil || t == nil || tr == nil || gw == nil || tokens == nil || limiter == nil {
		panic("nil dependency passed to NewPaymentHandler")
	}
	return &PaymentHandler{Events: e, Tickets: t, Transactions: tr, Gateway: gw, Tokens: tokens, Limiter: limiter}
}

type stkPushReq struct {
	TicketID    uint64 `json:"ticket_id"`
	PhoneNumber string `json:"phone_number"`
	GuestToken  string `json:"guest_token"`
}

// STKPush handles POST /mpesa/stkpush.  It validates the phone number,
// authorizes the caller against the ticket, sends the payment prompt
// and records the checkout request id on the ticket.
func (h *PaymentHandler) STKPush(c echo.Context) error {
	var req stkPushReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.TicketID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_id is required"})
	}
	msisdn, err := phone.Canonicalize(req.PhoneNumber)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "enter a valid Safaricom number, e.g. 0712 345 678"})
	}

	ctx := c.Request().Context()
	t, err := h.Tickets.GetByID(ctx, req.TicketID)
	if err != nil {
		if err == repository.ErrTicketNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if !h.authorizePayment(c, t, req.GuestToken) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	switch t.Status {
	case model.TicketPendingPayment:
		// ok, proceed
	case model.TicketPaid:
		return c.JSON(http.StatusConflict, echo.Map{"error": "ticket is already paid"})
	default:
		return c.JSON(http.StatusConflict, echo.Map{"error": "reservation is no longer active"})
	}

	if allowed, retryAfter := h.Limiter.Allow(ctx, msisdn); !allowed {
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "too many payment attempts, try again shortly"})
	}

	// Daraja takes whole shillings; round any cent remainder up.
	amountKES := (t.TotalCents + 99) / 100
	res, err := h.Gateway.STKPush(ctx, msisdn, amountKES,
		fmt.Sprintf("TIKITI-%d", t.ID), "Tikiti ticket purchase")
	if err != nil {
		if ge, ok := err.(*mpesa.GatewayError); ok {
			log.Printf("stkpush: gateway rejected ticket %d: %v", t.ID, ge)
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment could not be started, try again"})
		}
		log.Printf("stkpush: ticket %d: %v", t.ID, err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment gateway unavailable"})
	}
	if err := h.Tickets.SetCheckout(ctx, t.ID, msisdn, res.CheckoutRequestID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"checkout_request_id": res.CheckoutRequestID,
		"customer_message":    res.CustomerMessage,
	})
}

// Callback handles POST /mpesa/callback, the URL Daraja posts STK
// results to.  It records the outcome and, on success, marks the ticket
// paid.  Replayed callbacks are idempotent.  Daraja expects a 200 with
// a zero ResultCode regardless; anything else makes it retry.
func (h *PaymentHandler) Callback(c echo.Context) error {
	var env mpesa.CallbackEnvelope
	if err := c.Bind(&env); err != nil {
		return c.JSON(http.StatusOK, echo.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
	}
	cb := env.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		return c.JSON(http.StatusOK, echo.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
	}

	ctx := c.Request().Context()
	t, err := h.Tickets.GetByCheckoutRequestID(ctx, cb.CheckoutRequestID)
	if err != nil {
		log.Printf("mpesa callback: no ticket for checkout %s: %v", cb.CheckoutRequestID, err)
		return c.JSON(http.StatusOK, echo.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
	}
	if err := h.recordOutcome(ctx, t, cb.CheckoutRequestID, cb.MerchantRequestID,
		cb.ResultCode, cb.ResultDesc, cb.ReceiptNumber(), cb.AmountKES()); err != nil {
		log.Printf("mpesa callback: record outcome for ticket %d: %v", t.ID, err)
		// Still acknowledge; Daraja retries otherwise and the write is idempotent.
	}
	return c.JSON(http.StatusOK, echo.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// Status handles GET /mpesa/status/:id for logged-in buyers.
func (h *PaymentHandler) Status(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	checkoutID := c.Param("id")
	t, err := h.ticketForCheckout(c, checkoutID)
	if err != nil {
		return err
	}
	if t.UserID == nil || *t.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return h.respondStatus(c, t, checkoutID)
}

// GuestStatus handles GET /mpesa/guest-status/:id; the guest token
// issued at purchase time authorizes the read.
func (h *PaymentHandler) GuestStatus(c echo.Context) error {
	checkoutID := c.Param("id")
	t, err := h.ticketForCheckout(c, checkoutID)
	if err != nil {
		return err
	}
	token := c.QueryParam("guest_token")
	ok, verr := h.Tokens.Validate(c.Request().Context(), t.ID, token)
	if verr != nil || !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return h.respondStatus(c, t, checkoutID)
}

// ticketForCheckout resolves the ticket behind a checkout request id,
// writing the error response itself on failure.
func (h *PaymentHandler) ticketForCheckout(c echo.Context, checkoutID string) (*model.Ticket, error) {
	if checkoutID == "" {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid checkout request id"})
	}
	t, err := h.Tickets.GetByCheckoutRequestID(c.Request().Context(), checkoutID)
	if err != nil {
		if err == repository.ErrTicketNotFound {
			return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "transaction not found"})
		}
		return nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return t, nil
}

// respondStatus returns the recorded transaction for a checkout
// request.  While no row exists it falls back to a gateway query: if
// Daraja has already resolved the push (a missed callback), the outcome
// is recorded and returned; while the push is genuinely pending the
// endpoint answers 404 and the client keeps polling.
func (h *PaymentHandler) respondStatus(c echo.Context, t *model.Ticket, checkoutID string) error {
	ctx := c.Request().Context()
	txn, err := h.Transactions.GetByCheckoutRequestID(ctx, checkoutID)
	if err == sql.ErrNoRows {
		txn, err = h.queryFallback(ctx, t, checkoutID)
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "transaction not found"})
		}
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	receipt := ""
	if txn.ReceiptNumber != nil {
		receipt = *txn.ReceiptNumber
	}
	return c.JSON(http.StatusOK, echo.Map{
		"transaction": echo.Map{
			"checkout_request_id": txn.CheckoutRequestID,
			"status":              txn.Status,
			"result_code":         txn.ResultCode,
			"result_desc":         txn.ResultDesc,
			"receipt_number":      receipt,
			"amount_cents":        txn.AmountCents,
		},
		"payment_completed": txn.Status == model.TxCompleted,
	})
}

// queryFallback asks Daraja directly for a push whose callback has not
// arrived.  sql.ErrNoRows means the push is still pending.
func (h *PaymentHandler) queryFallback(ctx context.Context, t *model.Ticket, checkoutID string) (*model.MpesaTransaction, error) {
	res, err := h.Gateway.Query(ctx, checkoutID)
	if err != nil {
		// Pending, or the gateway could not answer: either way the
		// outcome is unknown, keep reporting not-found.
		return nil, sql.ErrNoRows
	}
	if err := h.recordOutcome(ctx, t, checkoutID, "", res.ResultCode, res.ResultDesc, "", 0); err != nil {
		return nil, err
	}
	return h.Transactions.GetByCheckoutRequestID(ctx, checkoutID)
}

// recordOutcome writes the transaction row and, on success, marks the
// ticket paid — one transaction, idempotent under callback replays.  A
// successful payment is also announced on the message queue.
func (h *PaymentHandler) recordOutcome(ctx context.Context, t *model.Ticket,
	checkoutID, merchantID string, resultCode int, resultDesc, receipt string, amountKES uint32) error {
	status := model.TxFailed
	switch resultCode {
	case mpesa.ResultSuccess:
		status = model.TxCompleted
	case mpesa.ResultCancelledByUser, mpesa.ResultTimeout:
		status = model.TxCancelled
	}
	amountCents := t.TotalCents
	if amountKES > 0 {
		amountCents = amountKES * 100
	}
	txn := &model.MpesaTransaction{
		TicketID:          t.ID,
		CheckoutRequestID: checkoutID,
		MerchantRequestID: merchantID,
		Status:            status,
		ResultCode:        resultCode,
		ResultDesc:        resultDesc,
		AmountCents:       amountCents,
	}
	if receipt != "" {
		txn.ReceiptNumber = &receipt
	}

	tx, err := h.Tickets.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := h.Transactions.Upsert(ctx, tx, txn); err != nil {
		return err
	}
	if status == model.TxCompleted {
		if err := h.Tickets.MarkPaidTx(ctx, tx, t.ID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	if status == model.TxCompleted {
		go h.announcePayment(t, checkoutID, receipt, amountCents)
	}
	return nil
}

// announcePayment publishes payment.confirmed; failures only log.
func (h *PaymentHandler) announcePayment(t *model.Ticket, checkoutID, receipt string, amountCents uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	title := ""
	if ev, err := h.Events.GetPublished(ctx, t.EventID); err == nil {
		title = ev.Title
	}
	email := ""
	if t.GuestEmail != nil {
		email = *t.GuestEmail
	}
	msisdn := ""
	if t.PhoneNumber != nil {
		msisdn = *t.PhoneNumber
	}
	_ = queuepub.PublishPaymentConfirmed(ctx, queue.PaymentConfirmedEvent{
		TicketID:          t.ID,
		TicketCode:        t.Code,
		EventID:           t.EventID,
		EventTitle:        title,
		CheckoutRequestID: checkoutID,
		ReceiptNumber:     receipt,
		AmountCents:       amountCents,
		PhoneNumber:       msisdn,
		BuyerEmail:        email,
		Quantity:          t.Quantity,
		ConfirmedAt:       time.Now().UTC().Format(time.RFC3339),
	})
}

// authorizePayment checks the STK push caller: the owning user for
// account tickets, the guest token for guest tickets.
func (h *PaymentHandler) authorizePayment(c echo.Context, t *model.Ticket, guestToken string) bool {
	if uid, err := getUserID(c); err == nil {
		return t.UserID != nil && *t.UserID == uid
	}
	if t.UserID != nil {
		return false
	}
	ok, err := h.Tokens.Validate(c.Request().Context(), t.ID, guestToken)
	return err == nil && ok
}
