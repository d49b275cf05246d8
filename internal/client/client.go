// Package client is a typed HTTP client for the tikiti marketplace
// API.  It implements the purchase package's Reserver, Initiator and
// StatusChecker interfaces and maps the API's loose JSON shapes into
// the flow's tagged error types at the boundary.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tikiti-ke/tikiti/internal/model"
	"github.com/tikiti-ke/tikiti/internal/purchase"
)

// Client calls the marketplace REST API at a configured base URL.  The
// zero value is not usable; construct with New.
type Client struct {
	baseURL string
	http    *http.Client
	token   string // bearer access token; empty for guest sessions
}

// New returns a client for the API at baseURL.  token may be empty for
// guest checkout.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		token:   token,
	}
}

// SetToken replaces the bearer token (after a login).
func (c *Client) SetToken(token string) { c.token = token }

// errBody is the API's uniform failure shape.
type errBody struct {
	Error string `json:"error"`
}

// do issues a JSON request and decodes a 2xx response into out (when
// out is non-nil).  Non-2xx responses are returned as *apiError with
// the server-supplied message.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &apiError{Status: resp.StatusCode, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError carries a non-2xx response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: %d", e.Status)
}

// Login exchanges credentials for an access token and installs it on
// the client.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Access struct {
			Token string `json:"token"`
		} `json:"access"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", body, &resp); err != nil {
		return err
	}
	c.token = resp.Access.Token
	return nil
}

// EventDetail is an event plus its purchasable tiers, as listed by the
// API for the selection step.
type EventDetail struct {
	ID          uint64                `json:"id"`
	Title       string                `json:"title"`
	Venue       string                `json:"venue"`
	StartsAt    string                `json:"starts_at"`
	TicketTypes []purchase.TicketType `json:"ticket_types"`
}

// ListEvents returns the published events.
func (c *Client) ListEvents(ctx context.Context) ([]EventDetail, error) {
	var resp struct {
		Items []EventDetail `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/events", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetEvent returns one published event with its ticket types.
func (c *Client) GetEvent(ctx context.Context, id uint64) (*EventDetail, error) {
	var resp struct {
		Item EventDetail `json:"item"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/events/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// Reserve implements purchase.Reserver via POST /tickets/purchase.
func (c *Client) Reserve(ctx context.Context, req purchase.ReserveRequest) (purchase.Reservation, error) {
	body := map[string]interface{}{
		"event_id":       req.EventID,
		"ticket_type_id": req.TicketTypeID,
		"quantity":       req.Quantity,
	}
	if req.GuestName != "" {
		body["name"] = req.GuestName
	}
	if req.GuestEmail != "" {
		body["email"] = req.GuestEmail
	}
	var resp struct {
		Ticket struct {
			ID uint64 `json:"id"`
		} `json:"ticket"`
		GuestToken string `json:"guest_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/tickets/purchase", body, &resp); err != nil {
		if ae, ok := err.(*apiError); ok {
			reason := ae.Message
			if reason == "" {
				reason = "failed to reserve ticket"
			}
			return purchase.Reservation{}, &purchase.ReservationError{Reason: reason}
		}
		return purchase.Reservation{}, err
	}
	return purchase.Reservation{TicketID: resp.Ticket.ID, GuestToken: resp.GuestToken}, nil
}

// Initiate implements purchase.Initiator via POST /mpesa/stkpush.
func (c *Client) Initiate(ctx context.Context, ticketID uint64, msisdn, guestToken string) (string, error) {
	body := map[string]interface{}{
		"ticket_id":    ticketID,
		"phone_number": msisdn,
	}
	if guestToken != "" {
		body["guest_token"] = guestToken
	}
	var resp struct {
		CheckoutRequestID string `json:"checkout_request_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/mpesa/stkpush", body, &resp); err != nil {
		if ae, ok := err.(*apiError); ok {
			reason := ae.Message
			if reason == "" {
				reason = "failed to start payment"
			}
			return "", &purchase.InitiationError{Reason: reason}
		}
		return "", err
	}
	return resp.CheckoutRequestID, nil
}

// Status implements purchase.StatusChecker.  Authenticated sessions use
// /mpesa/status/{id}; guest sessions use the guest-status variant with
// the access token in the query string.  A 404 maps to
// purchase.ErrStatusNotReady.
func (c *Client) Status(ctx context.Context, checkoutRequestID, guestToken string) (purchase.StatusResult, error) {
	path := "/mpesa/status/" + url.PathEscape(checkoutRequestID)
	if c.token == "" {
		path = "/mpesa/guest-status/" + url.PathEscape(checkoutRequestID) +
			"?guest_token=" + url.QueryEscape(guestToken)
	}
	var resp struct {
		Transaction struct {
			Status     string `json:"status"`
			ResultDesc string `json:"result_desc"`
		} `json:"transaction"`
		PaymentCompleted bool `json:"payment_completed"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if ae, ok := err.(*apiError); ok && ae.Status == http.StatusNotFound {
			return purchase.StatusResult{}, purchase.ErrStatusNotReady
		}
		return purchase.StatusResult{}, err
	}
	res := purchase.StatusResult{}
	switch {
	case resp.PaymentCompleted || resp.Transaction.Status == model.TxCompleted:
		res.Completed = true
	case resp.Transaction.Status == model.TxFailed || resp.Transaction.Status == model.TxCancelled:
		res.Failed = true
		res.Reason = resp.Transaction.ResultDesc
	}
	return res, nil
}

// DownloadTicket fetches the PDF for a paid ticket.  Guests authorize
// with their access token or purchase email.
func (c *Client) DownloadTicket(ctx context.Context, ticketID uint64, guestToken, email string) ([]byte, error) {
	q := url.Values{}
	if guestToken != "" {
		q.Set("guest_token", guestToken)
	} else if email != "" {
		q.Set("email", email)
	}
	path := fmt.Sprintf("/tickets/download/%d", ticketID)
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var eb errBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return nil, &apiError{Status: resp.StatusCode, Message: eb.Error}
	}
	return io.ReadAll(resp.Body)
}
