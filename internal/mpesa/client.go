// Package mpesa is a client for the Safaricom Daraja API: OAuth token
// management, Lipa Na M-Pesa STK push initiation and transaction status
// queries, plus the callback payload types Daraja posts back.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Daraja endpoint paths under the configured base URL.
const (
	oauthPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"
)

// timestampLayout is Daraja's YYYYMMDDHHMMSS password timestamp format.
const timestampLayout = "20060102150405"

// Config carries the gateway credentials and callback address.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// Client talks to the Daraja API.  The OAuth access token is cached
// until shortly before expiry and refreshed on demand; safe for
// concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// New returns a gateway client for the given configuration.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
	}
}

// GatewayError is a non-success response from Daraja.
type GatewayError struct {
	Code string
	Desc string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("mpesa gateway: %s (%s)", e.Desc, e.Code)
}

// accessToken returns a valid OAuth token, fetching a fresh one when
// the cached token is missing or about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+oauthPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mpesa oauth: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"` // seconds, as a string
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", errors.New("mpesa oauth: empty access token")
	}
	// Daraja tokens last ~3600s; renew a minute early.
	c.token = body.AccessToken
	c.tokenExp = c.now().Add(55 * time.Minute)
	return c.token, nil
}

// Password computes the Lipa Na M-Pesa request password for a
// timestamp: base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// STKPushResult identifies an accepted push request.
type STKPushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
}

// STKPush sends a payment prompt to the subscriber's phone.  amountKES
// is whole shillings (Daraja does not take cents), msisdn must already
// be in 254XXXXXXXXX form, and accountRef appears on the customer's
// statement.  A non-zero ResponseCode is returned as *GatewayError.
func (c *Client) STKPush(ctx context.Context, msisdn string, amountKES uint32, accountRef, description string) (*STKPushResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	ts := c.now().Format(timestampLayout)
	reqBody := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amountKES,
		"PartyA":            msisdn,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       msisdn,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  accountRef,
		"TransactionDesc":   description,
	}
	var respBody struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
		ErrorMessage        string `json:"errorMessage"`
	}
	if err := c.post(ctx, stkPushPath, token, reqBody, &respBody); err != nil {
		return nil, err
	}
	if respBody.ResponseCode != "0" {
		desc := respBody.ResponseDescription
		if desc == "" {
			desc = respBody.ErrorMessage
		}
		return nil, &GatewayError{Code: respBody.ResponseCode, Desc: desc}
	}
	return &STKPushResult{
		MerchantRequestID: respBody.MerchantRequestID,
		CheckoutRequestID: respBody.CheckoutRequestID,
		CustomerMessage:   respBody.CustomerMessage,
	}, nil
}

// QueryResult is the outcome of an STK push status query.
type QueryResult struct {
	ResultCode int
	ResultDesc string
}

// ErrResultPending is returned by Query while the push has not resolved
// on the gateway side.
var ErrResultPending = errors.New("mpesa: transaction still processing")

// Query asks Daraja for the result of an earlier push.  While the push
// is unresolved the gateway answers with a "still under processing"
// error body, surfaced here as ErrResultPending.
func (c *Client) Query(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	ts := c.now().Format(timestampLayout)
	reqBody := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}
	var respBody struct {
		ResponseCode string `json:"ResponseCode"`
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := c.post(ctx, stkQueryPath, token, reqBody, &respBody); err != nil {
		return nil, err
	}
	// 500.001.1001 = "transaction is being processed"
	if respBody.ErrorCode == "500.001.1001" {
		return nil, ErrResultPending
	}
	if respBody.ErrorCode != "" {
		return nil, &GatewayError{Code: respBody.ErrorCode, Desc: respBody.ErrorMessage}
	}
	var code int
	if _, err := fmt.Sscanf(respBody.ResultCode, "%d", &code); err != nil {
		return nil, fmt.Errorf("mpesa query: bad result code %q", respBody.ResultCode)
	}
	return &QueryResult{ResultCode: code, ResultDesc: respBody.ResultDesc}, nil
}

// post issues an authorized JSON POST and decodes the response body
// regardless of HTTP status; Daraja reports most failures inside the
// body rather than the status line.
func (c *Client) post(ctx context.Context, path, token string, in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
