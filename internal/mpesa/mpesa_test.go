package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassword(t *testing.T) {
	got := Password("174379", "passkey", "20260901120000")
	want := base64.StdEncoding.EncodeToString([]byte("174379passkey20260901120000"))
	assert.Equal(t, want, got)
}

// gatewayStub serves the OAuth and STK endpoints for client tests.
func gatewayStub(t *testing.T, push, query http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "tok-1", "expires_in": "3599",
		})
	})
	if push != nil {
		mux.HandleFunc(stkPushPath, push)
	}
	if query != nil {
		mux.HandleFunc("/mpesa/stkpushquery/v1/query", query)
	}
	return httptest.NewServer(mux)
}

func testClient(baseURL string) *Client {
	return New(Config{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/mpesa/callback",
	})
}

func TestSTKPush(t *testing.T) {
	var captured map[string]interface{}
	srv := gatewayStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID": "m-1",
			"CheckoutRequestID": "ws_CO_123",
			"ResponseCode":      "0",
			"CustomerMessage":   "Success. Request accepted for processing",
		})
	}, nil)
	defer srv.Close()

	c := testClient(srv.URL)
	c.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }

	res, err := c.STKPush(context.Background(), "254712345678", 1500, "TIKITI-7", "ticket purchase")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_123", res.CheckoutRequestID)
	assert.Equal(t, "m-1", res.MerchantRequestID)

	assert.Equal(t, "174379", captured["BusinessShortCode"])
	assert.Equal(t, "20260901120000", captured["Timestamp"])
	assert.Equal(t, Password("174379", "passkey", "20260901120000"), captured["Password"])
	assert.Equal(t, "CustomerPayBillOnline", captured["TransactionType"])
	assert.Equal(t, float64(1500), captured["Amount"])
	assert.Equal(t, "254712345678", captured["PartyA"])
	assert.Equal(t, "254712345678", captured["PhoneNumber"])
	assert.Equal(t, "https://example.com/mpesa/callback", captured["CallBackURL"])
}

func TestSTKPushGatewayRejection(t *testing.T) {
	srv := gatewayStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"ResponseCode":        "1",
			"ResponseDescription": "Invalid PhoneNumber",
		})
	}, nil)
	defer srv.Close()

	_, err := testClient(srv.URL).STKPush(context.Background(), "254712345678", 100, "ref", "desc")
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "1", ge.Code)
}

func TestQueryPending(t *testing.T) {
	srv := gatewayStub(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"errorCode":    "500.001.1001",
			"errorMessage": "The transaction is being processed",
		})
	})
	defer srv.Close()

	_, err := testClient(srv.URL).Query(context.Background(), "ws_CO_123")
	assert.ErrorIs(t, err, ErrResultPending)
}

func TestQueryResolved(t *testing.T) {
	srv := gatewayStub(t, nil, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"ResponseCode": "0",
			"ResultCode":   "1032",
			"ResultDesc":   "Request cancelled by user",
		})
	})
	defer srv.Close()

	res, err := testClient(srv.URL).Query(context.Background(), "ws_CO_123")
	require.NoError(t, err)
	assert.Equal(t, ResultCancelledByUser, res.ResultCode)
	assert.Equal(t, "Request cancelled by user", res.ResultDesc)
}

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1500.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

const cancelledCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user."
    }
  }
}`

func TestCallbackParseSuccess(t *testing.T) {
	var env CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(successCallback), &env))
	cb := env.Body.STKCallback
	assert.True(t, cb.Succeeded())
	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)
	assert.Equal(t, "NLJ7RT61SV", cb.ReceiptNumber())
	assert.Equal(t, uint32(1500), cb.AmountKES())
}

func TestCallbackParseCancelled(t *testing.T) {
	var env CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(cancelledCallback), &env))
	cb := env.Body.STKCallback
	assert.False(t, cb.Succeeded())
	assert.Equal(t, ResultCancelledByUser, cb.ResultCode)
	assert.Empty(t, cb.ReceiptNumber())
	assert.Zero(t, cb.AmountKES())
}
