package mpesa

import "encoding/json"

// Daraja result codes observed on STK callbacks.  Zero is success;
// everything else is a terminal failure with 1032 specifically meaning
// the subscriber dismissed the prompt.
const (
	ResultSuccess         = 0
	ResultInsufficient    = 1
	ResultCancelledByUser = 1032
	ResultTimeout         = 1037
)

// CallbackEnvelope is the body Daraja posts to the callback URL after
// an STK push resolves.
type CallbackEnvelope struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback is the resolved outcome of one push.  CallbackMetadata is
// only present on success.
type STKCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []MetadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

// MetadataItem is one name/value pair of the success metadata (Amount,
// MpesaReceiptNumber, TransactionDate, PhoneNumber).  Values arrive as
// mixed JSON types.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// Succeeded reports whether the push completed with a payment.
func (cb *STKCallback) Succeeded() bool { return cb.ResultCode == ResultSuccess }

// ReceiptNumber extracts the M-Pesa receipt from the metadata, or ""
// when absent.
func (cb *STKCallback) ReceiptNumber() string {
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			var s string
			if err := json.Unmarshal(item.Value, &s); err == nil {
				return s
			}
		}
	}
	return ""
}

// AmountKES extracts the confirmed amount in whole shillings, or 0 when
// absent.
func (cb *STKCallback) AmountKES() uint32 {
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name == "Amount" {
			var f float64
			if err := json.Unmarshal(item.Value, &f); err == nil {
				return uint32(f)
			}
		}
	}
	return 0
}
