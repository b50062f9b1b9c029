package mpesa

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// ResultCodeSuccess is the Daraja result code for a completed payment; any
// other code is a failure with ResultDesc carrying the reason.
const ResultCodeSuccess = 0

// msisdnPattern matches E.164 without the plus: country code followed by
// subscriber digits, 10-15 digits total.
var msisdnPattern = regexp.MustCompile(`^[1-9][0-9]{9,14}$`)

// ValidPhone reports whether the msisdn is in strict international format.
func ValidPhone(phone string) bool {
	return msisdnPattern.MatchString(phone)
}

// CallbackEnvelope is the payload Daraja posts to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback reports the outcome of a single STK push.
type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata is a bag of name/value items present on success callbacks.
type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem is one metadata entry (Amount, MpesaReceiptNumber, PhoneNumber...).
type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// Succeeded reports whether the push completed.
func (c STKCallback) Succeeded() bool {
	return c.ResultCode == ResultCodeSuccess
}

// Amount extracts the settled amount in whole currency units. Daraja encodes
// it as a JSON number that may carry a fractional part ("500.0"), so it goes
// through decimal rather than float truncation.
func (c STKCallback) Amount() (int, error) {
	if c.CallbackMetadata == nil {
		return 0, fmt.Errorf("callback has no metadata")
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != "Amount" || item.Value == nil {
			continue
		}
		raw := fmt.Sprintf("%v", item.Value)
		dec, err := decimal.NewFromString(raw)
		if err != nil {
			return 0, fmt.Errorf("parsing callback amount %q: %w", raw, err)
		}
		if !dec.Equal(dec.Truncate(0)) {
			return 0, fmt.Errorf("callback amount %q is not a whole unit", raw)
		}
		return int(dec.IntPart()), nil
	}
	return 0, fmt.Errorf("callback metadata has no Amount item")
}

// Receipt extracts the M-Pesa receipt number when present.
func (c STKCallback) Receipt() string {
	if c.CallbackMetadata == nil {
		return ""
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if s, ok := item.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}
