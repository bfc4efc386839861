package mpesa

import (
	"fmt"
	"time"
)

// CallbackEnvelope is the notification the provider posts after the
// subscriber resolves the push prompt.
type CallbackEnvelope struct {
	Body struct {
		StkCallback *StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata is the irregular name/value list the provider
// attaches on success. Field presence is not guaranteed.
type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// CallbackOutcome holds the settlement fields extracted from the
// metadata list. Every field is optional; absent entries stay nil.
type CallbackOutcome struct {
	Amount          *float64
	ReceiptNumber   *string
	TransactionDate *time.Time
	PhoneNumber     *string
}

// Outcome walks the item list once and picks out the known fields by
// name. Unknown names and malformed values are skipped, never an error.
func (m *CallbackMetadata) Outcome() CallbackOutcome {
	var out CallbackOutcome
	if m == nil {
		return out
	}

	for _, item := range m.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				out.Amount = &v
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok && v != "" {
				out.ReceiptNumber = &v
			}
		case "TransactionDate":
			if t, ok := parseTransactionDate(item.Value); ok {
				out.TransactionDate = &t
			}
		case "PhoneNumber":
			if v, ok := numericString(item.Value); ok {
				out.PhoneNumber = &v
			}
		}
	}
	return out
}

// parseTransactionDate handles the compact numeric timestamp
// (20191219102115) the provider sends, in either JSON number or string
// form.
func parseTransactionDate(v any) (time.Time, bool) {
	s, ok := numericString(v)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func numericString(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		return n, n != ""
	case float64:
		return fmt.Sprintf("%.0f", n), true
	default:
		return "", false
	}
}
