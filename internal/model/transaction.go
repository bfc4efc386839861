package model

import "time"

type Status string

const (
	Pending   Status = "PENDING"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
)

// Transaction tracks an STK push from initiation until the provider
// callback settles it. Keyed by the provider-issued CheckoutRequestID.
type Transaction struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
	MerchantRequestID string `json:"merchantRequestId"`
	OrganizationID    string `json:"organizationId"`
	Amount            int64  `json:"amount"`
	PhoneNumber       string `json:"phoneNumber"`
	PackageName       string `json:"packageName"`
	SubscriptionType  string `json:"subscriptionType"`
	Status            Status `json:"status"`

	RawResponse      []byte `json:"-"`
	CallbackMetadata []byte `json:"-"`

	MpesaReceipt    *string    `json:"mpesaReceipt,omitempty"`
	AmountPaid      *float64   `json:"amountPaid,omitempty"`
	TransactionDate *time.Time `json:"transactionDate,omitempty"`
	PayerPhone      *string    `json:"payerPhone,omitempty"`
	ResultCode      *int       `json:"resultCode,omitempty"`
	ResultDesc      *string    `json:"resultDesc,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Organization is the subscription holder whose access window is
// extended when a payment settles. Rows are assumed to pre-exist.
type Organization struct {
	ID                string    `json:"id"`
	ActivePackage     string    `json:"activePackage"`
	SubscriptionStart time.Time `json:"subscriptionStart"`
	SubscriptionEnd   time.Time `json:"subscriptionEnd"`
	SubscriptionType  string    `json:"subscriptionType"`
	LastAmountPaid    float64   `json:"lastAmountPaid"`
	LastTransactionID string    `json:"lastTransactionId"`
	PaymentConfirmed  bool      `json:"paymentConfirmed"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

const defaultSubscriptionDuration = 30 * 24 * time.Hour

// SubscriptionDuration maps a subscription type to the access window it
// buys. The second return value is false when the type is unknown and
// the default was applied; callers are expected to log that.
func SubscriptionDuration(subscriptionType string) (time.Duration, bool) {
	switch subscriptionType {
	case "Monthly":
		return defaultSubscriptionDuration, true
	case "Quarterly":
		return 90 * 24 * time.Hour, true
	case "Annually":
		return 365 * 24 * time.Hour, true
	default:
		return defaultSubscriptionDuration, false
	}
}
