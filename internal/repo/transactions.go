package repo

import (
	"context"
	"errors"
	"time"

	"github.com/kazibill/mpesa-billing/internal/model"
)

// ErrNotFound is returned when no transaction matches the key.
var ErrNotFound = errors.New("transaction not found")

// Outcome carries the settlement fields written when a transaction
// completes. Optional fields stay nil when the callback omitted them.
type Outcome struct {
	AmountPaid      *float64
	MpesaReceipt    *string
	TransactionDate *time.Time
	PayerPhone      *string
	ResultCode      int
	ResultDesc      string
	Metadata        []byte
}

// SubscriptionUpdate overwrites an organization's subscription window
// after a settled payment.
type SubscriptionUpdate struct {
	PackageName      string
	SubscriptionType string
	Start            time.Time
	End              time.Time
	AmountPaid       float64
	TransactionID    string
}

type TransactionStore interface {
	CreatePending(ctx context.Context, t model.Transaction) error
	Get(ctx context.Context, checkoutRequestID string) (*model.Transaction, error)
	ListByOrganization(ctx context.Context, organizationID string, limit, offset int) ([]model.Transaction, error)

	// Fail moves a PENDING transaction to FAILED. The bool reports
	// whether a row actually transitioned; an already-terminal record
	// is left untouched.
	Fail(ctx context.Context, checkoutRequestID string, out Outcome) (bool, error)

	// CompleteAndExtend moves a PENDING transaction to COMPLETED and
	// overwrites the owning organization's subscription window in the
	// same database transaction. The organization update only runs
	// when the record transitioned, so replayed callbacks cannot shift
	// the window again.
	CompleteAndExtend(ctx context.Context, checkoutRequestID string, out Outcome, organizationID string, upd SubscriptionUpdate) (bool, error)
}
