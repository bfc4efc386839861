package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kazibill/mpesa-billing/internal/model"
	"github.com/kazibill/mpesa-billing/internal/mpesa"
	"github.com/kazibill/mpesa-billing/internal/repo"
)

// ValidationError reports a rejected initiation request. It maps to a
// 400 at the boundary and is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PushClient is the provider call the initiator depends on.
type PushClient interface {
	STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResult, error)
}

type Payments struct {
	client PushClient
	store  repo.TransactionStore

	now func() time.Time
}

func NewPayments(client PushClient, store repo.TransactionStore) *Payments {
	return &Payments{
		client: client,
		store:  store,
		now:    time.Now,
	}
}

type InitiateRequest struct {
	Phone            string
	Amount           int64
	AccountReference string
	TransactionDesc  string
	OrganizationID   string
	PackageName      string
	SubscriptionType string
}

type InitiateResult struct {
	CheckoutRequestID string
	CustomerMessage   string
}

// Initiate validates the request, triggers the push prompt and records
// a PENDING transaction keyed by the provider's CheckoutRequestID. No
// record is created on any failure path.
func (p *Payments) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := validateInitiate(req); err != nil {
		return nil, err
	}

	accountRef := req.AccountReference
	if accountRef == "" {
		accountRef = req.OrganizationID
	}
	desc := req.TransactionDesc
	if desc == "" {
		desc = fmt.Sprintf("%s subscription", req.PackageName)
	}

	res, err := p.client.STKPush(ctx, mpesa.STKPushRequest{
		PhoneNumber:      req.Phone,
		Amount:           req.Amount,
		AccountReference: accountRef,
		TransactionDesc:  desc,
	})
	if err != nil {
		return nil, err
	}

	t := model.Transaction{
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		OrganizationID:    req.OrganizationID,
		Amount:            req.Amount,
		PhoneNumber:       req.Phone,
		PackageName:       req.PackageName,
		SubscriptionType:  req.SubscriptionType,
		Status:            model.Pending,
		RawResponse:       res.RawResponse,
	}
	if err := p.store.CreatePending(ctx, t); err != nil {
		return nil, fmt.Errorf("store pending transaction: %w", err)
	}

	return &InitiateResult{
		CheckoutRequestID: res.CheckoutRequestID,
		CustomerMessage:   res.CustomerMessage,
	}, nil
}

func validateInitiate(req InitiateRequest) error {
	switch {
	case req.Phone == "":
		return &ValidationError{Msg: "phone is required"}
	case req.Amount <= 0:
		return &ValidationError{Msg: "amount must be > 0"}
	case req.OrganizationID == "":
		return &ValidationError{Msg: "organizationId is required"}
	case req.PackageName == "":
		return &ValidationError{Msg: "packageName is required"}
	case req.SubscriptionType == "":
		return &ValidationError{Msg: "subscriptionType is required"}
	}
	return nil
}
