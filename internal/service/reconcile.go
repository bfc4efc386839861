package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/kazibill/mpesa-billing/internal/model"
	"github.com/kazibill/mpesa-billing/internal/mpesa"
	"github.com/kazibill/mpesa-billing/internal/repo"
)

// Reconcile matches a provider callback against its pending transaction
// and applies the terminal transition. Internal failures are logged and
// absorbed: the provider must always receive an acknowledgment or it
// keeps redelivering.
func (p *Payments) Reconcile(ctx context.Context, cb *mpesa.StkCallback) {
	log := slog.With("checkout_request_id", cb.CheckoutRequestID)

	rec, err := p.store.Get(ctx, cb.CheckoutRequestID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn("callback for unknown transaction, acknowledging anyway")
		return
	}
	if err != nil {
		log.Error("failed to load transaction for callback", "error", err)
		return
	}

	metadata, _ := json.Marshal(cb)

	if cb.ResultCode != 0 {
		transitioned, err := p.store.Fail(ctx, cb.CheckoutRequestID, repo.Outcome{
			ResultCode: cb.ResultCode,
			ResultDesc: cb.ResultDesc,
			Metadata:   metadata,
		})
		if err != nil {
			log.Error("failed to mark transaction failed", "error", err)
			return
		}
		if !transitioned {
			log.Info("duplicate callback ignored, transaction already settled")
			return
		}
		log.Info("transaction failed", "result_code", cb.ResultCode, "result_desc", cb.ResultDesc)
		return
	}

	fields := cb.CallbackMetadata.Outcome()

	duration, known := model.SubscriptionDuration(rec.SubscriptionType)
	if !known {
		log.Warn("unknown subscription type, defaulting to 30 days",
			"subscription_type", rec.SubscriptionType)
	}

	paid := float64(rec.Amount)
	if fields.Amount != nil {
		paid = *fields.Amount
	}

	now := p.now()
	transitioned, err := p.store.CompleteAndExtend(ctx, cb.CheckoutRequestID,
		repo.Outcome{
			AmountPaid:      fields.Amount,
			MpesaReceipt:    fields.ReceiptNumber,
			TransactionDate: fields.TransactionDate,
			PayerPhone:      fields.PhoneNumber,
			ResultCode:      cb.ResultCode,
			ResultDesc:      cb.ResultDesc,
			Metadata:        metadata,
		},
		rec.OrganizationID,
		repo.SubscriptionUpdate{
			PackageName:      rec.PackageName,
			SubscriptionType: rec.SubscriptionType,
			Start:            now,
			End:              now.Add(duration),
			AmountPaid:       paid,
			TransactionID:    cb.CheckoutRequestID,
		},
	)
	if err != nil {
		log.Error("failed to complete transaction", "error", err)
		return
	}
	if !transitioned {
		log.Info("duplicate callback ignored, transaction already settled")
		return
	}

	log.Info("transaction completed",
		"organization_id", rec.OrganizationID,
		"subscription_type", rec.SubscriptionType,
		"subscription_end", now.Add(duration))
}
