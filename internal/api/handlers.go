package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/kazibill/mpesa-billing/internal/mpesa"
	"github.com/kazibill/mpesa-billing/internal/repo"
	"github.com/kazibill/mpesa-billing/internal/service"
)

type PaymentService interface {
	Initiate(ctx context.Context, req service.InitiateRequest) (*service.InitiateResult, error)
	Reconcile(ctx context.Context, cb *mpesa.StkCallback)
}

type Handler struct {
	payments PaymentService
	store    repo.TransactionStore
}

func NewHandler(p PaymentService, store repo.TransactionStore) *Handler {
	return &Handler{payments: p, store: store}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type initiateBody struct {
	Phone            string `json:"phone"`
	Amount           int64  `json:"amount"`
	AccountReference string `json:"accountReference"`
	TransactionDesc  string `json:"transactionDesc"`
	OrganizationID   string `json:"organizationId"`
	PackageName      string `json:"packageName"`
	SubscriptionType string `json:"subscriptionType"`
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var body initiateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "invalid json body",
		})
		return
	}

	res, err := h.payments.Initiate(r.Context(), service.InitiateRequest{
		Phone:            body.Phone,
		Amount:           body.Amount,
		AccountReference: body.AccountReference,
		TransactionDesc:  body.TransactionDesc,
		OrganizationID:   body.OrganizationID,
		PackageName:      body.PackageName,
		SubscriptionType: body.SubscriptionType,
	})
	if err != nil {
		status, msg := initiateErrorResponse(err)
		writeJSON(w, status, map[string]any{
			"success": false,
			"message": msg,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"message":           "STK push initiated",
		"checkoutRequestId": res.CheckoutRequestID,
		"customerMessage":   res.CustomerMessage,
	})
}

func initiateErrorResponse(err error) (int, string) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ve.Msg
	}

	var re *mpesa.RejectedError
	if errors.As(err, &re) {
		return http.StatusBadRequest, "payment rejected: " + re.Description
	}

	if errors.Is(err, mpesa.ErrAuth) {
		return http.StatusInternalServerError, "payment provider authentication failed"
	}

	return http.StatusInternalServerError, "failed to reach payment provider"
}

// PaymentCallback handles the provider's asynchronous result. Anything
// beyond a malformed envelope is acknowledged with a 200; a non-success
// answer here would only trigger redelivery storms.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var env mpesa.CallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil ||
		env.Body.StkCallback == nil ||
		env.Body.StkCallback.CheckoutRequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid callback payload"})
		return
	}

	h.payments.Reconcile(r.Context(), env.Body.StkCallback)

	writeJSON(w, http.StatusOK, map[string]any{"message": "callback received"})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organizationId")
	if orgID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "organizationId is required"})
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.store.ListByOrganization(r.Context(), orgID, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
