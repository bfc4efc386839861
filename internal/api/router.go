package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/payments", h.InitiatePayment)
	mux.HandleFunc("POST /v1/payments/callback", h.PaymentCallback)

	mux.HandleFunc("GET /v1/transactions", h.ListTransactions)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("mpesa-billing"))
	})

	return mux
}
