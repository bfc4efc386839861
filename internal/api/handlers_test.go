package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kazibill/mpesa-billing/internal/model"
	"github.com/kazibill/mpesa-billing/internal/mpesa"
	"github.com/kazibill/mpesa-billing/internal/repo"
	"github.com/kazibill/mpesa-billing/internal/service"
)

type fakePayments struct {
	// capture
	gotInitiate  *service.InitiateRequest
	gotReconcile *mpesa.StkCallback

	// behavior
	result *service.InitiateResult
	err    error
}

var _ PaymentService = (*fakePayments)(nil)

func (f *fakePayments) Initiate(ctx context.Context, req service.InitiateRequest) (*service.InitiateResult, error) {
	f.gotInitiate = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakePayments) Reconcile(ctx context.Context, cb *mpesa.StkCallback) {
	f.gotReconcile = cb
}

type fakeStore struct {
	gotOrg    string
	gotLimit  int
	gotOffset int

	items []model.Transaction
	err   error
}

var _ repo.TransactionStore = (*fakeStore)(nil)

func (f *fakeStore) CreatePending(ctx context.Context, t model.Transaction) error {
	return errors.New("not implemented")
}

func (f *fakeStore) Get(ctx context.Context, checkoutRequestID string) (*model.Transaction, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) ListByOrganization(ctx context.Context, organizationID string, limit, offset int) ([]model.Transaction, error) {
	f.gotOrg = organizationID
	f.gotLimit = limit
	f.gotOffset = offset
	return f.items, f.err
}

func (f *fakeStore) Fail(ctx context.Context, checkoutRequestID string, out repo.Outcome) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeStore) CompleteAndExtend(ctx context.Context, checkoutRequestID string, out repo.Outcome, organizationID string, upd repo.SubscriptionUpdate) (bool, error) {
	return false, errors.New("not implemented")
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func TestHealth(t *testing.T) {
	t.Parallel()

	mux := Router(NewHandler(&fakePayments{}, &fakeStore{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestInitiatePayment_Success(t *testing.T) {
	t.Parallel()

	fp := &fakePayments{result: &service.InitiateResult{
		CheckoutRequestID: "ws_CO_1",
		CustomerMessage:   "Success. Request accepted for processing",
	}}
	mux := Router(NewHandler(fp, &fakeStore{}))

	payload := `{
		"phone": "254708374149",
		"amount": 1500,
		"organizationId": "org-1",
		"packageName": "Gold",
		"subscriptionType": "Monthly"
	}`

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	body := decodeJSON(t, rr)
	if ok, _ := body["success"].(bool); !ok {
		t.Fatalf("expected success=true, got %v", body)
	}
	if body["checkoutRequestId"] != "ws_CO_1" {
		t.Fatalf("unexpected checkoutRequestId: %v", body["checkoutRequestId"])
	}
	if body["customerMessage"] == "" {
		t.Fatalf("expected customerMessage, got %v", body)
	}

	if fp.gotInitiate == nil {
		t.Fatalf("expected Initiate to be called")
	}
	if fp.gotInitiate.Phone != "254708374149" || fp.gotInitiate.Amount != 1500 {
		t.Fatalf("unexpected initiate request: %+v", fp.gotInitiate)
	}
	if fp.gotInitiate.OrganizationID != "org-1" ||
		fp.gotInitiate.PackageName != "Gold" ||
		fp.gotInitiate.SubscriptionType != "Monthly" {
		t.Fatalf("unexpected initiate request: %+v", fp.gotInitiate)
	}
}

func TestInitiatePayment_InvalidJSON(t *testing.T) {
	t.Parallel()

	fp := &fakePayments{}
	mux := Router(NewHandler(fp, &fakeStore{}))

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader("NOT JSON"))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fp.gotInitiate != nil {
		t.Fatalf("expected Initiate not to be called")
	}
}

func TestInitiatePayment_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "validation",
			err:        &service.ValidationError{Msg: "phone is required"},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "phone is required",
		},
		{
			name:       "provider rejection",
			err:        &mpesa.RejectedError{Code: "1", Description: "Insufficient balance"},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Insufficient balance",
		},
		{
			name:       "auth failure",
			err:        mpesa.ErrAuth,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "authentication",
		},
		{
			name:       "upstream failure",
			err:        errors.New("connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "payment provider",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mux := Router(NewHandler(&fakePayments{err: tc.err}, &fakeStore{}))

			req := httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(`{"phone":"2547","amount":10}`))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d body=%q", tc.wantStatus, rr.Code, rr.Body.String())
			}

			body := decodeJSON(t, rr)
			if ok, _ := body["success"].(bool); ok {
				t.Fatalf("expected success=false, got %v", body)
			}
			msg, _ := body["message"].(string)
			if !strings.Contains(msg, tc.wantMsg) {
				t.Fatalf("expected message containing %q, got %q", tc.wantMsg, msg)
			}
		})
	}
}

func TestPaymentCallback_Valid(t *testing.T) {
	t.Parallel()

	fp := &fakePayments{}
	mux := Router(NewHandler(fp, &fakeStore{}))

	payload := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": 0,
				"ResultDesc": "Success",
				"CallbackMetadata": {"Item": [{"Name": "Amount", "Value": 1500}]}
			}
		}
	}`

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/callback", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fp.gotReconcile == nil {
		t.Fatalf("expected Reconcile to be called")
	}
	if fp.gotReconcile.CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("unexpected CheckoutRequestID: %q", fp.gotReconcile.CheckoutRequestID)
	}
	if fp.gotReconcile.ResultCode != 0 {
		t.Fatalf("unexpected ResultCode: %d", fp.gotReconcile.ResultCode)
	}
}

func TestPaymentCallback_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"not json", "NOT JSON"},
		{"empty object", "{}"},
		{"missing stkCallback", `{"Body":{}}`},
		{"missing checkout id", `{"Body":{"stkCallback":{"ResultCode":0}}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fp := &fakePayments{}
			mux := Router(NewHandler(fp, &fakeStore{}))

			req := httptest.NewRequest(http.MethodPost, "/v1/payments/callback", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%q", rr.Code, rr.Body.String())
			}
			if fp.gotReconcile != nil {
				t.Fatalf("expected Reconcile not to be called")
			}
		})
	}
}

func TestListTransactions_DefaultsAndArgs(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{items: []model.Transaction{
		{CheckoutRequestID: "ws_CO_1", OrganizationID: "org-1", Status: model.Completed},
	}}
	mux := Router(NewHandler(&fakePayments{}, fs))

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions?organizationId=org-1", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fs.gotOrg != "org-1" || fs.gotLimit != 50 || fs.gotOffset != 0 {
		t.Fatalf("expected org-1 limit=50 offset=0, got %q %d %d", fs.gotOrg, fs.gotLimit, fs.gotOffset)
	}

	body := decodeJSON(t, rr)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected 1 item, got %v", body["items"])
	}
}

func TestListTransactions_MissingOrganization(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{}
	mux := Router(NewHandler(&fakePayments{}, fs))

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fs.gotOrg != "" {
		t.Fatalf("expected store not to be called")
	}
}

func TestListTransactions_ParsesLimitOffset(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{}
	mux := Router(NewHandler(&fakePayments{}, fs))

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions?organizationId=org-1&limit=5&offset=10", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fs.gotLimit != 5 || fs.gotOffset != 10 {
		t.Fatalf("expected limit=5 offset=10, got %d %d", fs.gotLimit, fs.gotOffset)
	}
}
