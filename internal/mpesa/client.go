package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const timestampLayout = "20060102150405"

// TokenProvider yields a valid bearer token for provider calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// RejectedError is a provider decline: the push endpoint answered but
// refused the request. It carries the provider's code and description.
type RejectedError struct {
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("stk push rejected: code=%s desc=%q", e.Code, e.Description)
}

type Client struct {
	baseURL     string
	shortcode   string
	passkey     string
	callbackURL string
	tokens      TokenProvider
	client      *http.Client

	now func() time.Time
}

func NewClient(baseURL, shortcode, passkey, callbackURL string, tokens TokenProvider) *Client {
	return &Client{
		baseURL:     baseURL,
		shortcode:   shortcode,
		passkey:     passkey,
		callbackURL: callbackURL,
		tokens:      tokens,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

type STKPushRequest struct {
	PhoneNumber      string
	Amount           int64
	AccountReference string
	TransactionDesc  string
}

type STKPushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
	RawResponse       []byte
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKPush submits a push-payment prompt to the subscriber's phone. The
// password embeds the request timestamp, so it is recomputed per call.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.now().Format(timestampLayout)
	payload := stkPushPayload{
		BusinessShortCode: c.shortcode,
		Password:          stkPassword(c.shortcode, c.passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            req.PhoneNumber,
		PartyB:            c.shortcode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.callbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.TransactionDesc,
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var sr stkPushResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}

	if sr.ResponseCode != "0" {
		return nil, &RejectedError{Code: sr.ResponseCode, Description: sr.ResponseDescription}
	}
	if sr.CheckoutRequestID == "" {
		return nil, fmt.Errorf("missing CheckoutRequestID in response body=%q", string(body))
	}

	return &STKPushResult{
		MerchantRequestID: sr.MerchantRequestID,
		CheckoutRequestID: sr.CheckoutRequestID,
		CustomerMessage:   sr.CustomerMessage,
		RawResponse:       body,
	}, nil
}

func stkPassword(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}
