package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrAuth marks a failed credential exchange with the provider. Callers
// on the initiation path surface it as an upstream auth failure.
var ErrAuth = errors.New("token exchange failed")

const tokenKey = "mpesa:access-token"

// TokenSource caches a single bearer token and refreshes it when it is
// within RefreshBuffer of expiry. Refresh is single-flight: concurrent
// expired callers share one exchange call. An optional Redis tier lets
// restarts and replicas reuse a still-valid token.
type TokenSource struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	buffer         time.Duration
	client         *http.Client
	rdb            *redis.Client

	now func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time

	group singleflight.Group
}

func NewTokenSource(baseURL, consumerKey, consumerSecret string, buffer time.Duration) *TokenSource {
	return &TokenSource{
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		buffer:         buffer,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// WithRedis enables the shared token tier.
func (ts *TokenSource) WithRedis(rdb *redis.Client) *TokenSource {
	ts.rdb = rdb
	return ts
}

func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := ts.cached(); ok {
		return tok, nil
	}

	v, err, _ := ts.group.Do(tokenKey, func() (any, error) {
		// Another caller may have refreshed while we waited.
		if tok, ok := ts.cached(); ok {
			return tok, nil
		}

		if tok, expiry, ok := ts.fromRedis(ctx); ok {
			ts.store(tok, expiry)
			return tok, nil
		}

		tok, lifetime, err := ts.exchange(ctx)
		if err != nil {
			return "", err
		}

		ts.store(tok, ts.now().Add(lifetime))
		ts.toRedis(ctx, tok, lifetime)
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (ts *TokenSource) cached() (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expiry.Add(-ts.buffer)) {
		return ts.token, true
	}
	return "", false
}

func (ts *TokenSource) store(token string, expiry time.Time) {
	ts.mu.Lock()
	ts.token = token
	ts.expiry = expiry
	ts.mu.Unlock()
}

func (ts *TokenSource) fromRedis(ctx context.Context) (string, time.Time, bool) {
	if ts.rdb == nil {
		return "", time.Time{}, false
	}

	tok, err := ts.rdb.Get(ctx, tokenKey).Result()
	if err != nil || tok == "" {
		return "", time.Time{}, false
	}

	ttl, err := ts.rdb.TTL(ctx, tokenKey).Result()
	if err != nil || ttl <= ts.buffer {
		return "", time.Time{}, false
	}

	return tok, ts.now().Add(ttl), true
}

func (ts *TokenSource) toRedis(ctx context.Context, token string, lifetime time.Duration) {
	if ts.rdb == nil {
		return
	}
	if err := ts.rdb.Set(ctx, tokenKey, token, lifetime).Err(); err != nil {
		slog.Warn("failed to store access token in redis", "error", err)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (ts *TokenSource) exchange(ctx context.Context) (string, time.Duration, error) {
	url := ts.baseURL + "/oauth/v1/generate?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	req.SetBasicAuth(ts.consumerKey, ts.consumerSecret)

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: unexpected status code: %d body=%q", ErrAuth, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("%w: failed to decode json: %v body=%q", ErrAuth, err, string(body))
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: missing access_token in response body=%q", ErrAuth, string(body))
	}

	// Daraja reports the lifetime as a string of seconds.
	secs, err := strconv.Atoi(tr.ExpiresIn)
	if err != nil || secs <= 0 {
		return "", 0, fmt.Errorf("%w: invalid expires_in %q", ErrAuth, tr.ExpiresIn)
	}

	return tr.AccessToken, time.Duration(secs) * time.Second, nil
}
