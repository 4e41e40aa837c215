package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/util"
	"github.com/pysugar/tempmail-nexus/internal/version"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	// ProviderHeader tells the backend gateway which provider to forward to.
	ProviderHeader = "X-API-Provider-Base-URL"

	ContentTypeJSON       = "application/json"
	ContentTypeMergePatch = "application/merge-patch+json"

	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second

	maxErrorBody = 1 << 20
)

// AuthMode selects the credential attached to a request.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthBearer
	AuthAPIKey
)

// Request describes one logical call. The layer may issue it several times.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        any
	ContentType string
	Header      http.Header

	Provider catalog.Provider
	Auth     AuthMode
	Token    string

	// Refreshable allows one refresh-and-retry cycle on 401. Only set it for
	// calls made with the active session's token.
	Refreshable bool
	// NoRetry disables transient retries for non-idempotent exchanges.
	NoRetry bool
	// UnauthorizedKind overrides the kind reported for a terminal 401.
	UnauthorizedKind Kind
}

// Response is a successful (2xx) reply.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Attempts int
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Refresher obtains a new token for the active session. An empty token with a
// nil error means no refresh was possible.
type Refresher interface {
	RefreshIfNeeded(ctx context.Context) (string, error)
}

// APIKeySource supplies the long-lived API key, or "" when none is configured.
type APIKeySource interface {
	APIKey(ctx context.Context) string
}

// CallRecord summarizes one logical call for observers.
type CallRecord struct {
	RequestID string
	Method    string
	URL       string
	Provider  string
	Status    int
	Attempts  int
	Duration  time.Duration
	Err       error
	Timestamp time.Time
}

// Observer receives a record after every logical call.
type Observer interface {
	ObserveCall(CallRecord)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures a Client. Zero values pick the defaults; a negative
// MaxRetries disables transient retries.
type Options struct {
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	Sleep      SleepFunc
	APIKeys    APIKeySource
	Observer   Observer
	Logger     logrus.FieldLogger
	Verbose    bool
}

// Client issues calls against provider backends with retry, classification
// and a single refresh-and-retry on authentication failure.
type Client struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	sleep      SleepFunc
	apiKeys    APIKeySource
	observer   Observer
	log        logrus.FieldLogger
	verbose    bool

	mu        sync.RWMutex
	refresher Refresher
}

// NewClient creates a new upstream client
func NewClient(opts Options) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		sleep:      opts.Sleep,
		apiKeys:    opts.APIKeys,
		observer:   opts.Observer,
		log:        logging.OrDiscard(opts.Logger),
		verbose:    opts.Verbose || util.IsVerbose(),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	switch {
	case c.maxRetries == 0:
		c.maxRetries = DefaultMaxRetries
	case c.maxRetries < 0:
		c.maxRetries = 0
	}
	if c.baseDelay <= 0 {
		c.baseDelay = DefaultBaseDelay
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// SetRefresher installs the token refresher. It is set after construction
// because the refresher itself issues calls through this client.
func (c *Client) SetRefresher(r Refresher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = r
}

func (c *Client) getRefresher() Refresher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresher
}

// Do executes req. Non-2xx replies come back as *Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, requestID := logging.EnsureRequestID(ctx)
	log := c.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"provider":   req.Provider.ID,
	})
	start := time.Now()

	resp, attempts, err := c.doWithRetry(ctx, log, req, req.Token)

	if err != nil && req.Refreshable && StatusOf(err) == http.StatusUnauthorized {
		resp, err = c.refreshAndRetry(ctx, log, req, &attempts)
	} else if err != nil && StatusOf(err) == http.StatusUnauthorized && req.UnauthorizedKind != "" {
		var ue *Error
		if errors.As(err, &ue) {
			ue.Kind = req.UnauthorizedKind
		}
	}

	c.record(req, requestID, resp, attempts, time.Since(start), err)
	if err != nil {
		log.WithError(err).Debugf("❌ %s %s failed after %d attempt(s)", req.Method, req.Path, attempts)
		return nil, err
	}
	resp.Attempts = attempts
	return resp, nil
}

func (c *Client) refreshAndRetry(ctx context.Context, log logrus.FieldLogger, req Request, attempts *int) (*Response, error) {
	refresher := c.getRefresher()
	if refresher == nil {
		return nil, authExpired(nil)
	}

	log.Info("🔄 Token rejected, attempting refresh")
	token, err := refresher.RefreshIfNeeded(ctx)
	if err != nil || token == "" {
		authRefreshRetriesTotal.WithLabelValues(req.Provider.ID, "no_token").Inc()
		log.Warn("⚠️ No refreshed token available")
		return nil, authExpired(err)
	}

	resp, n, err := c.doWithRetry(ctx, log, req, token)
	*attempts += n
	if err != nil {
		authRefreshRetriesTotal.WithLabelValues(req.Provider.ID, "failed").Inc()
		if StatusOf(err) == http.StatusUnauthorized {
			return nil, authExpired(err)
		}
		return nil, err
	}
	authRefreshRetriesTotal.WithLabelValues(req.Provider.ID, "ok").Inc()
	log.Info("✅ Request succeeded after token refresh")
	return resp, nil
}

// doWithRetry runs the transient retry loop: one attempt plus up to
// maxRetries retries, waiting base*2^n before retry n.
func (c *Client) doWithRetry(ctx context.Context, log logrus.FieldLogger, req Request, token string) (*Response, int, error) {
	maxAttempts := 1 + c.maxRetries
	if req.NoRetry {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.attempt(ctx, log, req, token)
		if err == nil {
			return resp, attempt + 1, nil
		}
		lastErr = err

		var ue *Error
		if !errors.As(err, &ue) || !ue.Retryable || attempt+1 >= maxAttempts {
			return nil, attempt + 1, err
		}

		delay := backoffDelay(c.baseDelay, attempt)
		retriesTotal.WithLabelValues(req.Provider.ID).Inc()
		log.Warnf("⚠️ %s %s failed (%v), retrying in %v (%d/%d)", req.Method, req.Path, err, delay, attempt+1, c.maxRetries)
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, attempt + 1, fmt.Errorf("retry aborted: %w", serr)
		}
	}
	return nil, maxAttempts, lastErr
}

func (c *Client) attempt(ctx context.Context, log logrus.FieldLogger, req Request, token string) (*Response, error) {
	httpReq, err := c.newHTTPRequest(ctx, req, token)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request canceled: %w", ctx.Err())
		}
		return nil, networkError(err)
	}
	defer httpResp.Body.Close()

	code := strconv.Itoa(httpResp.StatusCode)
	requestsTotal.WithLabelValues(req.Provider.ID, req.Method, code).Inc()

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, networkError(err)
		}
		return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: body}, nil
	}

	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
	if c.verbose {
		log.Debugf("🔄 [VERBOSE] %s %s -> %d: %s", req.Method, req.Path, httpResp.StatusCode, util.TruncateBytes(body))
	}
	return nil, classify(httpResp.StatusCode, httpResp.Header, body)
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request, token string) (*http.Request, error) {
	base := strings.TrimRight(req.Provider.BaseURL, "/")
	target := base + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", ContentTypeJSON)
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set(ProviderHeader, base)
	if req.Body != nil {
		ct := req.ContentType
		if ct == "" {
			ct = ContentTypeJSON
		}
		httpReq.Header.Set("Content-Type", ct)
	}

	c.applyAuth(ctx, httpReq, req.Auth, token)
	return httpReq, nil
}

// applyAuth sets either the bearer token or the API key, never both.
func (c *Client) applyAuth(ctx context.Context, httpReq *http.Request, mode AuthMode, token string) {
	if mode == AuthNone {
		return
	}
	if mode == AuthBearer && token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(httpReq)
		return
	}
	if c.apiKeys == nil {
		return
	}
	if key := FormatAPIKey(c.apiKeys.APIKey(ctx)); key != "" {
		httpReq.Header.Set("Authorization", key)
	}
}

// FormatAPIKey returns the Authorization value for an API key.
func FormatAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if strings.HasPrefix(key, "Bearer ") {
		return key
	}
	return "Bearer " + key
}

func (c *Client) record(req Request, requestID string, resp *Response, attempts int, d time.Duration, err error) {
	requestDuration.WithLabelValues(req.Provider.ID).Observe(d.Seconds())
	if c.observer == nil {
		return
	}
	status := StatusOf(err)
	if resp != nil {
		status = resp.Status
	}
	c.observer.ObserveCall(CallRecord{
		RequestID: requestID,
		Method:    req.Method,
		URL:       strings.TrimRight(req.Provider.BaseURL, "/") + req.Path,
		Provider:  req.Provider.ID,
		Status:    status,
		Attempts:  attempts,
		Duration:  d,
		Err:       err,
		Timestamp: time.Now(),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
