package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	timestampLayout = "20060102150405"

	// Reused tokens are discarded this long before their declared
	// expiry so a request is never signed with a token about to lapse.
	tokenExpiryMargin = 30 * time.Second
)

// AuthError is a failure to obtain an access token from the gateway.
// The client never retries token fetches internally.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("failed to get access token: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RejectionError is an application-level rejection of a push request,
// carrying the gateway's own code and message.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gateway rejected request: %s (%s)", e.Message, e.Code)
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// Client talks to the Daraja API: it exchanges the consumer key pair
// for a bearer token (cached until expiry) and submits STK push
// requests. Safe for concurrent use; overlapping token fetches are
// allowed and harmless.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time

	now func() time.Time
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
		now:  time.Now,
	}
}

type STKPushRequest struct {
	Phone            string
	Amount           float64
	AccountReference string
	TransactionDesc  string
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// AccessToken returns a cached bearer token, fetching a fresh one when
// none is held or the held one is near expiry.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	return c.fetchToken(ctx)
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
	}

	var body struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &AuthError{Err: err}
	}
	if body.AccessToken == "" {
		return "", &AuthError{Err: fmt.Errorf("access token not found in response")}
	}

	exp := c.now()
	if secs, err := body.ExpiresIn.Int64(); err == nil && secs > 0 {
		exp = exp.Add(time.Duration(secs)*time.Second - tokenExpiryMargin)
	}

	c.mu.Lock()
	c.token = body.AccessToken
	c.tokenExp = exp
	c.mu.Unlock()

	c.log.Debug("obtained access token")
	return body.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

// password derives the STK push credential for a timestamp:
// base64(shortcode + passkey + YYYYMMDDHHMMSS).
func (c *Client) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + ts))
}

// STKPush asks the gateway to prompt the customer's phone. A 401 from
// the push endpoint invalidates the cached token and triggers exactly
// one fresh fetch-and-retry.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, status, err := c.doPush(ctx, token, req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.invalidateToken()
		token, err = c.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		resp, status, err = c.doPush(ctx, token, req)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &AuthError{Err: fmt.Errorf("push endpoint rejected fresh token")}
		}
	}
	return resp, nil
}

func (c *Client) doPush(ctx context.Context, token string, req STKPushRequest) (*STKPushResponse, int, error) {
	ts := c.now().Format(timestampLayout)
	payload := map[string]any{
		"BusinessShortCode": c.cfg.Shortcode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int64(req.Amount),
		"PartyA":            req.Phone,
		"PartyB":            c.cfg.Shortcode,
		"PhoneNumber":       req.Phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.TransactionDesc,
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(buf))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("push request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, httpResp.Body)
		return nil, http.StatusUnauthorized, nil
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("push response: %w", err)
	}

	// Application-level errors carry errorCode/errorMessage regardless
	// of the transport status.
	var gwErr struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(raw, &gwErr); err == nil && gwErr.ErrorCode != "" {
		return nil, httpResp.StatusCode, &RejectionError{Code: gwErr.ErrorCode, Message: gwErr.ErrorMessage}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, httpResp.StatusCode, &RejectionError{
			Code:    fmt.Sprintf("http_%d", httpResp.StatusCode),
			Message: "payment initiation failed",
		}
	}

	var resp STKPushResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("decode push response: %w", err)
	}
	if resp.ResponseCode != "" && resp.ResponseCode != "0" {
		return nil, httpResp.StatusCode, &RejectionError{Code: resp.ResponseCode, Message: resp.ResponseDescription}
	}
	return &resp, httpResp.StatusCode, nil
}
