// Package broker provides the broker authentication handshake and session
// management for live order placement.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimeout = 15 * time.Second

// finKeyHeader is required by the broker API on every authenticated call.
const finKeyHeader = "neotradeapi"

// Session holds the credentials of an authenticated broker session.
type Session struct {
	Token   string
	SID     string
	BaseURL string
}

// SessionProvider is the authentication collaborator consumed by the live
// order gateway. Re-authentication is the provider's responsibility; the
// trading engine only reads sessions.
type SessionProvider interface {
	Authenticate(ctx context.Context) (*Session, error)
	Session() *Session
	IsAuthenticated() bool
}

// APIError represents a broker API error with status code and body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error %d: %s", e.Status, e.Body)
}

// Credentials holds the inputs to the two-step login handshake.
type Credentials struct {
	AccessToken string
	Mobile      string
	UCC         string
	MPIN        string
	TOTPSecret  string
}

// Client implements SessionProvider against the broker's two-step login API:
// a TOTP login yielding a view token, then an MPIN validation that upgrades
// it to a trading session with its own base URL.
type Client struct {
	mu          sync.RWMutex
	client      *http.Client
	logger      *logrus.Logger
	creds       Credentials
	loginURL    string
	validateURL string
	session     *Session
}

// NewClient creates a broker auth client.
func NewClient(creds Credentials, loginURL, validateURL string, logger *logrus.Logger) *Client {
	return &Client{
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      logger,
		creds:       creds,
		loginURL:    loginURL,
		validateURL: validateURL,
	}
}

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

var _ SessionProvider = (*Client)(nil)

type loginResponse struct {
	Data struct {
		Token   string `json:"token"`
		SID     string `json:"sid"`
		BaseURL string `json:"baseUrl"`
	} `json:"data"`
	Message string `json:"message"`
}

// Authenticate performs the full handshake and caches the resulting session.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	totp, err := generateTOTP(c.creds.TOTPSecret, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generating TOTP: %w", err)
	}

	c.logger.Info("authenticating with broker: TOTP login")
	view, err := c.post(ctx, c.loginURL, map[string]string{
		"mobileNumber": c.creds.Mobile,
		"ucc":          c.creds.UCC,
		"totp":         totp,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("TOTP login failed: %w", err)
	}
	if view.Data.Token == "" || view.Data.SID == "" {
		return nil, fmt.Errorf("TOTP login returned no view token: %s", view.Message)
	}

	c.logger.Info("authenticating with broker: MPIN validation")
	trade, err := c.post(ctx, c.validateURL, map[string]string{
		"mpin": c.creds.MPIN,
	}, map[string]string{
		"sid":  view.Data.SID,
		"Auth": view.Data.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("MPIN validation failed: %w", err)
	}
	if trade.Data.Token == "" || trade.Data.BaseURL == "" {
		return nil, fmt.Errorf("MPIN validation returned incomplete session: %s", trade.Message)
	}

	session := &Session{
		Token:   trade.Data.Token,
		SID:     trade.Data.SID,
		BaseURL: trade.Data.BaseURL,
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.logger.WithField("base_url", session.BaseURL).Info("broker session established")
	return session, nil
}

// Session returns the cached session, or nil before authentication.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// IsAuthenticated reports whether a complete session is cached.
func (c *Client) IsAuthenticated() bool {
	s := c.Session()
	return s != nil && s.Token != "" && s.SID != "" && s.BaseURL != ""
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]string, extraHeaders map[string]string) (*loginResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.creds.AccessToken)
	req.Header.Set("neo-fin-key", finKeyHeader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.WithError(cerr).Warn("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		b, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if rerr != nil {
			return nil, &APIError{Status: resp.StatusCode, Body: "failed to read error body"}
		}
		return nil, &APIError{Status: resp.StatusCode, Body: string(b)}
	}

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}
	return &decoded, nil
}
