// Package lockerapi is the JSON-over-HTTP client for the reservation
// service.
//
// Methods return the HTTP status alongside any error. A non-nil error means
// the call never produced a usable response (transport failure, timeout,
// undecodable body) and the status is 0 in that case. Interpreting 2xx/4xx
// statuses is left to the caller.
package lockerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/lockerbench/internal/failure"
)

// Endpoint labels used in outcomes and reports.
const (
	EndpointHealth  = "GET /health"
	EndpointLogin   = "POST /auth/login"
	EndpointList    = "GET /lockers"
	EndpointHold    = "POST /lockers/{id}/hold"
	EndpointConfirm = "POST /lockers/{id}/confirm"
	EndpointRelease = "POST /lockers/{id}/release"
	EndpointMine    = "GET /lockers/me"
)

const (
	// apiPrefix is appended to the configured base URL.
	apiPrefix = "/api/v1"

	tcpDialTimeout        = 5 * time.Second
	tcpKeepAliveInterval  = 30 * time.Second
	tlsHandshakeTimeout   = 5 * time.Second
	idleConnTimeout       = 90 * time.Second
	expectContinueTimeout = 1 * time.Second
)

// Options configures a Client.
type Options struct {
	// MaxConnections bounds concurrent connections to the service.
	MaxConnections int

	// RequestTimeout bounds each call, connection through body.
	RequestTimeout time.Duration
}

// Client calls the reservation service.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

// New creates a client for the service rooted at baseURL.
func New(baseURL string, opts Options) *Client {
	conns := opts.MaxConnections
	if conns <= 0 {
		conns = 100
	}

	transport := &http.Transport{
		MaxIdleConns:        conns,
		MaxIdleConnsPerHost: conns,
		MaxConnsPerHost:     conns,
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   tcpDialTimeout,
			KeepAlive: tcpKeepAliveInterval,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: opts.RequestTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
	}

	return &Client{
		base:    strings.TrimRight(baseURL, "/") + apiPrefix,
		http:    &http.Client{Transport: transport},
		timeout: opts.RequestTimeout,
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Login is the authentication request body.
type Login struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone_number"`
}

// Tokens is a successful login response.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Locker is a resource as the service reports it. Owner may be missing,
// null or empty when unowned.
type Locker struct {
	ID         int     `json:"locker_id"`
	LocationID int     `json:"location_id"`
	Owner      *string `json:"owner"`
}

// Unowned reports whether no actor owns the locker.
func (l Locker) Unowned() bool {
	return l.Owner == nil || *l.Owner == ""
}

// OwnerString returns the owner or "" when unowned.
func (l Locker) OwnerString() string {
	if l.Owner == nil {
		return ""
	}
	return *l.Owner
}

// Health calls the health endpoint.
func (c *Client) Health(ctx context.Context) (int, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/health", "", nil)
	return status, err
}

// Login authenticates and returns tokens on 200.
func (c *Client) Login(ctx context.Context, req Login) (Tokens, int, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/auth/login", "", req)
	if err != nil || status != http.StatusOK {
		return Tokens{}, status, err
	}
	var t Tokens
	if err := json.Unmarshal(body, &t); err != nil {
		return Tokens{}, 0, decodeError(EndpointLogin, err)
	}
	return t, status, nil
}

// ListLockers returns every locker on 200. Both a bare array and a
// {"lockers": [...]} object are accepted.
func (c *Client) ListLockers(ctx context.Context, token string) ([]Locker, int, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/lockers", token, nil)
	if err != nil || status != http.StatusOK {
		return nil, status, err
	}
	lockers, err := decodeLockers(body)
	if err != nil {
		return nil, 0, decodeError(EndpointList, err)
	}
	return lockers, status, nil
}

// Hold places a hold on a locker.
func (c *Client) Hold(ctx context.Context, token string, id int) (int, error) {
	status, _, err := c.do(ctx, http.MethodPost, "/lockers/"+strconv.Itoa(id)+"/hold", token, nil)
	return status, err
}

// Confirm converts the caller's hold into ownership.
func (c *Client) Confirm(ctx context.Context, token string, id int) (int, error) {
	status, _, err := c.do(ctx, http.MethodPost, "/lockers/"+strconv.Itoa(id)+"/confirm", token, nil)
	return status, err
}

// Release drops the caller's hold.
func (c *Client) Release(ctx context.Context, token string, id int) (int, error) {
	status, _, err := c.do(ctx, http.MethodPost, "/lockers/"+strconv.Itoa(id)+"/release", token, nil)
	return status, err
}

// MyLocker returns the caller's locker on 200, or nil when the caller owns
// none.
func (c *Client) MyLocker(ctx context.Context, token string) (*Locker, int, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/lockers/me", token, nil)
	if err != nil || status != http.StatusOK {
		return nil, status, err
	}
	var resp struct {
		Locker *Locker `json:"locker"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, decodeError(EndpointMine, err)
	}
	return resp.Locker, status, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any) (int, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, nil, failure.New(failure.KindRequestFailed, method+" "+path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, failure.New(failure.KindRequestFailed, method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, failure.New(failure.KindRequestFailed, method+" "+path, fmt.Errorf("read body: %w", err))
	}
	return resp.StatusCode, data, nil
}

func decodeLockers(body []byte) ([]Locker, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var lockers []Locker
		if err := json.Unmarshal(trimmed, &lockers); err != nil {
			return nil, err
		}
		return lockers, nil
	}
	var wrapped struct {
		Lockers []Locker `json:"lockers"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Lockers, nil
}

func decodeError(endpoint string, err error) error {
	return failure.New(failure.KindRequestFailed, endpoint, fmt.Errorf("decode response: %w", err))
}
