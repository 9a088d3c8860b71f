// Package client talks to a node's admin API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"meshnode/pkg/api"
	"meshnode/pkg/endpoint"
	"meshnode/pkg/model"
	"meshnode/pkg/peer"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// StatusError is a non-2xx reply. It matches ErrBadRequest, ErrUnauthorized,
// ErrNotFound or ErrConflict with errors.Is according to its code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the admin API at base, e.g. "http://127.0.0.1:8989".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HTTPClient builds an HTTP client trusting caFile and presenting the
// certFile/keyFile pair when set.
func HTTPClient(caFile, certFile, keyFile string, insecure bool) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: insecure} //nolint:gosec
	if caFile != "" {
		caData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		tlsConfig.RootCAs = pool
	}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}

func (c *Client) Info(ctx context.Context) (api.Info, error) {
	var info api.Info
	err := c.do(ctx, http.MethodGet, "/api/v1/admin", nil, &info)
	return info, err
}

func (c *Client) Peers(ctx context.Context) ([]peer.Stats, error) {
	var out []peer.Stats
	err := c.do(ctx, http.MethodGet, "/api/v1/admin/peers", nil, &out)
	return out, err
}

func (c *Client) AddPeer(ctx context.Context, ep string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/peers", api.AddPeerRequest{Endpoint: ep}, nil)
}

func (c *Client) RemovePeer(ctx context.Context, ep string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/admin/peers/"+PeerPath(ep), nil, nil)
}

func (c *Client) SelectedRoutes(ctx context.Context) ([]api.Route, error) {
	var out []api.Route
	err := c.do(ctx, http.MethodGet, "/api/v1/admin/routes/selected", nil, &out)
	return out, err
}

func (c *Client) FallbackRoutes(ctx context.Context) ([]api.Route, error) {
	var out []api.Route
	err := c.do(ctx, http.MethodGet, "/api/v1/admin/routes/fallback", nil, &out)
	return out, err
}

// Audit returns up to limit recent audit entries, oldest first. limit <= 0
// uses the server default.
func (c *Client) Audit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	path := "/api/v1/admin/audit"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []model.AuditEntry
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Login exchanges credentials for a token and uses it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp api.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login",
		api.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

// PeerPath is the path segment identifying ep in a delete request. TCP
// endpoints use the bare address; other protocols are escaped in full.
// Text that does not parse is escaped as is so the server reports the
// validation error.
func PeerPath(ep string) string {
	parsed, err := endpoint.Parse(ep)
	if err == nil && parsed.Proto == endpoint.TCP {
		return parsed.Addr.String()
	}
	if err == nil {
		return url.PathEscape(parsed.String())
	}
	return url.PathEscape(strings.TrimSpace(ep))
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
