package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client provides HTTP client functionality to communicate with the
// autopatchd daemon. The session cookie obtained by Login is held in an
// in-memory jar, so one Client carries one authenticated session.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// New creates a new autopatchd API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	// cookiejar.New with nil options never fails
	jar, _ := cookiejar.New(nil)

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
			Jar:       jar,
		},
	}
}

const sessionCookieName = "autopatch_session"

// SessionToken returns the session cookie value held by this client, or ""
// when no login happened. Callers persist it to reuse a session across
// invocations.
func (c *Client) SessionToken() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.client.Jar.Cookies(u) {
		if ck.Name == sessionCookieName {
			return ck.Value
		}
	}
	return ""
}

// SetSessionToken installs a previously saved session cookie.
func (c *Client) SetSessionToken(token string) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	c.client.Jar.SetCookies(u, []*http.Cookie{{Name: sessionCookieName, Value: token, Path: "/"}})
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Login authenticates against the daemon and stores the returned session
// cookie for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return User{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var user User
	if err := c.doDecode(req, &user); err != nil {
		return User{}, err
	}
	c.logger.Debug("Logged in", "username", user.Username)
	return user, nil
}

// Logout ends the daemon session.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/auth/logout", nil, nil)
}

// Me returns the identity behind the current session.
func (c *Client) Me(ctx context.Context) (User, error) {
	var user User
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/auth/me", nil, &user)
	return user, err
}

// StartRun asks the daemon to launch a patch run. The returned row is
// still RUNNING; poll Run for the outcome.
func (c *Client) StartRun(ctx context.Context, req RunRequest) (Run, error) {
	c.logger.Debug("Starting run", "env", req.Env, "dry_run", req.DryRun)
	var run Run
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/runs/manual", req, &run)
	return run, err
}

// Runs lists recent runs, newest first. limit and env are optional filters.
func (c *Client) Runs(ctx context.Context, limit int, env string) ([]Run, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if env != "" {
		q.Set("env", env)
	}
	u := c.baseURL + "/api/runs"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var runs []Run
	err := c.doJSON(ctx, http.MethodGet, u, nil, &runs)
	return runs, err
}

// Run fetches one run by ledger id.
func (c *Client) Run(ctx context.Context, id int64) (Run, error) {
	var run Run
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/api/runs/%d", c.baseURL, id), nil, &run)
	return run, err
}

// CreateSchedule registers a recurring run.
func (c *Client) CreateSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	var created Schedule
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/schedules", s, &created)
	return created, err
}

// Schedules lists schedules, optionally filtered by env.
func (c *Client) Schedules(ctx context.Context, env string) ([]Schedule, error) {
	u := c.baseURL + "/api/schedules"
	if env != "" {
		u += "?env=" + url.QueryEscape(env)
	}
	var items []Schedule
	err := c.doJSON(ctx, http.MethodGet, u, nil, &items)
	return items, err
}

// ToggleSchedule flips a schedule between enabled and disabled.
func (c *Client) ToggleSchedule(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("%s/api/schedules/%d/toggle", c.baseURL, id), nil, nil)
}

// Inventory fetches the target summary for an environment.
func (c *Client) Inventory(ctx context.Context, env string) (InventorySummary, error) {
	var sum InventorySummary
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/inventory/"+url.PathEscape(env), nil, &sum)
	return sum, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// doJSON performs a request with an optional JSON body and decodes the
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewBuffer(data)
	} else {
		buf = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if out == nil {
		return c.do(req)
	}
	return c.doDecode(req, out)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", req.URL.String())
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return c.handleErrorResponse(resp)
}

func (c *Client) doDecode(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", req.URL.String())
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
