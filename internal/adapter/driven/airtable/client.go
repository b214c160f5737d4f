// Package airtable implements the CredentialStore port on a hosted Airtable
// table, one row per credential.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*Client)(nil)

const (
	// DefaultBaseURL is the public Airtable REST endpoint.
	DefaultBaseURL = "https://api.airtable.com"
	// DefaultTable is the table name Airtable assigns in a new base.
	DefaultTable = "Table 1"
	// DefaultRate is Airtable's published per-base limit in requests/second.
	DefaultRate = 5

	maxErrorBody = 4 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	BaseID  string
	Table   string
	Rate    float64 // Requests per second; <= 0 selects DefaultRate.

	// Hasher upgrades legacy rows that hold a plaintext "password" field.
	// Without it such rows fail to load.
	Hasher driven.PasswordHasher
	Logger *slog.Logger
}

// Client is the Airtable-backed CredentialStore. The table has no uniqueness
// constraint, so Insert checks for an existing row first; concurrent inserts
// for one email across processes are not prevented. Within a process the
// auth service's per-email lock serializes them.
type Client struct {
	http     *http.Client
	tableURL string
	apiKey   string
	limiter  *rate.Limiter
	hasher   driven.PasswordHasher
	logger   *slog.Logger
}

// NewClient creates a Client with a 10s HTTP timeout.
func NewClient(cfg Config) (*Client, error) {
	return NewClientWithHTTPClient(&http.Client{Timeout: 10 * time.Second}, cfg)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("airtable: API key is required")
	}
	if cfg.BaseID == "" {
		return nil, fmt.Errorf("airtable: base ID is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	u.Path = "/v0/" + cfg.BaseID + "/" + cfg.Table
	u.RawPath = ""

	return &Client{
		http:     httpClient,
		tableURL: u.String(),
		apiKey:   cfg.APIKey,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		hasher:   cfg.Hasher,
		logger:   cfg.Logger,
	}, nil
}

type fields struct {
	ID           string `json:"id,omitempty"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    string `json:"created_at,omitempty"`

	// Password is the plaintext column of rows written before hashing.
	// It is read for the upgrade and never written.
	Password string `json:"password,omitempty"`
}

// upgradeJSON is the PATCH body that replaces a plaintext password with its
// hash. A nil Password clears the cell.
type upgradeJSON struct {
	Records []upgradeRecord `json:"records"`
}

type upgradeRecord struct {
	ID     string        `json:"id"`
	Fields upgradeFields `json:"fields"`
}

type upgradeFields struct {
	PasswordHash string  `json:"password_hash"`
	Password     *string `json:"password"`
}

type recordJSON struct {
	ID     string `json:"id,omitempty"`
	Fields fields `json:"fields"`
}

type recordsJSON struct {
	Records []recordJSON `json:"records"`
}

type errorJSON struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// FindByEmail runs a filterByFormula query for an exact email match.
func (c *Client) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	q := url.Values{}
	q.Set("filterByFormula", "{email} = "+formulaString(email))
	q.Set("maxRecords", "1")

	var out recordsJSON
	if err := c.do(ctx, http.MethodGet, c.tableURL+"?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("find credential %q: %w", email, err)
	}
	if len(out.Records) == 0 {
		return nil, nil
	}

	rec := out.Records[0]
	f := rec.Fields
	cred := &model.Credential{
		ID:           f.ID,
		Email:        f.Email,
		PasswordHash: f.PasswordHash,
	}
	if cred.ID == "" {
		cred.ID = rec.ID
	}
	if f.CreatedAt != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for credential %q: %w", email, err)
		}
		cred.CreatedAt = createdAt
	}

	if cred.PasswordHash == "" {
		hash, err := c.upgradeLegacy(ctx, rec.ID, f)
		if err != nil {
			return nil, fmt.Errorf("upgrade credential %q: %w", email, err)
		}
		cred.PasswordHash = hash
	}

	return cred, nil
}

// upgradeLegacy hashes the plaintext password of a legacy row and rewrites
// the row with the hash. A failed rewrite is logged and retried on the next
// lookup; the returned hash is valid either way.
func (c *Client) upgradeLegacy(ctx context.Context, recordID string, f fields) (string, error) {
	if f.Password == "" {
		return "", fmt.Errorf("row %s has neither password_hash nor password", recordID)
	}
	if c.hasher == nil {
		return "", fmt.Errorf("row %s holds a plaintext password and no hasher is configured", recordID)
	}

	hash, err := c.hasher.Hash(f.Password)
	if err != nil {
		return "", fmt.Errorf("hash legacy password: %w", err)
	}

	body := upgradeJSON{Records: []upgradeRecord{{
		ID:     recordID,
		Fields: upgradeFields{PasswordHash: hash},
	}}}
	if err := c.do(ctx, http.MethodPatch, c.tableURL, body, nil); err != nil {
		c.logger.Warn("airtable legacy row not rewritten", "record", recordID, "error", err)
		return hash, nil
	}

	c.logger.Info("airtable legacy row upgraded", "record", recordID)
	return hash, nil
}

// Insert creates a row for cred unless one already exists for its email.
func (c *Client) Insert(ctx context.Context, cred model.Credential) error {
	existing, err := c.FindByEmail(ctx, cred.Email)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("insert credential %q: %w", cred.Email, driven.ErrCredentialExists)
	}

	body := recordsJSON{Records: []recordJSON{{Fields: fields{
		ID:           cred.ID,
		Email:        cred.Email,
		PasswordHash: cred.PasswordHash,
		CreatedAt:    cred.CreatedAt.UTC().Format(time.RFC3339Nano),
	}}}}

	if err := c.do(ctx, http.MethodPost, c.tableURL, body, nil); err != nil {
		return fmt.Errorf("insert credential %q: %w", cred.Email, err)
	}

	c.logger.Debug("airtable row created", "email", cred.Email)
	return nil
}

// Ping lists at most one row.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("maxRecords", "1")
	return c.do(ctx, http.MethodGet, c.tableURL+"?"+q.Encode(), nil, nil)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// do sends one request after waiting on the rate limiter. Every failure,
// including non-2xx responses, wraps driven.ErrStoreUnavailable.
func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", driven.ErrStoreUnavailable, err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", driven.ErrStoreUnavailable, method, redact(target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s: %s", driven.ErrStoreUnavailable, method, redact(target), describeError(resp))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", driven.ErrStoreUnavailable, err)
	}
	return nil
}

// describeError renders an Airtable error envelope, falling back to the status.
func describeError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var e errorJSON
	if json.Unmarshal(data, &e) == nil && e.Error.Type != "" {
		return fmt.Sprintf("status %d: %s: %s", resp.StatusCode, e.Error.Type, e.Error.Message)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}

// redact drops the query string, which carries the email being looked up.
func redact(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}

// formulaString quotes s as an Airtable formula string literal.
func formulaString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
