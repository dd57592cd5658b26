package axreg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/baumgratzcodedev/integracao-axreg-pep/pkg/pagination"
)

// StatusError is returned for non-2xx responses other than 404 on lookups.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("axreg %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("axreg %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient.Timeout = d
		}
	}
}

// WithAuthenticator sets how requests are authenticated.
func WithAuthenticator(a Authenticator) Option {
	return func(cl *Client) { cl.auth = a }
}

// WithLocation sets the time zone for timestamps that carry no offset.
func WithLocation(loc *time.Location) Option {
	return func(cl *Client) { cl.loc = loc }
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithMaxDocumentBytes caps how much of a document body is read.
func WithMaxDocumentBytes(n int64) Option {
	return func(cl *Client) { cl.maxDocumentBytes = n }
}

// Client talks to the AXReg REST API.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	auth             Authenticator
	loc              *time.Location
	logger           zerolog.Logger
	maxDocumentBytes int64
}

// NewClient creates a Client for baseURL (e.g. "https://axreg.example/api").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		loc:    time.UTC,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListProcedures returns one page of procedures updated after updatedAfter.
// Pages start at 1.
func (c *Client) ListProcedures(ctx context.Context, updatedAfter time.Time, page, limit int) ([]Procedure, error) {
	q := pagination.New(page, limit).Values()
	q.Set("updated_after", updatedAfter.UTC().Format(time.RFC3339))

	var out procedurePage
	found, err := c.getJSON(ctx, "/procedures", q, &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &StatusError{Method: http.MethodGet, Path: "/procedures", StatusCode: http.StatusNotFound}
	}
	for i := range out.Data {
		out.Data[i].UpdatedAt.localize(c.loc)
	}
	return out.Data, nil
}

// GetPatient fetches a patient and its document descriptors. It returns
// nil, nil when AXReg answers 404.
func (c *Client) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	var p Patient
	found, err := c.getJSON(ctx, "/patients/"+strconv.FormatInt(id, 10), nil, &p)
	if err != nil || !found {
		return nil, err
	}
	for i := range p.Documents {
		p.Documents[i].CreatedAt.localize(c.loc)
	}
	return &p, nil
}

// GetDocumentBytes downloads a document file. It returns nil, nil when
// AXReg answers 404.
func (c *Client) GetDocumentBytes(ctx context.Context, id int64) ([]byte, error) {
	path := "/documents/" + strconv.FormatInt(id, 10) + "/file"
	resp, err := c.do(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(resp, path); err != nil {
		return nil, err
	}

	var body io.Reader = resp.Body
	if c.maxDocumentBytes > 0 {
		// one extra byte lets callers detect oversize payloads
		body = io.LimitReader(resp.Body, c.maxDocumentBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read document %d: %w", id, err)
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dst interface{}) (bool, error) {
	resp, err := c.do(ctx, path, q)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := checkStatus(resp, path); err != nil {
		return false, err
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		if err := c.auth.Authenticate(req); err != nil {
			return nil, fmt.Errorf("authenticate request %s: %w", path, err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("axreg GET %s: %w", path, err)
	}
	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("axreg request")
	return resp, nil
}

func checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method:     resp.Request.Method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
