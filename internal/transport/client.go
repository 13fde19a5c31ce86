// Package transport issues outbound HTTP requests to LMS APIs and token endpoints and
// turns their outcomes into parsed results or structured errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tendant/lti-provider/internal/metrics"
)

const (
	// DefaultTimeout bounds every outbound request.
	DefaultTimeout = 9 * time.Second

	// DefaultMaxPages bounds how many pages a paginated request fetches.
	DefaultMaxPages = 25

	maxBodySize = 10 << 20
)

// BasicAuth holds HTTP Basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Request describes one outbound call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header

	// At most one of Form and JSON is sent as the body.
	Form url.Values
	JSON any

	BasicAuth *BasicAuth

	// Schema validates 2xx bodies. Paginated schemas make the client follow next links.
	Schema Schema

	// Check inspects every response before status handling. A non-nil error fails the
	// request and is kept as the ExternalRequestError's Err.
	Check func(status int, header http.Header, body []byte) error
}

// Response is a successful outcome.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body is the raw body, or for paginated requests a JSON array of every page's items.
	Body []byte

	// Value is what the schema produced.
	Value any
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Get reads a value from the JSON body.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Client sends requests with a shared connection pool.
type Client struct {
	http     *http.Client
	maxPages int
	logger   *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http.Timeout = d
		}
	}
}

// WithMaxPages sets the pagination limit.
func WithMaxPages(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxPages = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: DefaultTimeout},
		maxPages: DefaultMaxPages,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient returns the underlying client, for libraries that issue their own requests.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do sends req and validates the response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if paged, ok := req.Schema.(Paginated); ok {
		return c.doPages(ctx, req, paged.Pagination())
	}
	return c.do(ctx, req)
}

func (c *Client) doPages(ctx context.Context, req Request, p Pagination) (*Response, error) {
	var (
		items []string
		last  *Response
	)

	for page := 0; page < c.maxPages; page++ {
		resp, err := c.do(ctx, req)
		if err != nil {
			return nil, err
		}
		last = resp

		list := gjson.ParseBytes(resp.Body)
		if p.ItemsPath != "" {
			list = list.Get(p.ItemsPath)
		}
		if !list.IsArray() {
			return nil, &ExternalRequestError{
				Kind:             KindValidation,
				Method:           req.Method,
				URL:              RedactURL(req.URL),
				Status:           resp.StatusCode,
				Body:             RedactBody(resp.Body),
				ValidationErrors: ValidationErrors{p.itemsField(): {"expected an array"}},
			}
		}
		list.ForEach(func(_, item gjson.Result) bool {
			items = append(items, item.Raw)
			return true
		})

		next, ok := nextPage(req, resp, p)
		if !ok {
			break
		}
		if !sameOrigin(req.URL, next.URL) {
			// Request headers, including the bearer token, would follow the link.
			c.logger.Warn("next page is on another origin, stopping pagination",
				"url", RedactURL(req.URL), "next", RedactURL(next.URL))
			break
		}
		if page == c.maxPages-1 {
			c.logger.Warn("pagination limit reached", "url", RedactURL(req.URL), "pages", c.maxPages)
			break
		}
		req = next
	}

	body := []byte("[" + strings.Join(items, ",") + "]")
	return &Response{
		StatusCode: last.StatusCode,
		Header:     last.Header,
		Body:       body,
		Value:      json.RawMessage(body),
	}, nil
}

func (p Pagination) itemsField() string {
	if p.ItemsPath == "" {
		return "$"
	}
	return p.ItemsPath
}

// nextPage derives the request for the page after resp, if there is one.
func nextPage(req Request, resp *Response, p Pagination) (Request, bool) {
	switch {
	case p.CursorPath != "":
		if p.MorePath != "" && !gjson.GetBytes(resp.Body, p.MorePath).Bool() {
			return req, false
		}
		cursor := gjson.GetBytes(resp.Body, p.CursorPath).String()
		if cursor == "" {
			return req, false
		}
		q := url.Values{}
		for k, v := range req.Query {
			q[k] = v
		}
		q.Set(p.CursorParam, cursor)
		req.Query = q
		return req, true

	case p.NextPath != "":
		next := gjson.GetBytes(resp.Body, p.NextPath).String()
		if next == "" {
			return req, false
		}
		return withURL(req, next)

	default:
		next := nextLink(resp.Header)
		if next == "" {
			return req, false
		}
		return withURL(req, next)
	}
}

// withURL points req at next, resolved against the current URL. Next links carry their
// own query, so the original Query is dropped.
func withURL(req Request, next string) (Request, bool) {
	base, err := url.Parse(req.URL)
	if err != nil {
		return req, false
	}
	ref, err := url.Parse(next)
	if err != nil {
		return req, false
	}
	req.URL = base.ResolveReference(ref).String()
	req.Query = nil
	return req, true
}

func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}

// nextLink returns the rel="next" target of an RFC 5988 Link header.
func nextLink(h http.Header) string {
	for _, value := range h.Values("Link") {
		for _, link := range strings.Split(value, ",") {
			segments := strings.Split(link, ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
			for _, param := range segments[1:] {
				param = strings.ReplaceAll(strings.TrimSpace(param), `"`, "")
				if strings.EqualFold(param, "rel=next") {
					return target
				}
			}
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, &ExternalRequestError{Kind: KindNetwork, Method: req.Method, URL: RedactURL(req.URL), Err: err}
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for k, vs := range req.Query {
			q[k] = vs
		}
		target.RawQuery = q.Encode()
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}

	failure := func(kind Kind) *ExternalRequestError {
		return &ExternalRequestError{
			Kind:        kind,
			Method:      req.Method,
			URL:         RedactURL(target.String()),
			RequestBody: RedactBody(body),
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordExternalRequest(target.Host, string(KindNetwork), time.Since(start))
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = RedactURL(urlErr.URL)
		}
		e := failure(KindNetwork)
		e.Err = err
		c.logger.Warn("external request failed", "method", req.Method, "url", e.URL, "error", err)
		return nil, e
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		metrics.RecordExternalRequest(target.Host, string(KindNetwork), time.Since(start))
		e := failure(KindNetwork)
		e.Err = fmt.Errorf("failed to read response body: %w", err)
		return nil, e
	}

	fail := func(kind Kind, cause error, verrs ValidationErrors) (*Response, error) {
		metrics.RecordExternalRequest(target.Host, string(kind), time.Since(start))
		e := failure(kind)
		e.Status = resp.StatusCode
		e.Reason = reason(resp)
		e.Body = RedactBody(respBody)
		e.Err = cause
		e.ValidationErrors = verrs
		c.logger.Debug("external request rejected",
			"method", req.Method, "url", e.URL, "status", e.Status, "kind", kind)
		return nil, e
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	if req.Check != nil {
		if cause := req.Check(resp.StatusCode, resp.Header, respBody); cause != nil {
			kind := KindHTTP
			if success {
				kind = KindValidation
			}
			return fail(kind, cause, nil)
		}
	}

	if !success {
		return fail(KindHTTP, nil, nil)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}
	if req.Schema != nil {
		value, verrs := req.Schema.Validate(respBody)
		if len(verrs) > 0 {
			return fail(KindValidation, nil, verrs)
		}
		out.Value = value
	}

	metrics.RecordExternalRequest(target.Host, "ok", time.Since(start))
	return out, nil
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.Form != nil:
		return []byte(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return b, "application/json", nil
	default:
		return nil, "", nil
	}
}

func reason(resp *http.Response) string {
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}
