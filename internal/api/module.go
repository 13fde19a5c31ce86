// Package api composes LMS REST endpoints as a tree of modules. Each module owns one path
// segment; vendor packages declare their endpoints on top of it.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/oauth2client"
	"github.com/tendant/lti-provider/internal/transport"
)

// Caller sends requests with the user's OAuth2 bearer. *oauth2client.Scope implements it.
type Caller interface {
	Do(ctx context.Context, req transport.Request, opts oauth2client.CallOptions) (*transport.Response, error)
}

// Module is one node in the endpoint tree. The parent link is one-way; a module never
// references its children.
type Module struct {
	parent   *Module
	pathPart string

	// Set on the root only.
	baseURL string
	client  *transport.Client
	caller  Caller
}

// NewRoot creates the root module at baseURL. client serves anonymous calls and caller
// serves OAuth2 calls; either may be nil when the API does not use it.
func NewRoot(baseURL string, client *transport.Client, caller Caller) *Module {
	return &Module{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		caller:  caller,
	}
}

// Child returns a module one segment below m.
func (m *Module) Child(pathPart string) *Module {
	return &Module{parent: m, pathPart: strings.Trim(pathPart, "/")}
}

// Path joins the path parts from the root down to m.
func (m *Module) Path() string {
	var parts []string
	for n := m; n != nil; n = n.parent {
		if n.pathPart != "" {
			parts = append(parts, n.pathPart)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// URL returns the absolute URL of suffix below m. A trailing slash on suffix is kept.
func (m *Module) URL(suffix string) string {
	path := m.Path()
	if suffix = strings.TrimLeft(suffix, "/"); suffix != "" {
		if path != "" {
			path += "/"
		}
		path += suffix
	}
	if path == "" {
		return m.root().baseURL
	}
	return m.root().baseURL + "/" + path
}

func (m *Module) root() *Module {
	n := m
	for n.parent != nil {
		n = n.parent
	}
	return n
}

type callConfig struct {
	req       transport.Request
	retriable bool
}

// CallOption qualifies a call.
type CallOption func(*callConfig)

// Retriable marks the call as safe to replay once after a token refresh.
func Retriable() CallOption {
	return func(c *callConfig) {
		c.retriable = true
	}
}

// WithQuery adds query parameters.
func WithQuery(q url.Values) CallOption {
	return func(c *callConfig) {
		c.req.Query = q
	}
}

// WithForm sends a form body.
func WithForm(f url.Values) CallOption {
	return func(c *callConfig) {
		c.req.Form = f
	}
}

// WithJSON sends v as a JSON body.
func WithJSON(v any) CallOption {
	return func(c *callConfig) {
		c.req.JSON = v
	}
}

// WithHeader adds a request header.
func WithHeader(key, value string) CallOption {
	return func(c *callConfig) {
		if c.req.Header == nil {
			c.req.Header = http.Header{}
		}
		c.req.Header.Add(key, value)
	}
}

// WithSchema validates the response body.
func WithSchema(s transport.Schema) CallOption {
	return func(c *callConfig) {
		c.req.Schema = s
	}
}

// WithCheck inspects raw responses before status handling.
func WithCheck(check func(status int, header http.Header, body []byte) error) CallOption {
	return func(c *callConfig) {
		c.req.Check = check
	}
}

func (m *Module) build(method, suffix string, opts []CallOption) *callConfig {
	c := &callConfig{req: transport.Request{Method: method, URL: m.URL(suffix)}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends an anonymous request to suffix below m.
func (m *Module) Call(ctx context.Context, method, suffix string, opts ...CallOption) (*transport.Response, error) {
	client := m.root().client
	if client == nil {
		return nil, fmt.Errorf("api: %s has no anonymous client", m.URL(""))
	}
	c := m.build(method, suffix, opts)
	resp, err := client.Do(ctx, c.req)
	if err != nil {
		return nil, translate(err)
	}
	return resp, nil
}

// OAuth2Call sends a request to suffix below m with the user's bearer token.
func (m *Module) OAuth2Call(ctx context.Context, method, suffix string, opts ...CallOption) (*transport.Response, error) {
	caller := m.root().caller
	if caller == nil {
		return nil, fmt.Errorf("api: %s has no OAuth2 scope", m.URL(""))
	}
	c := m.build(method, suffix, opts)
	return caller.Do(ctx, c.req, oauth2client.CallOptions{Retriable: c.retriable})
}

// Decode unmarshals the JSON body of a successful call into T.
func Decode[T any](resp *transport.Response, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("api: failed to decode response: %w", err)
	}
	return out, nil
}

// translate maps classified rejections of anonymous calls onto error codes.
func translate(err error) error {
	switch {
	case errors.Is(err, oauth2client.ErrPermissionDenied):
		return ltierrors.Permission("the LMS denied access to this resource", err)
	case errors.Is(err, oauth2client.ErrTokenRejected):
		return ltierrors.Wrap(err, ltierrors.CodeForbidden, "the LMS rejected the tool's API credentials")
	default:
		return err
	}
}
