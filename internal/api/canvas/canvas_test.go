package canvas

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/lti-provider/internal/oauth2client"
	"github.com/tendant/lti-provider/internal/transport"
)

// bearerCaller attaches a fixed token and records call options.
type bearerCaller struct {
	client    *transport.Client
	retriable []bool
}

func (c *bearerCaller) Do(ctx context.Context, req transport.Request, opts oauth2client.CallOptions) (*transport.Response, error) {
	c.retriable = append(c.retriable, opts.Retriable)
	req.Header = http.Header{"Authorization": {"Bearer T"}}
	return c.client.Do(ctx, req)
}

func newTestAPI(t *testing.T, handler http.HandlerFunc) (*API, *bearerCaller) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	caller := &bearerCaller{client: transport.New()}
	return New(srv.URL, caller), caller
}

func TestFilesFollowsLinkHeader(t *testing.T) {
	var srvURL string
	a, caller := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		srvURL = "http://" + r.Host
		require.Equal(t, "/api/v1/courses/7/files", r.URL.Path)
		require.Equal(t, "Bearer T", r.Header.Get("Authorization"))

		switch r.URL.Query().Get("page") {
		case "":
			assert.Equal(t, "100", r.URL.Query().Get("per_page"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses/7/files?page=2&per_page=100>; rel="next"`, srvURL))
			_, _ = w.Write([]byte(`[{"id":1,"display_name":"a.pdf","updated_at":"2026-01-01T00:00:00Z"}]`))
		case "2":
			_, _ = w.Write([]byte(`[{"id":2,"display_name":"b.pdf","updated_at":"2026-01-02T00:00:00Z","folder_id":null}]`))
		}
	})

	files, err := a.Course("7").Files(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.pdf", files[0].DisplayName)
	assert.Equal(t, 2, files[1].ID)
	assert.Equal(t, []bool{true}, caller.retriable)
}

func TestFilesRejectsMalformedItems(t *testing.T) {
	a, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"one"}]`))
	})

	_, err := a.Course("7").Files(context.Background())
	ext, ok := transport.AsExternal(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, transport.KindValidation, ext.Kind)
}

func TestPageAndPublicURL(t *testing.T) {
	a, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses/7/pages/intro%20page", "/api/v1/courses/7/pages/intro page":
			_, _ = w.Write([]byte(`{"page_id":3,"title":"Intro","body":"<p>hi</p>"}`))
		case "/api/v1/files/9/public_url":
			_, _ = w.Write([]byte(`{"public_url":"https://files.example.com/9"}`))
		default:
			http.NotFound(w, r)
		}
	})

	page, err := a.Course("7").Page(context.Background(), "intro page")
	require.NoError(t, err)
	assert.Equal(t, "Intro", page.Title)
	assert.Equal(t, "<p>hi</p>", page.Body)

	u, err := a.PublicURL(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/9", u)
}

func TestSections(t *testing.T) {
	a, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/courses/7/sections", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1,"name":"Section A","course_id":7}]`))
	})

	sections, err := a.Course("7").Sections(context.Background())
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Section A", sections[0].Name)
}
