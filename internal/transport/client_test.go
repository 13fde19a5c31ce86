package transport

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fileSchema = MustJSONSchema(`{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "display_name"],
		"properties": {"id": {"type": "integer"}, "display_name": {"type": "string"}}
	}
}`)

func TestDoSuccessWithSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id": 1, "display_name": "a.pdf"}]`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/files",
		Query:  map[string][]string{"per_page": {"1"}},
		Header: http.Header{"Authorization": {"Bearer abc"}},
		Schema: fileSchema,
	})
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", resp.Get("0.display_name").String())

	var files []struct {
		ID int `json:"id"`
	}
	require.NoError(t, resp.Decode(&files))
	assert.Equal(t, 1, files[0].ID)
}

func TestDoNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New().Do(context.Background(), Request{Method: http.MethodGet, URL: url + "/x?access_token=secret"})
	e, ok := AsExternal(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, KindNetwork, e.Kind)
	assert.NotContains(t, e.URL, "secret")
	assert.NotContains(t, e.Error(), "secret")
}

func TestDoHTTPErrorIsRedacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant", "refresh_token": "R1"}`))
	}))
	defer srv.Close()

	_, err := New().Do(context.Background(), Request{
		Method:    http.MethodPost,
		URL:       srv.URL + "/token",
		Form:      map[string][]string{"grant_type": {"refresh_token"}, "refresh_token": {"R1"}},
		BasicAuth: &BasicAuth{Username: "id", Password: "pw"},
	})
	e, ok := AsExternal(err)
	require.True(t, ok)
	assert.Equal(t, KindHTTP, e.Kind)
	assert.Equal(t, http.StatusBadRequest, e.Status)
	assert.Equal(t, "Bad Request", e.Reason)
	assert.Equal(t, http.MethodPost, e.Method)
	assert.Contains(t, e.Body, "invalid_grant")
	assert.NotContains(t, e.Body, "R1")
	assert.NotContains(t, e.RequestBody, "R1")
	assert.Contains(t, e.RequestBody, "grant_type=refresh_token")
}

func TestDoValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": "not-a-number"}]`))
	}))
	defer srv.Close()

	_, err := New().Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Schema: fileSchema})
	e, ok := AsExternal(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, e.Kind)
	assert.NotEmpty(t, e.ValidationErrors)

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv2.Close()

	_, err = New().Do(context.Background(), Request{Method: http.MethodGet, URL: srv2.URL, Schema: fileSchema})
	e, ok = AsExternal(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, e.Kind)
	assert.Contains(t, e.ValidationErrors, "$")
}

func TestDoCheckHook(t *testing.T) {
	errRejected := errors.New("rejected")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorcode": "invalidtoken"}`))
	}))
	defer srv.Close()

	_, err := New().Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    srv.URL,
		Check: func(status int, _ http.Header, body []byte) error {
			if strings.Contains(string(body), "invalidtoken") {
				return errRejected
			}
			return nil
		},
	})
	assert.ErrorIs(t, err, errRejected)
	e, _ := AsExternal(err)
	require.NotNil(t, e)
	assert.Equal(t, KindValidation, e.Kind)
}

func TestDoFollowsLinkHeader(t *testing.T) {
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/files?page=2>; rel="next", <%s/files?page=3>; rel="last"`, srv.URL, srv.URL))
			_, _ = w.Write([]byte(`[{"id": 1, "display_name": "a"}]`))
		case "2":
			w.Header().Set("Link", `</files?page=3>; rel="next"`)
			_, _ = w.Write([]byte(`[{"id": 2, "display_name": "b"}]`))
		default:
			_, _ = w.Write([]byte(`[{"id": 3, "display_name": "c"}]`))
		}
	}))
	defer srv.Close()

	resp, err := New().Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/files",
		Schema: fileSchema.Many(Pagination{}),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, int64(3), resp.Get("#").Int())
	assert.Equal(t, "c", resp.Get("2.display_name").String())
}

func TestDoStopsAtForeignNextLink(t *testing.T) {
	var foreignAuth atomic.Value
	foreignAuth.Store("")
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignAuth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id": 9, "display_name": "z"}]`))
	}))
	defer foreign.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", fmt.Sprintf(`<%s/files?page=2>; rel="next"`, foreign.URL))
		_, _ = w.Write([]byte(`[{"id": 1, "display_name": "a"}]`))
	}))
	defer srv.Close()

	resp, err := New().Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/files",
		Header: http.Header{"Authorization": {"Bearer A1"}},
		Schema: fileSchema.Many(Pagination{}),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Get("#").Int())
	assert.Equal(t, "", foreignAuth.Load(), "bearer token must not reach another origin")
}

func TestSameOrigin(t *testing.T) {
	assert.True(t, sameOrigin("https://lms.example.com/a", "https://LMS.example.com/b?page=2"))
	assert.False(t, sameOrigin("https://lms.example.com/a", "https://evil.example.com/a"))
	assert.False(t, sameOrigin("https://lms.example.com/a", "http://lms.example.com/a"))
	assert.False(t, sameOrigin("https://lms.example.com/a", "https://lms.example.com:8443/a"))
}

func TestDoPaginationLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Link", fmt.Sprintf(`</files?page=%d>; rel="next"`, n+1))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := New(WithMaxPages(4)).Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/files",
		Schema: fileSchema.Many(Pagination{}),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), hits.Load())
}

func TestDoFollowsBodyCursor(t *testing.T) {
	schema := MustJSONSchema(`{"type": "object", "required": ["Items"]}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("bookmark") == "" {
			_, _ = w.Write([]byte(`{"PagingInfo": {"Bookmark": "b1", "HasMoreItems": true}, "Items": [{"Id": 1}]}`))
			return
		}
		assert.Equal(t, "b1", r.URL.Query().Get("bookmark"))
		assert.Equal(t, "x", r.URL.Query().Get("keep"))
		_, _ = w.Write([]byte(`{"PagingInfo": {"Bookmark": "b2", "HasMoreItems": false}, "Items": [{"Id": 2}]}`))
	}))
	defer srv.Close()

	resp, err := New().Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    srv.URL,
		Query:  map[string][]string{"keep": {"x"}},
		Schema: schema.Many(Pagination{
			ItemsPath:   "Items",
			CursorPath:  "PagingInfo.Bookmark",
			CursorParam: "bookmark",
			MorePath:    "PagingInfo.HasMoreItems",
		}),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"Id": 1}, {"Id": 2}]`, string(resp.Body))
}

type outcomeResponse struct {
	XMLName xml.Name `xml:"imsx_POXEnvelopeResponse"`
	Code    string   `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_statusInfo>imsx_codeMajor"`
}

func (o *outcomeResponse) Check() ValidationErrors {
	if o.Code == "" {
		return ValidationErrors{"imsx_codeMajor": {"missing"}}
	}
	return nil
}

func TestDoXMLSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<imsx_POXEnvelopeResponse><imsx_POXHeader><imsx_POXResponseHeaderInfo><imsx_statusInfo>
<imsx_codeMajor>success</imsx_codeMajor></imsx_statusInfo></imsx_POXResponseHeaderInfo></imsx_POXHeader></imsx_POXEnvelopeResponse>`))
	}))
	defer srv.Close()

	resp, err := New().Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Schema: XMLSchema{New: func() any { return &outcomeResponse{} }},
	})
	require.NoError(t, err)
	out, ok := resp.Value.(*outcomeResponse)
	require.True(t, ok)
	assert.Equal(t, "success", out.Code)
}

func TestNextLink(t *testing.T) {
	h := http.Header{}
	h.Add("Link", `<https://lms/a?page=1>; rel="current",<https://lms/a?page=2>; rel="next"`)
	assert.Equal(t, "https://lms/a?page=2", nextLink(h))
	assert.Equal(t, "", nextLink(http.Header{}))
}
