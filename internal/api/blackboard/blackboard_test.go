package blackboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/lti-provider/internal/oauth2client"
	"github.com/tendant/lti-provider/internal/transport"
)

type directCaller struct {
	client *transport.Client
}

func (c directCaller) Do(ctx context.Context, req transport.Request, _ oauth2client.CallOptions) (*transport.Response, error) {
	return c.client.Do(ctx, req)
}

func TestContentsFollowsNextPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/learn/api/public/v1/courses/uuid:abc/contents", r.URL.Path)
		if r.URL.Query().Get("offset") == "" {
			_, _ = w.Write([]byte(`{"results":[{"id":"_1_1","title":"Folder"}],"paging":{"nextPage":"/learn/api/public/v1/courses/uuid:abc/contents?offset=1"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"_2_1","title":"Syllabus"}]}`))
	}))
	defer srv.Close()

	contents, err := New(srv.URL, directCaller{transport.New()}).Course("uuid:abc").Contents(context.Background())
	require.NoError(t, err)
	require.Len(t, contents, 2)
	assert.Equal(t, "Syllabus", contents[1].Title)
}

func TestAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/learn/api/public/v1/courses/uuid:abc/contents/_2_1/attachments", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":[{"id":"_9_1","fileName":"syllabus.pdf","mimeType":"application/pdf"}]}`))
	}))
	defer srv.Close()

	course := New(srv.URL, directCaller{transport.New()}).Course("uuid:abc")
	attachments, err := course.Attachments(context.Background(), "_2_1")
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "syllabus.pdf", attachments[0].FileName)

	assert.Equal(t,
		srv.URL+"/learn/api/public/v1/courses/uuid:abc/contents/_2_1/attachments/_9_1/download",
		course.DownloadURL("_2_1", "_9_1"))
}
