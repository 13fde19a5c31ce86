package d2l

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

func TestClassListFollowsBookmarks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/d2l/api/lp/1.31/enrollments/orgUnits/6606/users/", r.URL.Path)
		switch r.URL.Query().Get("bookmark") {
		case "":
			_, _ = w.Write([]byte(`{"PagingInfo":{"Bookmark":"b1","HasMoreItems":true},"Items":[{"User":{"Identifier":"1","DisplayName":"A"},"Role":{"Id":1,"Name":"Student"}}]}`))
		case "b1":
			_, _ = w.Write([]byte(`{"PagingInfo":{"Bookmark":"b2","HasMoreItems":false},"Items":[{"User":{"Identifier":"2","DisplayName":"B"},"Role":{"Id":2,"Name":"Instructor"}}]}`))
		default:
			t.Errorf("unexpected bookmark %q", r.URL.Query().Get("bookmark"))
		}
	}))
	defer srv.Close()

	users, err := New(srv.URL, directCaller{transport.New()}).OrgUnit("6606").ClassList(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "B", users[1].User.DisplayName)
	assert.Equal(t, "Instructor", users[1].Role.Name)
}

func TestWhoAmIAndTOC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/d2l/api/lp/1.31/users/whoami":
			_, _ = w.Write([]byte(`{"Identifier":"169","FirstName":"Ada","LastName":"L","UniqueName":"ada"}`))
		case "/d2l/api/le/1.67/6606/content/toc":
			assert.Equal(t, "true", r.URL.Query().Get("ignoreDateRestrictions"))
			_, _ = w.Write([]byte(`{"Modules":[{"ModuleId":1,"Title":"Unit 1","Modules":[],"Topics":[{"TopicId":9,"Title":"Reading","Url":"/content/a.pdf","TypeIdentifier":"File"}]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := New(srv.URL, directCaller{transport.New()})

	me, err := a.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "169", me.Identifier)

	toc, err := a.OrgUnit("6606").TableOfContents(context.Background())
	require.NoError(t, err)
	require.Len(t, toc.Modules, 1)
	assert.Equal(t, 9, toc.Modules[0].Topics[0].TopicID)

	assert.Equal(t, srv.URL+"/d2l/api/le/1.67/6606/content/topics/9/file", a.OrgUnit("6606").TopicFileURL("9"))
}
