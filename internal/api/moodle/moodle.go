// Package moodle calls Moodle web service functions. Moodle authenticates the tool with a
// per-tenant web service token instead of a user's OAuth2 token.
package moodle

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tendant/lti-provider/internal/api"
	"github.com/tendant/lti-provider/internal/oauth2client"
	"github.com/tendant/lti-provider/internal/transport"
)

var (
	siteInfoSchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["sitename", "release"],
		"properties": {
			"sitename": {"type": "string"},
			"release": {"type": "string"},
			"userid": {"type": "integer"}
		}
	}`)

	contentsSchema = transport.MustJSONSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "name", "modules"],
			"properties": {
				"id": {"type": "integer"},
				"name": {"type": "string"},
				"modules": {"type": "array"}
			}
		}
	}`)

	groupsSchema = transport.MustJSONSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "name"],
			"properties": {
				"id": {"type": "integer"},
				"name": {"type": "string"}
			}
		}
	}`)
)

// SiteInfo describes the Moodle site.
type SiteInfo struct {
	SiteName string `json:"sitename"`
	Release  string `json:"release"`
	UserID   int    `json:"userid,omitempty"`
}

// Section is a course section and its activities.
type Section struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Modules []struct {
		ID       int    `json:"id"`
		Name     string `json:"name"`
		ModName  string `json:"modname"`
		URL      string `json:"url,omitempty"`
		Contents []struct {
			Type     string `json:"type"`
			Filename string `json:"filename"`
			FileURL  string `json:"fileurl"`
		} `json:"contents,omitempty"`
	} `json:"modules"`
}

// Group is a course group.
type Group struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// API calls web service functions with the tenant's token.
type API struct {
	server *api.Module
	token  string
}

// New creates the Moodle API for an LMS at lmsURL.
func New(lmsURL, token string, client *transport.Client) *API {
	return &API{
		server: api.NewRoot(lmsURL, client, nil).Child("webservice/rest"),
		token:  token,
	}
}

// call invokes a web service function. Moodle reports failures as 200 responses with an
// errorcode, which the vendor classifier turns into errors.
func (a *API) call(ctx context.Context, function string, params url.Values, schema transport.Schema) (*transport.Response, error) {
	form := url.Values{
		"wstoken":            {a.token},
		"wsfunction":         {function},
		"moodlewsrestformat": {"json"},
	}
	for k, v := range params {
		form[k] = v
	}
	return a.server.Call(ctx, http.MethodPost, "server.php",
		api.WithForm(form),
		api.WithSchema(schema),
		api.WithCheck(oauth2client.Moodle.Check),
	)
}

// SiteInfo returns information about the site and the token's user.
func (a *API) SiteInfo(ctx context.Context) (*SiteInfo, error) {
	return api.Decode[*SiteInfo](a.call(ctx, "core_webservice_get_site_info", nil, siteInfoSchema))
}

// CourseContents lists the sections and activities of a course.
func (a *API) CourseContents(ctx context.Context, courseID int) ([]Section, error) {
	return api.Decode[[]Section](a.call(ctx, "core_course_get_contents",
		url.Values{"courseid": {strconv.Itoa(courseID)}}, contentsSchema))
}

// CourseGroups lists the groups of a course.
func (a *API) CourseGroups(ctx context.Context, courseID int) ([]Group, error) {
	return api.Decode[[]Group](a.call(ctx, "core_group_get_course_groups",
		url.Values{"courseid": {strconv.Itoa(courseID)}}, groupsSchema))
}
