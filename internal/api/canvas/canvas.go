// Package canvas declares the Canvas LMS REST endpoints the tool reads.
package canvas

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tendant/lti-provider/internal/api"
	"github.com/tendant/lti-provider/internal/transport"
)

const perPage = "100"

var (
	courseSchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "integer"},
			"name": {"type": "string"},
			"course_code": {"type": "string"}
		}
	}`)

	filesSchema = transport.MustJSONSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "display_name", "updated_at"],
			"properties": {
				"id": {"type": "integer"},
				"display_name": {"type": "string"},
				"updated_at": {"type": "string"},
				"size": {"type": "integer"},
				"folder_id": {"type": ["integer", "null"]}
			}
		}
	}`).Many(transport.Pagination{})

	sectionsSchema = transport.MustJSONSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "name"],
			"properties": {
				"id": {"type": "integer"},
				"name": {"type": "string"},
				"course_id": {"type": "integer"}
			}
		}
	}`).Many(transport.Pagination{})

	pagesSchema = transport.MustJSONSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["page_id", "url", "title"],
			"properties": {
				"page_id": {"type": "integer"},
				"url": {"type": "string"},
				"title": {"type": "string"}
			}
		}
	}`).Many(transport.Pagination{})

	pageSchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["page_id", "title", "body"],
		"properties": {
			"page_id": {"type": "integer"},
			"title": {"type": "string"},
			"body": {"type": ["string", "null"]}
		}
	}`)

	publicURLSchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["public_url"],
		"properties": {"public_url": {"type": "string", "minLength": 1}}
	}`)
)

// Course is a Canvas course.
type Course struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code,omitempty"`
}

// File is a file stored in a course.
type File struct {
	ID          int    `json:"id"`
	DisplayName string `json:"display_name"`
	UpdatedAt   string `json:"updated_at"`
	Size        int    `json:"size,omitempty"`
	FolderID    *int   `json:"folder_id,omitempty"`
}

// Section is a course section.
type Section struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	CourseID int    `json:"course_id,omitempty"`
}

// Page is a course wiki page. Body is only present when a single page is fetched.
type Page struct {
	ID        int    `json:"page_id"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Body      string `json:"body,omitempty"`
}

// API is the root of the Canvas REST API (/api/v1).
type API struct {
	root *api.Module
}

// New creates the Canvas API for an LMS at lmsURL. caller attaches the user's token.
func New(lmsURL string, caller api.Caller) *API {
	return &API{root: api.NewRoot(lmsURL, nil, caller).Child("api/v1")}
}

// Course returns the module for one course.
func (a *API) Course(id string) *CourseModule {
	return &CourseModule{a.root.Child("courses").Child(url.PathEscape(id))}
}

// CourseModule holds the endpoints below /courses/:id.
type CourseModule struct {
	*api.Module
}

// Get fetches the course.
func (c *CourseModule) Get(ctx context.Context) (*Course, error) {
	return api.Decode[*Course](c.OAuth2Call(ctx, http.MethodGet, "",
		api.WithSchema(courseSchema), api.Retriable()))
}

// Files lists every file in the course.
func (c *CourseModule) Files(ctx context.Context) ([]File, error) {
	return api.Decode[[]File](c.OAuth2Call(ctx, http.MethodGet, "files",
		api.WithQuery(url.Values{"per_page": {perPage}, "sort": {"position"}}),
		api.WithSchema(filesSchema),
		api.Retriable(),
	))
}

// Sections lists the course sections.
func (c *CourseModule) Sections(ctx context.Context) ([]Section, error) {
	return api.Decode[[]Section](c.OAuth2Call(ctx, http.MethodGet, "sections",
		api.WithQuery(url.Values{"per_page": {perPage}}),
		api.WithSchema(sectionsSchema),
		api.Retriable(),
	))
}

// Pages lists the published pages of the course.
func (c *CourseModule) Pages(ctx context.Context) ([]Page, error) {
	return api.Decode[[]Page](c.OAuth2Call(ctx, http.MethodGet, "pages",
		api.WithQuery(url.Values{"per_page": {perPage}, "published": {"true"}}),
		api.WithSchema(pagesSchema),
		api.Retriable(),
	))
}

// Page fetches one page including its body.
func (c *CourseModule) Page(ctx context.Context, id string) (*Page, error) {
	return api.Decode[*Page](c.Child("pages").OAuth2Call(ctx, http.MethodGet, url.PathEscape(id),
		api.WithSchema(pageSchema), api.Retriable()))
}

// PublicURL returns a short-lived download URL for a file.
func (a *API) PublicURL(ctx context.Context, fileID string) (string, error) {
	out, err := api.Decode[struct {
		PublicURL string `json:"public_url"`
	}](a.root.Child("files").Child(url.PathEscape(fileID)).OAuth2Call(ctx, http.MethodGet, "public_url",
		api.WithSchema(publicURLSchema), api.Retriable()))
	if err != nil {
		return "", err
	}
	return out.PublicURL, nil
}
