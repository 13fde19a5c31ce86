// Package blackboard declares the Blackboard Learn REST endpoints the tool reads.
package blackboard

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tendant/lti-provider/internal/api"
	"github.com/tendant/lti-provider/internal/transport"
)

// Learn list endpoints wrap items in "results" and link the next page in "paging.nextPage".
var listPaging = transport.Pagination{ItemsPath: "results", NextPath: "paging.nextPage"}

var (
	contentsSchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["results"],
		"properties": {
			"results": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id", "title"],
					"properties": {
						"id": {"type": "string"},
						"title": {"type": "string"},
						"modified": {"type": "string"},
						"contentHandler": {"type": "object"}
					}
				}
			}
		}
	}`).Many(listPaging)

	attachmentsSchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["results"],
		"properties": {
			"results": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id", "fileName"],
					"properties": {
						"id": {"type": "string"},
						"fileName": {"type": "string"},
						"mimeType": {"type": "string"}
					}
				}
			}
		}
	}`).Many(listPaging)

	courseSchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "string"},
			"courseId": {"type": "string"},
			"name": {"type": "string"}
		}
	}`)
)

// Course is a Learn course.
type Course struct {
	ID       string `json:"id"`
	CourseID string `json:"courseId,omitempty"`
	Name     string `json:"name"`
}

// Content is an item in a course's content tree.
type Content struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Modified       string         `json:"modified,omitempty"`
	ContentHandler map[string]any `json:"contentHandler,omitempty"`
}

// Attachment is a file attached to a content item.
type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType,omitempty"`
}

// API is the root of the Learn public REST API.
type API struct {
	root *api.Module
}

// New creates the Learn API for an LMS at lmsURL.
func New(lmsURL string, caller api.Caller) *API {
	return &API{root: api.NewRoot(lmsURL, nil, caller).Child("learn/api/public/v1")}
}

// Course returns the module for one course. id accepts Learn's "uuid:" and "courseId:" forms.
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

// Contents lists the top-level content items.
func (c *CourseModule) Contents(ctx context.Context) ([]Content, error) {
	return api.Decode[[]Content](c.OAuth2Call(ctx, http.MethodGet, "contents",
		api.WithSchema(contentsSchema), api.Retriable()))
}

// Children lists the content items inside a folder.
func (c *CourseModule) Children(ctx context.Context, contentID string) ([]Content, error) {
	return api.Decode[[]Content](c.Child("contents").Child(url.PathEscape(contentID)).OAuth2Call(ctx, http.MethodGet, "children",
		api.WithSchema(contentsSchema), api.Retriable()))
}

// Attachments lists the files attached to a content item.
func (c *CourseModule) Attachments(ctx context.Context, contentID string) ([]Attachment, error) {
	return api.Decode[[]Attachment](c.Child("contents").Child(url.PathEscape(contentID)).OAuth2Call(ctx, http.MethodGet, "attachments",
		api.WithSchema(attachmentsSchema), api.Retriable()))
}

// DownloadURL is where an attachment's bytes are served.
func (c *CourseModule) DownloadURL(contentID, attachmentID string) string {
	return c.Child("contents").Child(url.PathEscape(contentID)).
		Child("attachments").Child(url.PathEscape(attachmentID)).URL("download")
}
