// Package d2l declares the D2L Brightspace Valence endpoints the tool reads.
package d2l

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tendant/lti-provider/internal/api"
	"github.com/tendant/lti-provider/internal/transport"
)

// API versions of the Learning Platform and Learning Environment products.
const (
	LPVersion = "1.31"
	LEVersion = "1.67"
)

var (
	whoAmISchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["Identifier"],
		"properties": {
			"Identifier": {"type": "string"},
			"FirstName": {"type": "string"},
			"LastName": {"type": "string"},
			"UniqueName": {"type": "string"}
		}
	}`)

	tocSchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["Modules"],
		"properties": {"Modules": {"type": "array"}}
	}`)

	// Paged result sets carry a bookmark that is sent back to fetch the next page.
	classListSchema = transport.MustJSONSchema(`{
		"type": "object",
		"required": ["PagingInfo", "Items"],
		"properties": {
			"PagingInfo": {
				"type": "object",
				"required": ["HasMoreItems"],
				"properties": {
					"Bookmark": {"type": "string"},
					"HasMoreItems": {"type": "boolean"}
				}
			},
			"Items": {"type": "array"}
		}
	}`).Many(transport.Pagination{
		ItemsPath:   "Items",
		CursorPath:  "PagingInfo.Bookmark",
		CursorParam: "bookmark",
		MorePath:    "PagingInfo.HasMoreItems",
	})

	groupCategoriesSchema = transport.MustJSONSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["GroupCategoryId", "Name"],
			"properties": {
				"GroupCategoryId": {"type": "integer"},
				"Name": {"type": "string"}
			}
		}
	}`)
)

// WhoAmI is the authenticated user.
type WhoAmI struct {
	Identifier string `json:"Identifier"`
	FirstName  string `json:"FirstName,omitempty"`
	LastName   string `json:"LastName,omitempty"`
	UniqueName string `json:"UniqueName,omitempty"`
}

// TOC is a course's table of contents.
type TOC struct {
	Modules []Module `json:"Modules"`
}

// Module is a content module with nested modules and topics.
type Module struct {
	ModuleID int      `json:"ModuleId"`
	Title    string   `json:"Title"`
	Modules  []Module `json:"Modules"`
	Topics   []Topic  `json:"Topics"`
}

// Topic is a content item.
type Topic struct {
	TopicID        int    `json:"TopicId"`
	Title          string `json:"Title"`
	URL            string `json:"Url"`
	TypeIdentifier string `json:"TypeIdentifier"`
}

// ClassListUser is an enrolled user.
type ClassListUser struct {
	User struct {
		Identifier  string `json:"Identifier"`
		DisplayName string `json:"DisplayName"`
	} `json:"User"`
	Role struct {
		ID   int    `json:"Id"`
		Name string `json:"Name"`
	} `json:"Role"`
}

// GroupCategory is a set of groups in an org unit.
type GroupCategory struct {
	GroupCategoryID int    `json:"GroupCategoryId"`
	Name            string `json:"Name"`
}

// API is the root of the Valence API (/d2l/api).
type API struct {
	lp *api.Module
	le *api.Module
}

// New creates the Valence API for an LMS at lmsURL.
func New(lmsURL string, caller api.Caller) *API {
	root := api.NewRoot(lmsURL, nil, caller).Child("d2l/api")
	return &API{
		lp: root.Child("lp").Child(LPVersion),
		le: root.Child("le").Child(LEVersion),
	}
}

// WhoAmI returns the user the token belongs to.
func (a *API) WhoAmI(ctx context.Context) (*WhoAmI, error) {
	return api.Decode[*WhoAmI](a.lp.Child("users").OAuth2Call(ctx, http.MethodGet, "whoami",
		api.WithSchema(whoAmISchema), api.Retriable()))
}

// OrgUnit returns the endpoints of one org unit (course offering).
func (a *API) OrgUnit(id string) *OrgUnit {
	id = url.PathEscape(id)
	return &OrgUnit{
		id: id,
		lp: a.lp,
		le: a.le.Child(id),
	}
}

// OrgUnit holds endpoints scoped to one org unit.
type OrgUnit struct {
	id string
	lp *api.Module
	le *api.Module
}

// TableOfContents fetches the content tree.
func (o *OrgUnit) TableOfContents(ctx context.Context) (*TOC, error) {
	return api.Decode[*TOC](o.le.Child("content").OAuth2Call(ctx, http.MethodGet, "toc",
		api.WithQuery(url.Values{"ignoreDateRestrictions": {"true"}}),
		api.WithSchema(tocSchema), api.Retriable()))
}

// TopicFileURL is where a file topic's bytes are served.
func (o *OrgUnit) TopicFileURL(topicID string) string {
	return o.le.Child("content").Child("topics").Child(url.PathEscape(topicID)).URL("file")
}

// ClassList lists every enrolled user, following bookmarks.
func (o *OrgUnit) ClassList(ctx context.Context) ([]ClassListUser, error) {
	return api.Decode[[]ClassListUser](o.lp.Child("enrollments").Child("orgUnits").Child(o.id).OAuth2Call(ctx, http.MethodGet, "users/",
		api.WithSchema(classListSchema), api.Retriable()))
}

// GroupCategories lists the group categories of the org unit.
func (o *OrgUnit) GroupCategories(ctx context.Context) ([]GroupCategory, error) {
	return api.Decode[[]GroupCategory](o.lp.Child(o.id).OAuth2Call(ctx, http.MethodGet, "groupcategories/",
		api.WithSchema(groupCategoriesSchema), api.Retriable()))
}
