package transport

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema validates a 2xx response body. A non-empty ValidationErrors means the body was
// rejected; otherwise the returned value is the parsed result.
type Schema interface {
	Validate(body []byte) (any, ValidationErrors)
}

// Pagination describes how a paginated endpoint links to its next page.
type Pagination struct {
	// ItemsPath selects the result array in each page (gjson syntax). Empty means the
	// page body is the array.
	ItemsPath string

	// NextPath selects an absolute or relative next-page URL from the body. When empty,
	// the RFC 5988 Link header with rel="next" is followed.
	NextPath string

	// CursorPath selects an opaque cursor that is sent back as the CursorParam query
	// parameter. MorePath, when set, must select true for another page to be fetched.
	CursorPath  string
	CursorParam string
	MorePath    string
}

// Paginated is implemented by schemas whose responses span several pages.
type Paginated interface {
	Schema
	Pagination() Pagination
}

// JSONSchema validates bodies against a JSON Schema document.
type JSONSchema struct {
	schema *gojsonschema.Schema
}

// NewJSONSchema compiles a JSON Schema document.
func NewJSONSchema(doc string) (*JSONSchema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON Schema: %w", err)
	}
	return &JSONSchema{schema: schema}, nil
}

// MustJSONSchema is like NewJSONSchema but panics on an invalid document. It is meant for
// package-level schema declarations.
func MustJSONSchema(doc string) *JSONSchema {
	s, err := NewJSONSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate returns the body as json.RawMessage when it conforms.
func (s *JSONSchema) Validate(body []byte) (any, ValidationErrors) {
	errs := ValidationErrors{}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		errs.Add("$", "body is not valid JSON")
		return nil, errs
	}
	for _, e := range result.Errors() {
		errs.Add(e.Field(), e.Description())
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return json.RawMessage(body), nil
}

// Many returns a schema that validates every page with s and follows p between pages.
func (s *JSONSchema) Many(p Pagination) Paginated {
	return &pagedSchema{Schema: s, pages: p}
}

type pagedSchema struct {
	Schema
	pages Pagination
}

func (p *pagedSchema) Pagination() Pagination {
	return p.pages
}

// Checker is implemented by decoded XML values that validate their own fields.
type Checker interface {
	Check() ValidationErrors
}

// XMLSchema decodes XML bodies into a fresh value from New.
type XMLSchema struct {
	New func() any
}

// Validate decodes the body. Decoded values implementing Checker are checked too.
func (s XMLSchema) Validate(body []byte) (any, ValidationErrors) {
	v := s.New()
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return nil, ValidationErrors{"$": {"body is not valid XML: " + err.Error()}}
	}
	if c, ok := v.(Checker); ok {
		if errs := c.Check(); len(errs) > 0 {
			return nil, errs
		}
	}
	return v, nil
}
