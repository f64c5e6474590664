package tool

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"sigs.k8s.io/yaml"
)

type FieldKind string

const (
	FieldKindText   FieldKind = "text"
	FieldKindSecret FieldKind = "secret"
)

var ErrToolNotFound = errors.New("tool not found")

// Field is a named parameter sent to the backend as a multipart text field.
type Field struct {
	ID          string    `json:"id" validate:"required,excludesall=/"`
	Placeholder string    `json:"placeholder"`
	Kind        FieldKind `json:"kind" validate:"required,oneof=text secret"`
	Required    bool      `json:"required"`
}

// Descriptor is the static definition of a backend operation. ID doubles as the
// backend route segment.
type Descriptor struct {
	ID       string   `json:"id" validate:"required,excludesall=/"`
	Label    string   `json:"label" validate:"required"`
	Multiple bool     `json:"multiple"`
	Accept   []string `json:"accept" validate:"dive,required,contains=/"`
	Fields   []Field  `json:"fields" validate:"dive"`
}

// Accepts reports whether a MIME type passes the descriptor's filter.
// Entries are either exact types or "type/*" wildcards; an empty filter accepts everything.
func (d Descriptor) Accepts(mimeType string) bool {
	if len(d.Accept) == 0 {
		return true
	}
	mimeType = normalize(mimeType)
	if mimeType == "" {
		return false
	}
	for _, a := range d.Accept {
		a = normalize(a)
		if a == mimeType {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mimeType, prefix+"/") {
			return true
		}
	}
	return false
}

// UploadField is the multipart field name carrying the files.
func (d Descriptor) UploadField() string {
	if d.Multiple {
		return "files"
	}
	return "file"
}

func (d Descriptor) Field(id string) (Field, bool) {
	for _, f := range d.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func (d Descriptor) RequiredFields() []Field {
	var out []Field
	for _, f := range d.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// normalize drops MIME parameters such as "; charset=binary".
func normalize(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}

const pdf = "application/pdf"

// Builtin returns the descriptors the backend ships with.
func Builtin() []Descriptor {
	return []Descriptor{
		{
			ID:       "merge",
			Label:    "Merge PDF",
			Multiple: true,
			Accept:   []string{pdf},
		},
		{
			ID:     "split",
			Label:  "Split PDF",
			Accept: []string{pdf},
			Fields: []Field{
				{ID: "ranges", Placeholder: "Page ranges, e.g. 1-3,5", Kind: FieldKindText, Required: true},
			},
		},
		{
			ID:     "compress",
			Label:  "Compress PDF",
			Accept: []string{pdf},
			Fields: []Field{
				{ID: "level", Placeholder: "low, medium or high", Kind: FieldKindText},
			},
		},
		{
			ID:       "convert",
			Label:    "Images to PDF",
			Multiple: true,
			Accept:   []string{"image/png", "image/jpeg"},
		},
		{
			ID:     "protect",
			Label:  "Protect PDF",
			Accept: []string{pdf},
			Fields: []Field{
				{ID: "password", Placeholder: "Password", Kind: FieldKindSecret, Required: true},
			},
		},
		{
			ID:     "watermark",
			Label:  "Watermark PDF",
			Accept: []string{pdf},
			Fields: []Field{
				{ID: "text", Placeholder: "Watermark text", Kind: FieldKindText, Required: true},
			},
		},
	}
}

// Registry is the immutable, ordered set of tools known to a session.
type Registry struct {
	order []string
	tools map[string]Descriptor
}

// NewRegistry validates the descriptors and rejects duplicate ids.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	v := validator.New()
	r := &Registry{tools: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := v.Struct(d); err != nil {
			return nil, fmt.Errorf("invalid tool %q: %w", d.ID, err)
		}
		if _, found := r.tools[d.ID]; found {
			return nil, fmt.Errorf("duplicate tool id %q", d.ID)
		}
		seen := map[string]struct{}{}
		for _, f := range d.Fields {
			if _, found := seen[f.ID]; found {
				return nil, fmt.Errorf("tool %q: duplicate field id %q", d.ID, f.ID)
			}
			seen[f.ID] = struct{}{}
		}
		r.tools[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	return r, nil
}

func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic(fmt.Errorf("internal error: %w", err))
	}
	return r
}

func (r *Registry) Get(id string) (Descriptor, error) {
	d, ok := r.tools[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	return d, nil
}

func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tools[id])
	}
	return out
}

type catalog struct {
	Tools []Descriptor `json:"tools"`
}

// LoadCatalog builds a registry from the builtin tools plus the ones declared in
// a YAML catalog file. A catalog may not redefine a builtin tool.
func LoadCatalog(filename string) (*Registry, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading tool catalog: %w", err)
	}
	var c catalog
	if err := yaml.UnmarshalStrict(contents, &c); err != nil {
		return nil, fmt.Errorf("decoding tool catalog: %w", err)
	}
	return NewRegistry(append(Builtin(), c.Tools...)...)
}
