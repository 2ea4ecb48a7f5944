package domain

// ConversionOptions are the per-job knobs accepted on every conversion
// surface.
type ConversionOptions struct {
	ExtractTableImages bool `json:"extract_table_images"`
	ImageScale         int  `json:"image_scale"`
}

const (
	MinImageScale     = 1
	MaxImageScale     = 4
	DefaultImageScale = 4
)

// Normalize clamps the options into their valid range.
func (o *ConversionOptions) Normalize() {
	if o.ImageScale < MinImageScale || o.ImageScale > MaxImageScale {
		o.ImageScale = DefaultImageScale
	}
}

// Document is one input to the conversion pipeline.
type Document struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// ConversionResult is what a converter produces for one document. A non-empty
// Error means the converter completed without panicking but the conversion
// itself failed (a logical failure); such results never carry markdown.
type ConversionResult struct {
	Filename string `json:"filename"`
	Markdown string `json:"markdown,omitempty"`
	Pages    *int   `json:"pages,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the result encodes a logical failure.
func (r ConversionResult) Failed() bool { return r.Error != "" }

// Enrichment is the optional LLM postprocessing output attached to
// successful jobs. Absence of any field is not an error.
type Enrichment struct {
	Summary  string   `json:"summary,omitempty"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Language string   `json:"language,omitempty"`
}

// Empty reports whether no enrichment was obtained.
func (e Enrichment) Empty() bool {
	return e.Summary == "" && e.Category == "" && len(e.Tags) == 0 && e.Language == ""
}
