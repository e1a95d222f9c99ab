package model

import "github.com/rotisserie/eris"

// Source identifies one external collaborator the crawler reads from.
type Source string

// Known sources.
const (
	SourceHandelsregister      Source = "handelsregister"
	SourceNorthdata            Source = "northdata"
	SourceUnternehmensregister Source = "unternehmensregister"
	SourceLinkedIn             Source = "linkedin"
)

// Sources lists every known source in default priority order.
var Sources = []Source{
	SourceHandelsregister,
	SourceNorthdata,
	SourceUnternehmensregister,
	SourceLinkedIn,
}

// ParseSource converts a configuration or wire name into a Source.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", eris.Errorf("unknown source %q", s)
}

// Document distinguishes the documents a single source may extract from.
// The registry portal supplies a structured XML and a free-text PDF; both
// share one priority slot with XML ranked first.
type Document string

// Document kinds.
const (
	DocumentNone Document = ""
	DocumentXML  Document = "xml"
	DocumentPDF  Document = "pdf"
	DocumentHTML Document = "html"
)

// rank orders documents inside one source. Lower wins.
func (d Document) rank() int {
	switch d {
	case DocumentXML:
		return 0
	case DocumentHTML:
		return 1
	case DocumentPDF:
		return 2
	default:
		return 3
	}
}

// Outranks reports whether d takes precedence over other within one source.
func (d Document) Outranks(other Document) bool {
	return d.rank() < other.rank()
}
