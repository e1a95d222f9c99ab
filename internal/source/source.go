// Package source contains one adapter per external company data source.
// Every adapter turns a CompanyIdentifier into a PartialRecord plus the raw
// documents it was read from.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sells-group/registry-crawler/internal/fetcher"
	"github.com/sells-group/registry-crawler/internal/model"
)

// Adapter fetches one company from one source.
type Adapter interface {
	Name() model.Source
	Fetch(ctx context.Context, id model.CompanyIdentifier) (*Result, error)
}

// Result is what an adapter returns on success. Artifacts always holds every
// key the adapter declares; a nil entry means the document was not obtained.
type Result struct {
	Partial   *model.PartialRecord
	Artifacts map[string]*string
}

// artifactNames lists the raw documents each source exposes.
var artifactNames = map[model.Source][]string{
	model.SourceHandelsregister:      {"pdf", "xml"},
	model.SourceNorthdata:            {"html"},
	model.SourceLinkedIn:             {"about_html"},
	model.SourceUnternehmensregister: {"search_results_html", "jahresabschluss_html"},
}

// ArtifactNames returns the artifact keys of src.
func ArtifactNames(src model.Source) []string {
	return append([]string(nil), artifactNames[src]...)
}

// EmptyArtifacts returns every artifact key of src mapped to nil.
func EmptyArtifacts(src model.Source) map[string]*string {
	out := make(map[string]*string, len(artifactNames[src]))
	for _, name := range artifactNames[src] {
		out[name] = nil
	}
	return out
}

// NewResult returns an empty result for src.
func NewResult(src model.Source, id model.CompanyIdentifier) *Result {
	return &Result{
		Partial:   model.NewPartialRecord(src, id),
		Artifacts: EmptyArtifacts(src),
	}
}

// SetArtifact stores content under name. Empty content is left nil.
func (r *Result) SetArtifact(name, content string) {
	if content == "" {
		return
	}
	r.Artifacts[name] = &content
}

// Kind classifies adapter failures.
type Kind string

// Failure kinds.
const (
	KindNotFound               Kind = "not_found"
	KindAuthenticationRequired Kind = "authentication_required"
	KindTimeout                Kind = "timeout"
	KindParseFailure           Kind = "parse_failure"
	KindTransportError         Kind = "transport_error"
)

// FetchError is the only error type adapters return.
type FetchError struct {
	Source model.Source
	Kind   Kind
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fail builds a FetchError.
func Fail(src model.Source, kind Kind, err error) *FetchError {
	return &FetchError{Source: src, Kind: kind, Err: err}
}

// KindOf returns the kind of a FetchError anywhere in err's chain, or
// KindTransportError for anything else.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransportError
}

// IsKind reports whether err is a FetchError of kind.
func IsKind(err error, kind Kind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// Degradable reports whether a failure still yields an empty contribution
// rather than an error outcome.
func Degradable(err error) bool {
	return IsKind(err, KindNotFound) || IsKind(err, KindParseFailure)
}

// classify wraps a fetcher error from src. Errors that already are
// FetchErrors pass through.
func classify(src model.Source, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Fail(src, KindTimeout, err)
	}
	var se *fetcher.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return Fail(src, KindNotFound, err)
		case http.StatusUnauthorized:
			return Fail(src, KindAuthenticationRequired, err)
		}
	}
	return Fail(src, KindTransportError, err)
}
