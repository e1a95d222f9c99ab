package model

import "time"

// Provenance describes which source supplied a merged field.
type Provenance struct {
	Source      Source    `json:"source"`
	Document    Document  `json:"document,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

func provenanceOf(v FieldValue) Provenance {
	return Provenance{Source: v.Source, Document: v.Document, ExtractedAt: v.ExtractedAt}
}
