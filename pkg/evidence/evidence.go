// Package evidence defines the normalized evidence envelope the credential
// generator consumes. Scanner-specific formats are normalized by external
// adapters; this package only validates the envelope shape and enumerated
// values, hiding input heterogeneity behind the provenance descriptor.
package evidence

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/poerr"
)

// ControlStatus enumerates the outcome of testing one control.
type ControlStatus string

const (
	StatusEffective   ControlStatus = "effective"
	StatusIneffective ControlStatus = "ineffective"
	StatusNotTested   ControlStatus = "not-tested"
)

// Control is one normalized control test result.
type Control struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Framework string        `json:"framework"`
	Status    ControlStatus `json:"status"`
	Notes     string        `json:"notes,omitempty"`
}

// Provenance describes who produced the evidence.
type Provenance struct {
	Source         did.ProvenanceSource `json:"source"`
	SourceIdentity string               `json:"sourceIdentity,omitempty"`
	SourceDate     *time.Time           `json:"sourceDate,omitempty"`
	SourceDocument string               `json:"sourceDocument,omitempty"`
}

// Document describes the evidence artifact the controls came from.
type Document struct {
	Title      string     `json:"title"`
	Type       string     `json:"type,omitempty"`
	Date       *time.Time `json:"date,omitempty"`
	Provenance Provenance `json:"provenance"`
}

// Normalized is the envelope handed to the credential generator.
type Normalized struct {
	Document Document  `json:"document"`
	Scope    string    `json:"scope"`
	Controls []Control `json:"controls"`
	// Assurance is the declared assurance level (0-4).
	Assurance int `json:"assurance"`
}

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("evidence.json", schemaJSON)
	})
	return schema, schemaErr
}

// Validate checks the envelope against the JSON schema plus the enumerated
// invariants the schema cannot express. All failures are input-class.
func Validate(n *Normalized) error {
	if n == nil {
		return poerr.New(poerr.ClassInput, "evidence envelope is nil")
	}
	if len(n.Controls) == 0 {
		return poerr.New(poerr.ClassInput, "evidence has no controls")
	}
	if n.Document.Title == "" {
		return poerr.New(poerr.ClassInput, "evidence document title required")
	}

	switch n.Document.Provenance.Source {
	case did.SourceSelf, did.SourceTool, did.SourceAuditor:
	default:
		return poerr.Newf(poerr.ClassInput, "unknown provenance source %q", n.Document.Provenance.Source)
	}

	if n.Assurance < 0 || n.Assurance > 4 {
		return poerr.Newf(poerr.ClassInput, "assurance level %d outside [0,4]", n.Assurance)
	}

	for i, c := range n.Controls {
		switch c.Status {
		case StatusEffective, StatusIneffective, StatusNotTested:
		default:
			return poerr.Newf(poerr.ClassInput, "control %d: unknown status %q", i, c.Status)
		}
		if c.ID == "" {
			return poerr.Newf(poerr.ClassInput, "control %d: id required", i)
		}
		if c.Framework == "" {
			return poerr.Newf(poerr.ClassInput, "control %d: framework required", i)
		}
	}

	s, err := compiledSchema()
	if err != nil {
		return poerr.Wrap(poerr.ClassInternal, "evidence schema compile", err)
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return poerr.Wrap(poerr.ClassInput, "evidence marshal", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return poerr.Wrap(poerr.ClassInput, "evidence decode", err)
	}
	if err := s.Validate(generic); err != nil {
		return poerr.Wrap(poerr.ClassInput, fmt.Sprintf("evidence schema: %v", err), err)
	}
	return nil
}
