package hub

import (
	"encoding/json"
	"time"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/errors"
)

// MessageTypeStatus tags every payload pushed to viewers.
const MessageTypeStatus = "build_status"

// Payload is the JSON document pushed to viewers for one BuildResult.
type Payload struct {
	Type               string                `json:"type"`
	Status             build.BuildStatus     `json:"status"`
	Timestamp          time.Time             `json:"timestamp"`
	ArtifactSizeBytes  *int64                `json:"artifact_size_bytes,omitempty"`
	ErrorSummary       string                `json:"error_summary,omitempty"`
	FullDiagnosticText string                `json:"full_diagnostic_text,omitempty"`
	Message            string                `json:"message,omitempty"`
	Seq                uint64                `json:"seq"`
	Source             build.Source          `json:"source,omitempty"`
	StartedAt          *time.Time            `json:"started_at,omitempty"`
	DurationMs         int64                 `json:"duration_ms"`
	Locations          []*errors.ParsedError `json:"locations,omitempty"`
}

// NewPayload converts a result into its wire form. Success-only and
// failure-only fields are left out for the other statuses.
func NewPayload(result build.BuildResult) Payload {
	p := Payload{
		Type:       MessageTypeStatus,
		Status:     result.Status,
		Timestamp:  result.FinishedAt,
		Seq:        result.Seq,
		Source:     result.Source,
		DurationMs: result.Duration().Milliseconds(),
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	if !result.StartedAt.IsZero() {
		started := result.StartedAt
		p.StartedAt = &started
	}

	switch result.Status {
	case build.StatusSuccess:
		size := result.ArtifactSizeBytes
		p.ArtifactSizeBytes = &size
	case build.StatusFailure:
		p.ErrorSummary = result.ErrorSummary
		p.FullDiagnosticText = result.Diagnostic
		p.Locations = result.Locations
	default:
		p.Message = "not yet built"
	}
	return p
}

// Encode marshals the payload.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
