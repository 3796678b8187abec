package handlers

import (
	"time"

	"github.com/jmylchreest/hlsfetch/internal/models"
)

// JobResponse is the wire shape returned by the job endpoints.
type JobResponse struct {
	ID           models.ULID     `json:"id"`
	SourceURL    string          `json:"source_url"`
	OutputName   string          `json:"output_name"`
	Status       models.JobStatus `json:"status"`
	Phase        string          `json:"phase,omitempty"`
	Percent      int             `json:"percent"`
	SegmentCount int             `json:"segment_count,omitempty"`
	ErrorKind    models.ErrorKind `json:"error_kind,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// JobFromModel converts a persisted job into its wire representation.
func JobFromModel(j *models.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID,
		SourceURL:    j.SourceURL,
		OutputName:   j.OutputName,
		Status:       j.Status,
		Phase:        j.Phase,
		Percent:      j.Percent,
		SegmentCount: j.SegmentCount,
		ErrorKind:    j.ErrorKind,
		LastError:    j.LastError,
		AttemptCount: j.AttemptCount,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		resp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}
