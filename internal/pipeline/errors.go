package pipeline

import (
	"fmt"

	"github.com/jmylchreest/hlsfetch/internal/models"
)

// PipelineError carries the taxonomy kind surfaced to callers (component
// K's executor classifies it back into a models.ErrorKind for the
// persisted job row), generalizing the reference orchestrator's
// StageError{StageID, StageName, Err} into one type that also satisfies
// the job executor's errorKinder interface.
type PipelineError struct {
	Kind  models.ErrorKind
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline[%s]: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("pipeline[%s]: %s", e.Stage, e.Kind)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ErrorKind satisfies the executor's errorKinder interface.
func (e *PipelineError) ErrorKind() models.ErrorKind { return e.Kind }
