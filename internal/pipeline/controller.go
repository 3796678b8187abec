// Package pipeline implements the Pipeline Controller: the top-level state
// machine that sequences the Playlist Resolver, Segment Scheduler,
// Integrity Validator, Assembler, and Output Sink for one job, publishing
// weighted progress and reporting a typed PipelineError on failure.
//
// Grounded on the reference pipeline orchestrator
// (internal/pipeline/core/orchestrator.go): a fixed ordered sequence run by
// one Execute loop that checks ctx.Done() between stages. The reference's
// Stage-slice abstraction is specialized here to five concrete phases
// (Resolving/Fetching/Validating/Assembling/Writing) since the stage set
// never varies by job, and its package-level execution lock generalizes
// into the job runner's global concurrency cap (internal/scheduler) rather
// than living in this package.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/hlsfetch/internal/assembler"
	"github.com/jmylchreest/hlsfetch/internal/config"
	"github.com/jmylchreest/hlsfetch/internal/models"
	"github.com/jmylchreest/hlsfetch/internal/playlist"
	"github.com/jmylchreest/hlsfetch/internal/resolver"
	"github.com/jmylchreest/hlsfetch/internal/segments"
	"github.com/jmylchreest/hlsfetch/internal/sink"
	"github.com/jmylchreest/hlsfetch/internal/validator"
)

// Weighted progress contributions, summing to 100 at Done (§4.I).
const (
	weightFetching   = 85
	weightValidating = 5
	weightAssembling = 5
	weightWriting    = 5
)

// Controller drives one job from Resolving through to a terminal state. It
// implements internal/scheduler.DownloadRunner.
type Controller struct {
	resolver  *resolver.Resolver
	scheduler *segments.Scheduler
	validator *validator.Validator
	assembler *assembler.Assembler
	sink      sink.Sink
	fetchCfg  config.FetchConfig
	registry  *CancelRegistry
}

// NewController wires the five stage components plus the fetch-phase
// tunables (stall timeout) and the cancellation registry DELETE handlers
// use to reach a running job.
func NewController(res *resolver.Resolver, sch *segments.Scheduler, val *validator.Validator, asm *assembler.Assembler, snk sink.Sink, fetchCfg config.FetchConfig, registry *CancelRegistry) *Controller {
	return &Controller{
		resolver:  res,
		scheduler: sch,
		validator: val,
		assembler: asm,
		sink:      snk,
		fetchCfg:  fetchCfg,
		registry:  registry,
	}
}

// Run sequences Resolving -> Fetching -> Validating -> Assembling ->
// Writing for job, reporting progress as it advances. A non-nil return is
// either a *PipelineError naming the failed stage and taxonomy kind, or
// the context's own cancellation error.
func (c *Controller) Run(ctx context.Context, job *models.Job, reportProgress func(phase string, percent int)) error {
	ctx, release := c.registry.Scope(ctx, job.ID.String())
	defer release()

	reportProgress("resolving", 0)
	pl, err := c.resolver.Resolve(ctx, job.SourceURL)
	if err != nil {
		return &PipelineError{Kind: models.ErrorKindNetworkPlaylist, Stage: "resolving", Err: err}
	}
	if len(pl.Segments) == 0 {
		return &PipelineError{Kind: models.ErrorKindNoSegments, Stage: "resolving", Err: fmt.Errorf("media playlist has no segments")}
	}
	job.SegmentCount = len(pl.Segments)

	fetchResult, initBytes, err := c.fetch(ctx, pl, reportProgress)
	if err != nil {
		return err
	}

	reportProgress("validating", weightFetching)
	if _, err := c.validator.CheckFetch(fetchResult, len(pl.Segments)); err != nil {
		return &PipelineError{Kind: models.ErrorKindFetchFloor, Stage: "validating", Err: err}
	}

	switch pl.FormatHint {
	case playlist.FormatFMP4:
		if err := c.validator.CheckFMP4(initBytes); err != nil {
			return &PipelineError{Kind: models.ErrorKindFormatInvalid, Stage: "validating", Err: err}
		}
	case playlist.FormatTS:
		// Sync-byte mismatches are warnings only; nothing to propagate.
		_ = c.validator.CheckTS(firstPayloadBytes(fetchResult))
	}

	reportProgress("assembling", weightFetching+weightValidating)
	outputName := job.OutputName + extensionFor(pl.FormatHint)
	if _, err := c.assembler.Assemble(ctx, job.ID.String(), initBytes, fetchResult.Payloads, outputName, c.sink); err != nil {
		if ctx.Err() != nil {
			return &PipelineError{Kind: models.ErrorKindCancelled, Stage: "assembling", Err: ctx.Err()}
		}
		return &PipelineError{Kind: models.ErrorKindSinkFailure, Stage: "assembling", Err: err}
	}

	reportProgress("writing", weightFetching+weightValidating+weightAssembling+weightWriting)
	return nil
}

// fetch runs the init and segment fetches under the fetch phase's soft
// stall-timeout ceiling, then applies the first-segment-as-init workaround
// when the playlist is FMP4 but carried no EXT-X-MAP.
func (c *Controller) fetch(ctx context.Context, pl *playlist.Playlist, reportProgress func(string, int)) (*segments.FetchResult, []byte, error) {
	fetchCtx := ctx
	if c.fetchCfg.StallTimeout > 0 {
		var cancelStall context.CancelFunc
		fetchCtx, cancelStall = context.WithTimeout(ctx, c.fetchCfg.StallTimeout)
		defer cancelStall()
	}

	var initBytes []byte
	if pl.Init != nil {
		initPayload, err := c.scheduler.FetchInit(fetchCtx, pl.Init)
		if err != nil {
			return nil, nil, c.fetchErr(ctx, fetchCtx, err, "fetching")
		}
		if initPayload != nil {
			initBytes = initPayload.Bytes
		}
	}

	result, err := c.scheduler.FetchAll(fetchCtx, pl.Segments, func(done, total int) {
		percent := 0
		if total > 0 {
			percent = done * weightFetching / total
		}
		reportProgress("fetching", percent)
	})
	if err != nil {
		return nil, nil, c.fetchErr(ctx, fetchCtx, err, "fetching")
	}

	if initBytes == nil && pl.FormatHint == playlist.FormatFMP4 &&
		len(result.Payloads) > 0 && result.Payloads[0].Index == 0 {
		synthInit, remainder := assembler.FirstSegmentAsInit(result.Payloads[0].Bytes)
		initBytes = synthInit
		result.Payloads[0].Bytes = remainder
	}

	return result, initBytes, nil
}

// fetchErr classifies a fetch-phase failure: a timeout on the derived
// fetchCtx that the caller's own ctx did not also trigger is StallTimeout;
// a failure on an already-cancelled ctx is Cancelled; anything else is a
// network failure during the fetch stage.
func (c *Controller) fetchErr(ctx, fetchCtx context.Context, err error, stage string) error {
	if ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
		return &PipelineError{Kind: models.ErrorKindStallTimeout, Stage: stage, Err: err}
	}
	if ctx.Err() != nil {
		return &PipelineError{Kind: models.ErrorKindCancelled, Stage: stage, Err: err}
	}
	return &PipelineError{Kind: models.ErrorKindNetworkPlaylist, Stage: stage, Err: err}
}

func firstPayloadBytes(result *segments.FetchResult) []byte {
	if len(result.Payloads) == 0 {
		return nil
	}
	return result.Payloads[0].Bytes
}

func extensionFor(hint playlist.FormatHint) string {
	if hint == playlist.FormatFMP4 {
		return ".mp4"
	}
	return ".ts"
}
