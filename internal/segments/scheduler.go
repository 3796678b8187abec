// Package segments drives the bounded-parallel fetch of an HLS media
// playlist's init segment and numbered segments, batching requests,
// classifying failures through internal/retry, and staging a recovery pass
// for anything the primary pass could not land.
//
// The worker-pool shape (buffered jobs/results channels, a fixed pool of
// workers draining jobs, one goroutine closing jobs after enqueue, another
// closing results after the pool's WaitGroup drains) is grounded directly
// on the reference logo-cache fetch stage.
package segments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/hlsfetch/internal/httpclient"
	"github.com/jmylchreest/hlsfetch/internal/playlist"
	"github.com/jmylchreest/hlsfetch/internal/retry"
)

const (
	primaryAttempts  = 5
	recoveryAttempts = 7
	initAttempts     = 4

	largeBatchSize  = 5
	smallBatchSize  = 10
	largeBatchN     = 800
	largeDelayN     = 500
	longInterBatch  = 200 * time.Millisecond
	shortInterBatch = 100 * time.Millisecond
	cancelProbe     = 50 * time.Millisecond
	recoveryStagger = 200 * time.Millisecond

	successFloor = 0.98
)

// Payload is one fetched segment's bytes, identified by its playlist index.
type Payload struct {
	Index int
	Bytes []byte
}

// InitPayload is the fetched bytes of an EXT-X-MAP init segment.
type InitPayload struct {
	Bytes []byte
}

// FetchResult is the aggregate outcome of fetching a full segment list.
type FetchResult struct {
	// Payloads is sorted ascending by Index; this is the order the
	// assembler requires.
	Payloads []Payload

	// FailedIndices lists segments that never landed, even after the
	// recovery pass. Sorted ascending.
	FailedIndices []int

	// SuccessRate is len(Payloads) / total segments requested.
	SuccessRate float64
}

// Fetcher is the subset of httpclient.Client the scheduler depends on,
// narrowed to ease testing with a fake transport.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Scheduler fetches init and media segments for one job.
type Scheduler struct {
	client  Fetcher
	headers httpclient.StandardHeaders
}

// NewScheduler builds a Scheduler. headers are applied to every outbound
// request, matching the standard playlist/segment fetch headers.
func NewScheduler(client Fetcher, headers httpclient.StandardHeaders) *Scheduler {
	return &Scheduler{client: client, headers: headers}
}

// FetchInit retrieves the init segment, validating the fMP4 ftyp box at
// byte offset 4. A nil ref is a no-op (TS media playlists have no init).
func (s *Scheduler) FetchInit(ctx context.Context, ref *playlist.SegmentRef) (*InitPayload, error) {
	if ref == nil {
		return nil, nil
	}

	body, err := s.fetchOne(ctx, ref.URL, initAttempts)
	if err != nil {
		return nil, fmt.Errorf("fetching init segment: %w", err)
	}
	if len(body) < 8 {
		return nil, fmt.Errorf("init segment too short: %d bytes", len(body))
	}
	if string(body[4:8]) != "ftyp" {
		return nil, fmt.Errorf("init segment missing ftyp box")
	}
	return &InitPayload{Bytes: body}, nil
}

// FetchAll drives the primary batch pass followed by a recovery pass over
// anything still missing. progress, if non-nil, is called with
// (completed, total) at the same cadence the reference stage reports at:
// every 10th item or the final one.
func (s *Scheduler) FetchAll(ctx context.Context, segs []playlist.SegmentRef, progress func(done, total int)) (*FetchResult, error) {
	total := len(segs)
	if total == 0 {
		return &FetchResult{SuccessRate: 1}, nil
	}

	batchSize := smallBatchSize
	if total > largeBatchN {
		batchSize = largeBatchSize
	}
	interBatchDelay := shortInterBatch
	if total > largeDelayN {
		interBatchDelay = longInterBatch
	}

	payloads := make(map[int]Payload, total)
	var failed []int
	var doneCount int32

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}

		results := s.fetchBatch(ctx, segs[start:end], primaryAttempts)
		for _, r := range results {
			if r.err != nil {
				failed = append(failed, r.index)
			} else {
				payloads[r.index] = Payload{Index: r.index, Bytes: r.bytes}
			}
			n := atomic.AddInt32(&doneCount, 1)
			if progress != nil && (n%10 == 0 || int(n) == total) {
				progress(int(n), total)
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if end < total {
			if err := retry.SleepPolled(ctx, interBatchDelay, cancelProbe); err != nil {
				return nil, err
			}
		}
	}

	if len(failed) > 0 {
		failed = s.recoveryPass(ctx, segs, failed, payloads)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	sort.Ints(failed)
	out := make([]Payload, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return &FetchResult{
		Payloads:      out,
		FailedIndices: failed,
		SuccessRate:   float64(len(out)) / float64(total),
	}, nil
}

type segmentJob struct {
	index int
	url   string
}

type segmentResult struct {
	index int
	bytes []byte
	err   error
}

// fetchBatch runs one batch of segments through a worker pool sized to the
// batch itself, so every request in the batch issues concurrently.
func (s *Scheduler) fetchBatch(ctx context.Context, batch []playlist.SegmentRef, maxAttempts int) []segmentResult {
	jobs := make(chan segmentJob, len(batch))
	results := make(chan segmentResult, len(batch))

	var wg sync.WaitGroup
	for i := 0; i < len(batch); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					results <- segmentResult{index: job.index, err: ctx.Err()}
					continue
				}
				body, err := s.fetchOne(ctx, job.url, maxAttempts)
				results <- segmentResult{index: job.index, bytes: body, err: err}
			}
		}()
	}

	go func() {
		for _, seg := range batch {
			jobs <- segmentJob{index: seg.Index, url: seg.URL}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]segmentResult, 0, len(batch))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// recoveryPass retries every failed index with an extended attempt budget
// and a staggered per-segment start delay, to avoid a thundering herd of
// retries against an origin that is already struggling.
func (s *Scheduler) recoveryPass(ctx context.Context, segs []playlist.SegmentRef, failedIndices []int, payloads map[int]Payload) []int {
	urlByIndex := make(map[int]string, len(segs))
	for _, seg := range segs {
		urlByIndex[seg.Index] = seg.URL
	}

	sort.Ints(failedIndices)
	results := make(chan segmentResult, len(failedIndices))
	var wg sync.WaitGroup

	for i, idx := range failedIndices {
		wg.Add(1)
		go func(position, index int) {
			defer wg.Done()
			stagger := time.Duration(position) * recoveryStagger
			if err := retry.SleepPolled(ctx, stagger, cancelProbe); err != nil {
				results <- segmentResult{index: index, err: err}
				return
			}
			body, err := s.fetchOne(ctx, urlByIndex[index], recoveryAttempts)
			results <- segmentResult{index: index, bytes: body, err: err}
		}(i, idx)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var stillFailed []int
	for r := range results {
		if r.err != nil {
			stillFailed = append(stillFailed, r.index)
			continue
		}
		payloads[r.index] = Payload{Index: r.index, Bytes: r.bytes}
	}
	sort.Ints(stillFailed)
	return stillFailed
}

// fetchOne issues GET requests against url until one succeeds, maxAttempts
// is exhausted, or the error class is not retryable. It is the sole point
// where internal/retry's classification and delay tables are consulted.
func (s *Scheduler) fetchOne(ctx context.Context, url string, maxAttempts int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, status, err := s.doGet(ctx, url)

		var class retry.Class
		switch {
		case err != nil:
			class = retry.ClassifyError(err)
		case status != http.StatusOK:
			class = retry.ClassifyStatus(status)
		default:
			return body, nil
		}

		if err == nil {
			err = fmt.Errorf("unexpected status %d", status)
		}
		lastErr = err

		if !class.Retryable() {
			return nil, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if werr := retry.InterruptibleSleep(ctx, retry.Delay(class, attempt)); werr != nil {
			return nil, werr
		}
	}
	return nil, lastErr
}

func (s *Scheduler) doGet(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	s.headers.Apply(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// SuccessFloor is the minimum acceptable delivered/total ratio, shared with
// the integrity validator so both components agree on the threshold.
const SuccessFloor = successFloor
