// Package resolver turns one user-supplied playlist URL into a playable
// media playlist, descending through a master playlist's variants when
// necessary and recovering a missing initialization segment by probing
// sibling variants.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jmylchreest/hlsfetch/internal/httpclient"
	"github.com/jmylchreest/hlsfetch/internal/playlist"
	"github.com/jmylchreest/hlsfetch/internal/urlutil"
)

// maxInitProbeVariants bounds how many additional variants are probed, in
// descending bandwidth order, to recover a missing EXT-X-MAP.
const maxInitProbeVariants = 4

// Fetcher is the subset of httpclient.Client the resolver depends on,
// shared with the segment scheduler so both consult the same client
// instance (and therefore the same circuit breaker) for a given origin.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// ResolveError reports a failure to produce a playable media playlist.
type ResolveError struct {
	Reason string
	Err    error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return "resolver: " + e.Reason + ": " + e.Err.Error()
	}
	return "resolver: " + e.Reason
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Resolver fetches and parses playlists, descending master playlists to
// their highest-bandwidth variant.
type Resolver struct {
	client  Fetcher
	headers httpclient.StandardHeaders
	parser  *playlist.Parser
}

// New builds a Resolver. client and headers should be the same instances
// the segment scheduler uses, so playlist fetches and segment fetches
// share circuit-breaker state for the origin.
func New(client Fetcher, headers httpclient.StandardHeaders) *Resolver {
	return &Resolver{
		client:  client,
		headers: headers,
		parser:  playlist.NewParser(),
	}
}

// Resolve fetches rawURL and returns a playable media Playlist. If rawURL
// names a master playlist, the highest-bandwidth variant is chosen and
// resolved; if that media playlist lacks an init segment and its
// format_hint is not TS, up to four further variants are probed in
// descending bandwidth order to recover one.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*playlist.Playlist, error) {
	if urlutil.IsByteRangeURL(rawURL) {
		return nil, &ResolveError{Reason: "byte-range URLs are not supported"}
	}

	pl, err := r.fetchAndParse(ctx, rawURL)
	if err != nil {
		return nil, &ResolveError{Reason: "fetching initial playlist", Err: err}
	}

	if !pl.IsMaster {
		return pl, nil
	}

	if len(pl.Variants) == 0 {
		return nil, &ResolveError{Reason: "master playlist has no variants"}
	}

	media, err := r.fetchAndParse(ctx, pl.Variants[0].URL)
	if err != nil {
		return nil, &ResolveError{Reason: "fetching chosen variant", Err: err}
	}

	if media.Init == nil && media.FormatHint != playlist.FormatTS {
		r.recoverInit(ctx, pl.Variants, media)
	}

	return media, nil
}

// recoverInit probes up to maxInitProbeVariants further variants, in the
// descending-bandwidth order the parser already produced, reusing the
// first init segment found. Probe failures are tolerated; if none of the
// probed variants yield an init, media.Init remains nil and the caller
// (the pipeline controller, via the first-segment-as-init workaround) must
// cope without one.
func (r *Resolver) recoverInit(ctx context.Context, variants []playlist.Variant, media *playlist.Playlist) {
	limit := maxInitProbeVariants
	if len(variants)-1 < limit {
		limit = len(variants) - 1
	}

	for i := 1; i <= limit; i++ {
		if ctx.Err() != nil {
			return
		}
		candidate, err := r.fetchAndParse(ctx, variants[i].URL)
		if err != nil || candidate.Init == nil {
			continue
		}
		media.Init = candidate.Init
		return
	}
}

func (r *Resolver) fetchAndParse(ctx context.Context, url string) (*playlist.Playlist, error) {
	body, err := r.fetchBody(ctx, url)
	if err != nil {
		return nil, err
	}
	return r.parser.Parse(body, url)
}

func (r *Resolver) fetchBody(ctx context.Context, url string) (io.Reader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	r.headers.Apply(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	return bytes.NewReader(data), nil
}
