// Package playlist tokenizes HLS M3U8 documents into a Playlist, classifying
// master vs. media documents and extracting variants or segment references.
package playlist

import "errors"

// FormatHint names the container format implied by a media playlist's
// segment URIs.
type FormatHint string

const (
	FormatTS      FormatHint = "TS"
	FormatFMP4    FormatHint = "FMP4"
	FormatUnknown FormatHint = "UNKNOWN"
)

// Errors returned by Parse.
var (
	ErrEmptyInput    = errors.New("playlist: input is empty")
	ErrNoSegments    = errors.New("playlist: media playlist has no segments")
	ErrNoVariants    = errors.New("playlist: master playlist has no variants")
)

// ParseError wraps a parse failure with the stage that produced it, in the
// style of the reference pipeline's StageError.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "playlist: " + e.Reason + ": " + e.Err.Error()
	}
	return "playlist: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Variant is one rendition listed in a master playlist.
type Variant struct {
	URL        string
	Bandwidth  int
	Width      int
	Height     int
}

// SegmentRef is one media segment's absolute URL and its ordinal index
// within the media playlist. Index is the identity used throughout the
// fetch/validate/assemble pipeline.
type SegmentRef struct {
	Index int
	URL   string
}

// Playlist is the semantic result of parsing one M3U8 document. Exactly one
// of IsMaster's corresponding fields is meaningful: Variants for a master
// playlist, Segments/Init/FormatHint for a media playlist.
type Playlist struct {
	IsMaster bool

	// Variants is populated, ordered descending by Bandwidth with equal
	// bandwidths kept in source order, when IsMaster is true.
	Variants []Variant

	// Segments, Init, and FormatHint are populated when IsMaster is false.
	Segments   []SegmentRef
	Init       *SegmentRef
	FormatHint FormatHint
}
