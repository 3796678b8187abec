package playlist

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jmylchreest/hlsfetch/internal/urlutil"
)

// Regular expressions for extracting EXT-X-STREAM-INF and EXT-X-MAP
// attributes, matched case-insensitively against the tag payload.
var (
	streamInfTag   = regexp.MustCompile(`(?i)^#EXT-X-STREAM-INF:`)
	bandwidthAttr  = regexp.MustCompile(`(?i)BANDWIDTH=(\d+)`)
	resolutionAttr = regexp.MustCompile(`(?i)RESOLUTION=(\d+)x(\d+)`)
	mapTag         = regexp.MustCompile(`(?i)^#EXT-X-MAP:`)
	mapURIAttr     = regexp.MustCompile(`(?i)URI="?([^",]+)"?`)
	urlLikeToken   = regexp.MustCompile(`(https?://[^\s"']+|\.?/[^\s"']+)`)
)

// Parser tokenizes an M3U8 document into a Playlist. It carries no mutable
// state between calls and is safe for concurrent reuse.
type Parser struct{}

// NewParser creates a playlist parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads an M3U8 document from r and resolves relative URIs against
// baseURL.
func (p *Parser) Parse(r io.Reader, baseURL string) (*Playlist, error) {
	scanner := bufio.NewScanner(r)
	const maxLineSize = 1024 * 1024
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	var (
		lines    []string
		sawInput bool
	)
	for scanner.Scan() {
		sawInput = true
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Reason: "scanning playlist", Err: err}
	}
	if !sawInput || len(lines) == 0 {
		return nil, &ParseError{Reason: "empty input", Err: ErrEmptyInput}
	}

	if p.isMaster(lines) {
		return p.parseMaster(lines, baseURL)
	}
	return p.parseMedia(lines, baseURL)
}

func (p *Parser) isMaster(lines []string) bool {
	for _, line := range lines {
		if streamInfTag.MatchString(line) {
			return true
		}
	}
	return false
}

func (p *Parser) parseMaster(lines []string, baseURL string) (*Playlist, error) {
	var variants []Variant

	for i := 0; i < len(lines); i++ {
		if !streamInfTag.MatchString(lines[i]) {
			continue
		}

		variant := p.parseStreamInf(lines[i])

		// Pair with the next non-tag line.
		for j := i + 1; j < len(lines); j++ {
			if strings.HasPrefix(lines[j], "#") {
				continue
			}
			variant.URL = urlutil.JoinSegmentURL(baseURL, urlutil.Canonicalize(lines[j]))
			i = j
			break
		}

		if variant.URL != "" {
			variants = append(variants, variant)
		}
	}

	if len(variants) == 0 {
		return nil, &ParseError{Reason: "master playlist has no variants", Err: ErrNoVariants}
	}

	// Stable sort descending by bandwidth, preserving source order on ties.
	sort.SliceStable(variants, func(a, b int) bool {
		return variants[a].Bandwidth > variants[b].Bandwidth
	})

	return &Playlist{IsMaster: true, Variants: variants}, nil
}

func (p *Parser) parseStreamInf(line string) Variant {
	var v Variant

	if m := bandwidthAttr.FindStringSubmatch(line); m != nil {
		v.Bandwidth, _ = strconv.Atoi(m[1])
	}
	if m := resolutionAttr.FindStringSubmatch(line); m != nil {
		v.Width, _ = strconv.Atoi(m[1])
		v.Height, _ = strconv.Atoi(m[2])
	}

	return v
}

func (p *Parser) parseMedia(lines []string, baseURL string) (*Playlist, error) {
	var (
		segments []SegmentRef
		init     *SegmentRef
	)

	for _, line := range lines {
		if mapTag.MatchString(line) {
			if uri := p.extractMapURI(line); uri != "" {
				resolved := urlutil.JoinSegmentURL(baseURL, urlutil.Canonicalize(uri))
				init = &SegmentRef{Index: -1, URL: resolved}
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		segments = append(segments, SegmentRef{
			Index: len(segments),
			URL:   urlutil.JoinSegmentURL(baseURL, urlutil.Canonicalize(line)),
		})
	}

	if len(segments) == 0 {
		return nil, &ParseError{Reason: "media playlist has no segments", Err: ErrNoSegments}
	}

	return &Playlist{
		IsMaster:   false,
		Segments:   segments,
		Init:       init,
		FormatHint: classifyFormat(segments),
	}, nil
}

// extractMapURI extracts the URI attribute of an EXT-X-MAP tag, trying
// three fallbacks in order: a URI="..." attribute, the first URL-like
// token after the colon, or any URL-like token on the line.
func (p *Parser) extractMapURI(line string) string {
	if m := mapURIAttr.FindStringSubmatch(line); m != nil {
		return decodeOnce(m[1])
	}

	if idx := strings.Index(line, ":"); idx >= 0 {
		if m := urlLikeToken.FindString(line[idx+1:]); m != "" {
			return decodeOnce(m)
		}
	}

	if m := urlLikeToken.FindString(line); m != "" {
		return decodeOnce(m)
	}

	return ""
}

func decodeOnce(s string) string {
	return urlutil.Canonicalize(s)
}

// classifyFormat inspects segment URL paths: any ".ts" suffix implies TS;
// any ".m4s"/"frag"/"segment" implies FMP4; otherwise UNKNOWN.
func classifyFormat(segments []SegmentRef) FormatHint {
	sawFMP4Hint := false
	for _, s := range segments {
		lower := strings.ToLower(s.URL)
		if strings.HasSuffix(strings.SplitN(lower, "?", 2)[0], ".ts") {
			return FormatTS
		}
		if strings.Contains(lower, ".m4s") || strings.Contains(lower, "frag") || strings.Contains(lower, "segment") {
			sawFMP4Hint = true
		}
	}
	if sawFMP4Hint {
		return FormatFMP4
	}
	return FormatUnknown
}

// String implements fmt.Stringer for debugging.
func (f FormatHint) String() string {
	return string(f)
}
