package playlist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/media.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=4000000,RESOLUTION=1920x1080
high/media.m3u8
`

const mediaPlaylistTS = `#EXTM3U
#EXT-X-TARGETDURATION:6
seg0.ts
seg1.ts
seg2.ts
`

const mediaPlaylistFMP4 = `#EXTM3U
#EXT-X-MAP:URI="init.mp4"
seg0.m4s
seg1.m4s
`

func TestParse_Master_SortsVariantsDescendingByBandwidth(t *testing.T) {
	p := NewParser()
	pl, err := p.Parse(strings.NewReader(masterPlaylist), "https://cdn.example.com/master.m3u8")
	require.NoError(t, err)

	require.True(t, pl.IsMaster)
	require.Len(t, pl.Variants, 2)
	assert.Equal(t, 4000000, pl.Variants[0].Bandwidth)
	assert.Equal(t, 1920, pl.Variants[0].Width)
	assert.Equal(t, 1080, pl.Variants[0].Height)
	assert.Equal(t, "https://cdn.example.com/high/media.m3u8", pl.Variants[0].URL)
	assert.Equal(t, 800000, pl.Variants[1].Bandwidth)
}

func TestParse_Media_TS(t *testing.T) {
	p := NewParser()
	pl, err := p.Parse(strings.NewReader(mediaPlaylistTS), "https://cdn.example.com/media.m3u8")
	require.NoError(t, err)

	assert.False(t, pl.IsMaster)
	require.Len(t, pl.Segments, 3)
	assert.Equal(t, FormatTS, pl.FormatHint)
	assert.Nil(t, pl.Init)
	for i, seg := range pl.Segments {
		assert.Equal(t, i, seg.Index)
	}
	assert.Equal(t, "https://cdn.example.com/seg0.ts", pl.Segments[0].URL)
}

func TestParse_Media_FMP4WithInit(t *testing.T) {
	p := NewParser()
	pl, err := p.Parse(strings.NewReader(mediaPlaylistFMP4), "https://cdn.example.com/media.m3u8")
	require.NoError(t, err)

	assert.Equal(t, FormatFMP4, pl.FormatHint)
	require.NotNil(t, pl.Init)
	assert.Equal(t, "https://cdn.example.com/init.mp4", pl.Init.URL)
	require.Len(t, pl.Segments, 2)
}

func TestParse_EmptyInput(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(strings.NewReader(""), "https://cdn.example.com/media.m3u8")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_Media_NoSegments(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(strings.NewReader("#EXTM3U\n#EXT-X-TARGETDURATION:6\n"), "https://cdn.example.com/media.m3u8")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSegments)
}

func TestParse_Master_NoVariants(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(strings.NewReader("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\n"), "https://cdn.example.com/master.m3u8")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoVariants)
}

func TestParse_RoundTrip_PreservesSegmentOrder(t *testing.T) {
	p := NewParser()
	pl, err := p.Parse(strings.NewReader(mediaPlaylistTS), "https://cdn.example.com/media.m3u8")
	require.NoError(t, err)

	indices := make([]int, len(pl.Segments))
	for i, s := range pl.Segments {
		indices[i] = s.Index
	}
	assert.Equal(t, []int{0, 1, 2}, indices)
}

func TestParse_MapURIFallback_TokenAfterColon(t *testing.T) {
	p := NewParser()
	doc := "#EXTM3U\n#EXT-X-MAP:./init.mp4\nseg0.m4s\n"
	pl, err := p.Parse(strings.NewReader(doc), "https://cdn.example.com/path/media.m3u8")
	require.NoError(t, err)
	require.NotNil(t, pl.Init)
	assert.Equal(t, "https://cdn.example.com/path/init.mp4", pl.Init.URL)
}

func TestParse_DoubleEncodedSegmentURI(t *testing.T) {
	p := NewParser()
	doc := "#EXTM3U\nseg%2520with%2520spaces.ts\n"
	pl, err := p.Parse(strings.NewReader(doc), "https://cdn.example.com/media.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/seg%20with%20spaces.ts", pl.Segments[0].URL)
}
