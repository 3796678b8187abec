package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmylchreest/hlsfetch/internal/assembler"
	"github.com/jmylchreest/hlsfetch/internal/config"
	"github.com/jmylchreest/hlsfetch/internal/httpclient"
	"github.com/jmylchreest/hlsfetch/internal/models"
	"github.com/jmylchreest/hlsfetch/internal/resolver"
	"github.com/jmylchreest/hlsfetch/internal/segments"
	"github.com/jmylchreest/hlsfetch/internal/sink"
	"github.com/jmylchreest/hlsfetch/internal/storage"
	"github.com/jmylchreest/hlsfetch/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-MAP:URI="init.mp4"
seg0.m4s
seg1.m4s
seg2.m4s
`

func newTestController(t *testing.T, handler http.HandlerFunc) (ctl *Controller, sb *storage.Sandbox, baseURL string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := httpclient.DefaultConfig()
	cfg.BaseClient = srv.Client()
	client := httpclient.New(cfg)
	headers := httpclient.StandardHeaders{UserAgent: "test"}

	root := t.TempDir()
	sbox, err := storage.NewSandbox(root)
	require.NoError(t, err)
	require.NoError(t, sbox.MkdirAll("temp"))

	res := resolver.New(client, headers)
	sch := segments.NewScheduler(client, headers)
	val := validator.New(validator.DefaultConfig())
	asm := assembler.New(assembler.Config{SmallRegimeThresholdBytes: 1024 * 1024}, nil)
	fileSink := sink.NewFileSink(sbox)

	ctl = NewController(res, sch, val, asm, fileSink, config.FetchConfig{StallTimeout: 5 * time.Second}, NewCancelRegistry())
	return ctl, sbox, srv.URL
}

func TestControllerRunSucceeds(t *testing.T) {
	ctl, sb, baseURL := newTestController(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/media.m3u8":
			_, _ = w.Write([]byte(mediaPlaylist))
		case "/init.mp4":
			_, _ = w.Write(append([]byte{0, 0, 0, 8}, []byte("ftypmp42")...))
		case "/seg0.m4s", "/seg1.m4s", "/seg2.m4s":
			_, _ = w.Write([]byte("segment-data"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	job := &models.Job{SourceURL: baseURL + "/media.m3u8", OutputName: "video"}

	var phases []string
	reportProgress := func(phase string, percent int) {
		phases = append(phases, phase)
	}

	err := ctl.Run(context.Background(), job, reportProgress)
	require.NoError(t, err)
	assert.Contains(t, phases, "resolving")
	assert.Contains(t, phases, "fetching")
	assert.Contains(t, phases, "validating")
	assert.Contains(t, phases, "assembling")
	assert.Contains(t, phases, "writing")
	assert.Equal(t, 3, job.SegmentCount)

	data, err := sb.ReadFile("video.mp4")
	require.NoError(t, err)
	assert.Contains(t, string(data), "ftypmp42")
}

func TestControllerRunFailsOnNoSegments(t *testing.T) {
	ctl, _, baseURL := newTestController(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n"))
	})

	job := &models.Job{SourceURL: baseURL + "/media.m3u8", OutputName: "video"}
	err := ctl.Run(context.Background(), job, func(string, int) {})
	require.Error(t, err)
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrorKindNoSegments, perr.Kind)
}

func TestControllerCancelMidRun(t *testing.T) {
	ctl, _, baseURL := newTestController(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/media.m3u8":
			_, _ = w.Write([]byte(mediaPlaylist))
		case "/init.mp4":
			_, _ = w.Write(append([]byte{0, 0, 0, 8}, []byte("ftypmp42")...))
		default:
			time.Sleep(100 * time.Millisecond)
			_, _ = w.Write([]byte("segment-data"))
		}
	})

	job := &models.Job{SourceURL: baseURL + "/media.m3u8", OutputName: "video"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := ctl.Run(ctx, job, func(string, int) {})
	require.Error(t, err)
}
