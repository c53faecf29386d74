package videohost_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/videohost"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakePlatform struct {
	initCalls    atomic.Int32
	initFailures int32
	uploaded     atomic.Value
	auth         atomic.Value
	title        atomic.Value
	uploadStatus int
}

func (f *fakePlatform) handler(t *testing.T, baseURL func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		n := f.initCalls.Add(1)
		if n <= f.initFailures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
		f.auth.Store(r.Header.Get("Authorization"))

		var meta struct {
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
			Status struct {
				PrivacyStatus string `json:"privacyStatus"`
			} `json:"status"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
		f.title.Store(meta.Snippet.Title + "|" + meta.Status.PrivacyStatus)
		w.Header().Set("Location", baseURL()+"/session/abc")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/session/abc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		f.uploaded.Store(string(body))
		if f.uploadStatus != 0 {
			http.Error(w, "quota exceeded", f.uploadStatus)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"remote-42"}`))
	})
	return mux
}

func newServer(t *testing.T, platform *fakePlatform) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(platform.handler(t, func() string { return srv.URL }))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server) *videohost.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"})
	return videohost.New(oauth2.NewClient(context.Background(), ts), videohost.Options{
		BaseURL:      srv.URL,
		Privacy:      "private",
		RetryMax:     3,
		RetryWaitMax: 10 * time.Millisecond,
	}, log.NewStdLogger(io.Discard))
}

func TestUploadVideo(t *testing.T) {
	platform := &fakePlatform{}
	srv := newServer(t, platform)

	id, err := newClient(srv).UploadVideo(context.Background(), strings.NewReader("video-bytes"), "lesson 1")
	require.NoError(t, err)
	assert.Equal(t, "remote-42", id)
	assert.Equal(t, "video-bytes", platform.uploaded.Load())
	assert.Equal(t, "Bearer tok", platform.auth.Load())
	assert.Equal(t, "lesson 1|private", platform.title.Load())
}

func TestUploadVideoRetriesSessionInit(t *testing.T) {
	platform := &fakePlatform{initFailures: 2}
	srv := newServer(t, platform)

	id, err := newClient(srv).UploadVideo(context.Background(), strings.NewReader("x"), "t")
	require.NoError(t, err)
	assert.Equal(t, "remote-42", id)
	assert.Equal(t, int32(3), platform.initCalls.Load())
}

func TestUploadVideoReportsHTTPError(t *testing.T) {
	platform := &fakePlatform{uploadStatus: http.StatusForbidden}
	srv := newServer(t, platform)

	_, err := newClient(srv).UploadVideo(context.Background(), strings.NewReader("x"), "t")
	require.Error(t, err)
	var httpErr *videohost.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusForbidden, httpErr.Status)
	assert.Contains(t, httpErr.Body, "quota exceeded")
}

func TestUploadVideoMissingLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(srv).UploadVideo(context.Background(), strings.NewReader("x"), "t")
	assert.ErrorIs(t, err, videohost.ErrMissingSessionURL)
}
