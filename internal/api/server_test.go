package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/cache"
	"github.com/dgnsrekt/ttscache/internal/production"
	"github.com/dgnsrekt/ttscache/internal/service"
	"github.com/dgnsrekt/ttscache/internal/tts"
)

type fakeProvider struct {
	name   string
	kind   tts.Selector
	format tts.Format
	voices []tts.Voice
	err    error
	last   tts.Request
}

func (p *fakeProvider) Name() string             { return p.name }
func (p *fakeProvider) Kind() tts.Selector       { return p.kind }
func (p *fakeProvider) NativeFormat() tts.Format { return p.format }
func (p *fakeProvider) Close() error             { return nil }

func (p *fakeProvider) ListVoices(context.Context) ([]tts.Voice, error) {
	return p.voices, nil
}

func (p *fakeProvider) Synthesize(_ context.Context, req tts.Request) (*tts.Audio, error) {
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &tts.Audio{Data: []byte("audio:" + req.Content), Format: p.format, Voice: req.Voice, Duration: time.Second}, nil
}

type nopCodec struct{}

func (nopCodec) Transcode(_ context.Context, data []byte, _, _ tts.Format) ([]byte, error) {
	return data, nil
}

func (nopCodec) Duration(context.Context, []byte, tts.Format) (time.Duration, error) {
	return time.Second, nil
}

type testEnv struct {
	srv      *Server
	primary  *fakeProvider
	fallback *fakeProvider
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	logger := log.New(os.Stderr)
	logger.SetLevel(log.ErrorLevel)

	store, err := cache.NewStore(cache.Options{Root: t.TempDir(), Enabled: true, Logger: logger})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	primary := &fakeProvider{name: "google", kind: tts.SelectPrimary, format: tts.FormatMP3,
		voices: []tts.Voice{{ID: "en-US-Neural2-F", Locale: "en-US"}, {ID: "de-DE-Wavenet-B", Locale: "de-DE"}}}
	fallback := &fakeProvider{name: "piper", kind: tts.SelectFallback, format: tts.FormatWAV,
		voices: []tts.Voice{{ID: "en_US-lessac-medium"}, {ID: "en_GB-alan-low"}}}
	registry := tts.NewRegistry(primary, fallback)

	coord, err := production.New(production.Config{Store: store, Registry: registry, Codec: nopCodec{}, Logger: logger})
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	svc, err := service.New(service.Options{
		Coordinator: coord,
		Registry:    registry,
		Store:       store,
		Limits:      tts.Limits{MaxChars: 20},
		Defaults:    service.Defaults{Engine: "auto", Voice: "en-US-Neural2-F", Format: "mp3"},
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	srv := NewServer(Options{Service: svc, RateLimit: rateLimit, Logger: logger})
	return &testEnv{srv: srv, primary: primary, fallback: fallback}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSynthesize_MissThenHit(t *testing.T) {
	env := newTestEnv(t, -1)
	body := map[string]any{"text": "Hello world", "engine": "primary", "voice": "V1", "format": "mp3"}

	rec := env.do(t, http.MethodPost, "/tts", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	first := decode[service.Response](t, rec)
	if first.Cached || first.Engine != "google" || !strings.HasPrefix(first.AudioURL, "/static/audio/") {
		t.Errorf("first response = %+v", first)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("response has no request id")
	}

	second := decode[service.Response](t, env.do(t, http.MethodPost, "/tts", body))
	if !second.Cached || second.AudioURL != first.AudioURL {
		t.Errorf("second response = %+v", second)
	}

	audio := env.do(t, http.MethodGet, first.AudioURL, nil)
	if audio.Code != http.StatusOK || audio.Body.String() != "audio:Hello world" {
		t.Errorf("static fetch = %d %q", audio.Code, audio.Body.String())
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name        string
		body        any
		providerErr error
		wantStatus  int
		wantDetail  string
	}{
		{
			name:       "too long",
			body:       map[string]any{"text": strings.Repeat("x", 21)},
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "text is 21 characters, maximum is 20",
		},
		{
			name:       "bad format",
			body:       map[string]any{"text": "hi", "format": "flac"},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "not json",
			body:       "just a string",
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "invalid JSON body",
		},
		{
			name:        "invalid voice",
			body:        map[string]any{"text": "hi", "voice": "nope"},
			providerErr: tts.InvalidVoice("google synthesize", "nope", nil),
			wantStatus:  http.StatusBadRequest,
			wantDetail:  `voice "nope" is not available`,
		},
		{
			name:        "explicit primary failure",
			body:        map[string]any{"text": "hi", "engine": "google"},
			providerErr: errors.New("boom"),
			wantStatus:  http.StatusBadGateway,
			wantDetail:  "synthesis failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, -1)
			env.primary.err = tt.providerErr
			env.fallback.err = tt.providerErr

			rec := env.do(t, http.MethodPost, "/tts", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			got := decode[map[string]string](t, rec)
			if tt.wantDetail != "" && got["detail"] != tt.wantDetail {
				t.Errorf("detail = %q, want %q", got["detail"], tt.wantDetail)
			}
		})
	}
}

func TestSynthesizeSSML(t *testing.T) {
	env := newTestEnv(t, -1)
	rec := env.do(t, http.MethodPost, "/tts/ssml", map[string]any{"text": "<speak>a  b</speak>"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !env.primary.last.Markup || env.primary.last.Content != "<speak>a  b</speak>" {
		t.Errorf("provider saw %+v, want untouched markup", env.primary.last)
	}
}

func TestVoices(t *testing.T) {
	env := newTestEnv(t, -1)

	got := decode[voicesResponse](t, env.do(t, http.MethodGet, "/voices", nil))
	if got.Engine != tts.SelectAuto || len(got.Voices) != 2 {
		t.Errorf("/voices = %+v", got)
	}

	got = decode[voicesResponse](t, env.do(t, http.MethodGet, "/voices?engine=piper&q=lessac", nil))
	if got.Engine != tts.SelectFallback || len(got.Voices) != 1 || got.Voices[0].ID != "en_US-lessac-medium" {
		t.Errorf("/voices?engine=piper&q=lessac = %+v", got)
	}

	got = decode[voicesResponse](t, env.do(t, http.MethodGet, "/voices?q=zzzz", nil))
	if got.Voices == nil || len(got.Voices) != 0 {
		t.Errorf("no-match voices = %#v, want empty list", got.Voices)
	}

	if rec := env.do(t, http.MethodGet, "/voices?engine=espeak", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown engine status = %d", rec.Code)
	}
}

func TestHealthAndStats(t *testing.T) {
	env := newTestEnv(t, -1)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || decode[map[string]string](t, rec)["status"] != "ok" {
		t.Errorf("/healthz = %d %s", rec.Code, rec.Body)
	}

	env.do(t, http.MethodPost, "/tts", map[string]any{"text": "count me"})
	st := decode[service.Stats](t, env.do(t, http.MethodGet, "/stats", nil))
	if st.Production.Misses != 1 || st.Cache.Entries != 1 {
		t.Errorf("/stats = %+v", st)
	}
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t, -1)
	resp := decode[service.Response](t, env.do(t, http.MethodPost, "/tts", map[string]any{"text": "download me"}))
	fp := string(resp.Fingerprint)

	rec := env.do(t, http.MethodGet, "/download/"+fp+".mp3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="`+fp+`.mp3"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q", ct)
	}

	tests := map[string]int{
		"/download/" + fp + ".ogg":      http.StatusNotFound,
		"/download/" + fp[:10] + ".mp3": http.StatusBadRequest,
		"/download/" + fp:               http.StatusBadRequest,
		"/download/" + fp + ".flac":     http.StatusBadRequest,
	}
	for target, want := range tests {
		if rec := env.do(t, http.MethodGet, target, nil); rec.Code != want {
			t.Errorf("GET %s = %d, want %d", target, rec.Code, want)
		}
	}
}

func TestStaticDirectoryListingHidden(t *testing.T) {
	env := newTestEnv(t, -1)
	if rec := env.do(t, http.MethodGet, "/static/audio/", nil); rec.Code != http.StatusNotFound {
		t.Errorf("directory listing status = %d, want 404", rec.Code)
	}
}

func TestStaticServesOnlyAudio(t *testing.T) {
	env := newTestEnv(t, -1)
	rec := env.do(t, http.MethodPost, "/tts", map[string]any{"text": "static", "format": "mp3"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[service.Response](t, rec)
	fp := string(resp.Fingerprint)

	temp := filepath.Join(env.srv.svc.Store().Root(), fp[:2], "."+fp+".mp3.tmp-1")
	if err := os.WriteFile(temp, []byte("partial"), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	shard := "/static/audio/" + fp[:2] + "/"
	tests := []struct {
		target string
		want   int
	}{
		{resp.AudioURL, http.StatusOK},
		{shard + fp + ".json", http.StatusNotFound},
		{shard + "." + fp + ".mp3.tmp-1", http.StatusNotFound},
		{shard + fp, http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := env.do(t, http.MethodGet, tt.target, nil); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)
	body := map[string]any{"text": "limited"}

	for i := range 2 {
		if rec := env.do(t, http.MethodPost, "/tts", body); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := env.do(t, http.MethodPost, "/tts", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", rec.Code)
	}

	// other endpoints are not limited
	if rec := env.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("/healthz after limit = %d", rec.Code)
	}
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := newRateLimiter(1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	if !rl.allow("10.0.0.1") || rl.allow("10.0.0.1") {
		t.Error("first request should pass and second should be limited")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("limit leaked across clients")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("10.0.0.1") {
		t.Error("allowance did not refill after a minute")
	}
}
