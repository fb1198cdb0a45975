package production

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/cache"
	"github.com/dgnsrekt/ttscache/internal/tts"
)

// fakeProvider counts calls and optionally blocks until released.
type fakeProvider struct {
	name    string
	kind    tts.Selector
	format  tts.Format
	err     error
	release chan struct{}

	calls atomic.Int32
	mu    sync.Mutex
	last  tts.Request
}

func (p *fakeProvider) Name() string             { return p.name }
func (p *fakeProvider) Kind() tts.Selector       { return p.kind }
func (p *fakeProvider) NativeFormat() tts.Format { return p.format }
func (p *fakeProvider) Close() error             { return nil }

func (p *fakeProvider) ListVoices(context.Context) ([]tts.Voice, error) { return nil, nil }

func (p *fakeProvider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.last = req
	p.mu.Unlock()

	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, tts.Unavailable(p.name, ctx.Err())
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	voice := req.Voice
	if voice == "" {
		voice = p.name + "-default"
	}
	return &tts.Audio{
		Data:     []byte(p.name + ":" + req.Content),
		Format:   p.format,
		Duration: 1500 * time.Millisecond,
		Voice:    voice,
	}, nil
}

func (p *fakeProvider) lastRequest() tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// fakeCodec tags transcoded data with the target format.
type fakeCodec struct {
	transcodes atomic.Int32
	err        error
}

func (c *fakeCodec) Transcode(_ context.Context, data []byte, from, to tts.Format) ([]byte, error) {
	c.transcodes.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte(string(to)+":"), data...), nil
}

func (c *fakeCodec) Duration(context.Context, []byte, tts.Format) (time.Duration, error) {
	return 2 * time.Second, nil
}

type fixture struct {
	coord    *Coordinator
	store    *cache.Store
	primary  *fakeProvider
	fallback *fakeProvider
	codec    *fakeCodec
}

func newFixture(t *testing.T, primary, fallback *fakeProvider) *fixture {
	t.Helper()
	logger := log.New(os.Stderr)
	logger.SetLevel(log.ErrorLevel)

	store, err := cache.NewStore(cache.Options{Root: t.TempDir(), Enabled: true, Logger: logger})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	var p, f tts.Provider
	if primary != nil {
		p = primary
	}
	if fallback != nil {
		f = fallback
	}
	codec := &fakeCodec{}
	coord, err := New(Config{
		Store:           store,
		Registry:        tts.NewRegistry(p, f),
		Codec:           codec,
		ProviderTimeout: time.Second,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &fixture{coord: coord, store: store, primary: primary, fallback: fallback, codec: codec}
}

func google() *fakeProvider {
	return &fakeProvider{name: "google", kind: tts.SelectPrimary, format: tts.FormatMP3}
}

func piper() *fakeProvider {
	return &fakeProvider{name: "piper", kind: tts.SelectFallback, format: tts.FormatWAV}
}

func helloRequest() tts.Request {
	return tts.Request{Engine: tts.SelectPrimary, Voice: "V1", Content: "Hello world", Format: tts.FormatMP3}
}

func TestCoordinator_MissThenHit(t *testing.T) {
	fx := newFixture(t, google(), piper())

	first, err := fx.coord.Produce(t.Context(), helloRequest())
	if err != nil {
		t.Fatalf("Produce() error: %v", err)
	}
	if first.Cached {
		t.Error("first Produce() reported cached")
	}

	second, err := fx.coord.Produce(t.Context(), helloRequest())
	if err != nil {
		t.Fatalf("second Produce() error: %v", err)
	}
	if !second.Cached {
		t.Error("second Produce() was not cached")
	}
	if first.Entry.Path != second.Entry.Path {
		t.Errorf("paths differ: %s vs %s", first.Entry.Path, second.Entry.Path)
	}
	if n := fx.primary.calls.Load(); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
	if n := fx.codec.transcodes.Load(); n != 0 {
		t.Errorf("transcoded %d times for native format, want 0", n)
	}

	st := fx.coord.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats() = %+v, want 1 hit and 1 miss", st)
	}
}

func TestCoordinator_ConcurrentRequestsShareOneProduction(t *testing.T) {
	primary := google()
	primary.release = make(chan struct{})
	fx := newFixture(t, primary, piper())

	const n = 16
	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = fx.coord.Produce(context.Background(), helloRequest())
		}()
	}

	// let the callers pile up on the flight
	deadline := time.Now().Add(2 * time.Second)
	for primary.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(primary.release)
	wg.Wait()

	if calls := primary.calls.Load(); calls != 1 {
		t.Fatalf("provider called %d times, want exactly 1", calls)
	}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if results[i].Entry.Path != results[0].Entry.Path {
			t.Errorf("caller %d path = %s, want %s", i, results[i].Entry.Path, results[0].Entry.Path)
		}
	}
	if joins := fx.coord.Stats().Joins; joins == 0 {
		t.Error("Stats().Joins = 0, want concurrent callers to join")
	}
}

func TestCoordinator_FallbackOnOutage(t *testing.T) {
	primary := google()
	primary.err = tts.Unavailable("google synthesize", errors.New("connection refused"))
	fx := newFixture(t, primary, piper())

	req := helloRequest()
	req.Engine = tts.SelectAuto
	req.Pitch = 4

	res, err := fx.coord.Produce(t.Context(), req)
	if err != nil {
		t.Fatalf("Produce() error: %v", err)
	}
	if res.Entry.Engine != "piper" {
		t.Errorf("provenance = %q, want piper", res.Entry.Engine)
	}
	if res.Entry.Voice != "piper-default" {
		t.Errorf("voice = %q, want fallback default voice", res.Entry.Voice)
	}
	if res.Entry.Fingerprint != tts.FingerprintOf(req) {
		t.Error("entry not committed under the original fingerprint")
	}

	got := fx.fallback.lastRequest()
	if got.Pitch != 0 || got.Voice != "" {
		t.Errorf("fallback request = %+v, want pitch and voice cleared", got)
	}
	// wav from piper, mp3 requested
	if n := fx.codec.transcodes.Load(); n != 1 {
		t.Errorf("transcoded %d times, want 1", n)
	}
	if fx.coord.Stats().Fallbacks != 1 {
		t.Errorf("Stats().Fallbacks = %d, want 1", fx.coord.Stats().Fallbacks)
	}
}

func TestCoordinator_FallbackStripsMarkup(t *testing.T) {
	primary := google()
	primary.err = tts.Unavailable("google synthesize", errors.New("down"))
	fx := newFixture(t, primary, piper())

	req := helloRequest()
	req.Content = `<speak>Hello <break time="1s"/>world</speak>`
	req.Markup = true

	if _, err := fx.coord.Produce(t.Context(), req); err != nil {
		t.Fatalf("Produce() error: %v", err)
	}
	got := fx.fallback.lastRequest()
	if got.Markup || got.Content != "Hello world" {
		t.Errorf("fallback request = %+v, want stripped plain text", got)
	}
}

func TestCoordinator_OutageWithMalformedMarkup(t *testing.T) {
	var logs bytes.Buffer
	logger := log.New(&logs)
	logger.SetLevel(log.WarnLevel)

	store, err := cache.NewStore(cache.Options{Root: t.TempDir(), Enabled: true, Logger: logger})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	primary := google()
	primary.err = tts.Unavailable("google synthesize", errors.New("connection refused"))
	fallback := piper()
	coord, err := New(Config{
		Store:           store,
		Registry:        tts.NewRegistry(primary, fallback),
		Codec:           &fakeCodec{},
		ProviderTimeout: time.Second,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	req := helloRequest()
	req.Content = "<speak>Hello <break></speak>"
	req.Markup = true

	_, err = coord.Produce(t.Context(), req)
	if !tts.IsKind(err, tts.KindUnsupportedFeature) {
		t.Fatalf("Produce() error = %v, want unsupported feature", err)
	}
	if fallback.calls.Load() != 0 {
		t.Error("fallback called with unconvertible markup")
	}
	warning := ""
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "cannot be converted") {
			warning = line
		}
	}
	if !strings.Contains(warning, "offline engine") || strings.Contains(warning, "connection refused") {
		t.Errorf("conversion warning should carry the conversion error, got %q", warning)
	}
}

func TestCoordinator_NonOutageErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want tts.Kind
	}{
		{"invalid voice", tts.InvalidVoice("google synthesize", "V1", nil), tts.KindInvalidVoice},
		{"unsupported", tts.Unsupported("google synthesize", "ssml"), tts.KindUnsupportedFeature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := google()
			primary.err = tt.err
			fx := newFixture(t, primary, piper())

			_, err := fx.coord.Produce(t.Context(), helloRequest())
			if !tts.IsKind(err, tt.want) {
				t.Errorf("Produce() error = %v, want kind %s", err, tt.want)
			}
			if n := fx.fallback.calls.Load(); n != 0 {
				t.Errorf("fallback called %d times, want 0", n)
			}
		})
	}
}

func TestCoordinator_FailureIsNotCached(t *testing.T) {
	primary := google()
	primary.err = tts.Unavailable("google synthesize", errors.New("down"))
	fallback := piper()
	fallback.err = tts.Unavailable("piper synthesize", errors.New("no voices"))
	fx := newFixture(t, primary, fallback)

	req := helloRequest()
	if _, err := fx.coord.Produce(t.Context(), req); !tts.IsKind(err, tts.KindProviderUnavailable) {
		t.Fatalf("Produce() error = %v, want provider unavailable", err)
	}
	if _, ok, _ := fx.store.Lookup(tts.FingerprintOf(req)); ok {
		t.Fatal("failed production left a cache entry")
	}

	// the handle is gone, so a later request starts over
	primary.err = nil
	res, err := fx.coord.Produce(t.Context(), req)
	if err != nil {
		t.Fatalf("retry Produce() error: %v", err)
	}
	if res.Cached || res.Entry.Engine != "google" {
		t.Errorf("retry result = %+v", res)
	}
	if n := primary.calls.Load(); n != 2 {
		t.Errorf("primary called %d times, want 2", n)
	}
	if f := fx.coord.Stats().Failures; f != 1 {
		t.Errorf("Stats().Failures = %d, want 1", f)
	}
}

func TestCoordinator_WaiterCancellationDoesNotCancelProduction(t *testing.T) {
	primary := google()
	primary.release = make(chan struct{})
	fx := newFixture(t, primary, piper())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, err := fx.coord.Produce(ctx, helloRequest())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for primary.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Produce() error = %v, want context.Canceled", err)
	}

	close(primary.release)

	// the detached production commits for the next caller
	fp := tts.FingerprintOf(helloRequest())
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := fx.store.Lookup(fp); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	res, err := fx.coord.Produce(t.Context(), helloRequest())
	if err != nil {
		t.Fatalf("Produce() after cancel error: %v", err)
	}
	if !res.Cached {
		t.Error("production abandoned by its caller was not committed")
	}
	if n := primary.calls.Load(); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
}

func TestCoordinator_ProviderTimeoutFallsBack(t *testing.T) {
	primary := google()
	primary.release = make(chan struct{}) // never released
	fx := newFixture(t, primary, piper())
	fx.coord.providerTimeout = 50 * time.Millisecond

	res, err := fx.coord.Produce(t.Context(), helloRequest())
	if err != nil {
		t.Fatalf("Produce() error: %v", err)
	}
	if res.Entry.Engine != "piper" {
		t.Errorf("provenance = %q, want piper after primary timeout", res.Entry.Engine)
	}
}

func TestCoordinator_TranscodeFailure(t *testing.T) {
	fx := newFixture(t, google(), piper())
	fx.codec.err = tts.NewError(tts.KindCodec, "transcode", "ffmpeg missing", nil)

	req := helloRequest()
	req.Format = tts.FormatOGG
	_, err := fx.coord.Produce(t.Context(), req)
	if !tts.IsKind(err, tts.KindCodec) {
		t.Errorf("Produce() error = %v, want codec error", err)
	}
	if _, ok, _ := fx.store.Lookup(tts.FingerprintOf(req)); ok {
		t.Error("failed transcode left a cache entry")
	}
}

func TestCoordinator_ExplicitFallback(t *testing.T) {
	fx := newFixture(t, google(), piper())

	req := helloRequest()
	req.Engine = tts.SelectFallback
	req.Voice = "en_US-lessac-medium"
	req.Format = tts.FormatWAV

	res, err := fx.coord.Produce(t.Context(), req)
	if err != nil {
		t.Fatalf("Produce() error: %v", err)
	}
	if res.Entry.Engine != "piper" || res.Entry.Voice != "en_US-lessac-medium" {
		t.Errorf("entry = %+v", res.Entry)
	}
	if fx.primary.calls.Load() != 0 {
		t.Error("primary called for explicit fallback request")
	}
	if fx.codec.transcodes.Load() != 0 {
		t.Error("native wav was transcoded")
	}
	if res.Entry.DurationSeconds() != 1.5 {
		t.Errorf("duration = %v, want provider-reported 1.5", res.Entry.DurationSeconds())
	}
}

func TestCoordinator_MissingPrimaryFallsBack(t *testing.T) {
	fx := newFixture(t, nil, piper())

	req := helloRequest()
	res, err := fx.coord.Produce(t.Context(), req)
	if err != nil {
		t.Fatalf("Produce() error: %v", err)
	}
	if res.Entry.Engine != "piper" {
		t.Errorf("provenance = %q, want piper", res.Entry.Engine)
	}
	if res.Entry.Fingerprint != tts.FingerprintOf(req) {
		t.Error("entry not committed under the original fingerprint")
	}
	if got := fx.fallback.lastRequest(); got.Voice != "" {
		t.Errorf("fallback voice = %q, want default", got.Voice)
	}
	if fx.coord.Stats().Fallbacks != 1 {
		t.Errorf("Stats().Fallbacks = %d, want 1", fx.coord.Stats().Fallbacks)
	}
}

func TestCoordinator_NoProviderConfigured(t *testing.T) {
	fx := newFixture(t, nil, nil)

	_, err := fx.coord.Produce(t.Context(), helloRequest())
	if !tts.IsKind(err, tts.KindProviderUnavailable) || !errors.Is(err, tts.ErrNoProvider) {
		t.Errorf("Produce() error = %v, want ErrNoProvider outage", err)
	}
}
