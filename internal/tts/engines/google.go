package engines

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// speechClient is the subset of the Cloud Text-to-Speech client we use.
type speechClient interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, opts ...gax.CallOption) (*texttospeechpb.ListVoicesResponse, error)
	Close() error
}

// GoogleConfig holds configuration for the Google engine.
type GoogleConfig struct {
	// CredentialsFile is a service account JSON file. Empty uses
	// application default credentials.
	CredentialsFile string

	// Endpoint overrides the API endpoint, e.g. for a regional service.
	Endpoint string

	// DefaultVoice is used when a request names no voice.
	DefaultVoice string

	// RequestsPerMinute throttles API calls; zero disables throttling.
	RequestsPerMinute int

	Logger *log.Logger
}

// Google is the primary provider backed by Google Cloud Text-to-Speech. It
// accepts SSML and honours both rate and pitch; output is always MP3.
type Google struct {
	client       speechClient
	defaultVoice string
	limiter      *rate.Limiter
	logger       *log.Logger
}

var _ tts.Provider = (*Google)(nil)

// NewGoogle dials the Text-to-Speech API.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google TTS client: %w", err)
	}
	return newGoogle(client, cfg), nil
}

func newGoogle(client speechClient, cfg GoogleConfig) *Google {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	g := &Google{
		client:       client,
		defaultVoice: cfg.DefaultVoice,
		logger:       logger.WithPrefix("google"),
	}
	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return g
}

func (g *Google) Name() string             { return "google" }
func (g *Google) Kind() tts.Selector       { return tts.SelectPrimary }
func (g *Google) NativeFormat() tts.Format { return tts.FormatMP3 }

// Synthesize converts text or SSML to MP3.
func (g *Google) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = g.defaultVoice
	}
	if voice == "" {
		return nil, tts.InvalidVoice("google synthesize", voice, errors.New("no voice given and no default configured"))
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, tts.Unavailable("google synthesize", fmt.Errorf("throttled: %w", err))
		}
	}

	input := &texttospeechpb.SynthesisInput{}
	if req.Markup {
		input.InputSource = &texttospeechpb.SynthesisInput_Ssml{Ssml: req.Content}
	} else {
		input.InputSource = &texttospeechpb.SynthesisInput_Text{Text: req.Content}
	}

	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: input,
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: languageOf(voice),
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  speakingRate(req.Rate),
			Pitch:         float64(req.Pitch),
		},
	})
	if err != nil {
		return nil, classifyGRPC("google synthesize", voice, err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, tts.Unavailable("google synthesize", errors.New("empty audio content"))
	}

	g.logger.Debug("Synthesized", "voice", voice, "chars", len(req.Content), "bytes", len(resp.GetAudioContent()))
	return &tts.Audio{
		Data:   resp.GetAudioContent(),
		Format: tts.FormatMP3,
		Voice:  voice,
	}, nil
}

// ListVoices returns the voice catalog sorted by name.
func (g *Google) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	resp, err := g.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, classifyGRPC("google list voices", "", err)
	}

	voices := make([]tts.Voice, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		locale := ""
		if codes := v.GetLanguageCodes(); len(codes) > 0 {
			locale = codes[0]
		}
		voices = append(voices, tts.Voice{
			ID:     v.GetName(),
			Name:   v.GetName(),
			Locale: locale,
			Gender: genderOf(v.GetSsmlGender()),
		})
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].ID < voices[j].ID })
	return voices, nil
}

// Close releases the gRPC connection.
func (g *Google) Close() error {
	return g.client.Close()
}

// speakingRate maps a percent adjustment to Google's multiplier.
func speakingRate(percent int) float64 {
	return 1 + float64(percent)/100
}

// languageOf extracts the BCP 47 tag from a voice name such as
// "en-GB-Neural2-B". Unparseable names default to en-US.
func languageOf(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 2 {
		return "en-US"
	}
	tag, err := language.Parse(parts[0] + "-" + parts[1])
	if err != nil {
		return "en-US"
	}
	return tag.String()
}

func genderOf(g texttospeechpb.SsmlVoiceGender) string {
	switch g {
	case texttospeechpb.SsmlVoiceGender_MALE:
		return "male"
	case texttospeechpb.SsmlVoiceGender_FEMALE:
		return "female"
	case texttospeechpb.SsmlVoiceGender_NEUTRAL:
		return "neutral"
	default:
		return ""
	}
}

// classifyGRPC maps API failures onto the provider error kinds. Anything
// that looks like transport trouble or refused access is an outage so the
// coordinator can fall back.
func classifyGRPC(op, voice string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return tts.Unavailable(op, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return tts.Unavailable(op, err)
	}

	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.OutOfRange:
		if strings.Contains(strings.ToLower(st.Message()), "voice") {
			return tts.InvalidVoice(op, voice, err)
		}
		return tts.NewError(tts.KindUnsupportedFeature, op, st.Message(), err)
	case codes.Unimplemented:
		return tts.NewError(tts.KindUnsupportedFeature, op, st.Message(), err)
	default:
		// Unavailable, DeadlineExceeded, ResourceExhausted, PermissionDenied,
		// Unauthenticated, Internal, Unknown, Aborted, Canceled
		return tts.Unavailable(op, err)
	}
}
