package api

import (
	"net/http"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/service"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// DefaultRateLimit is the per-IP synthesis allowance per minute.
const DefaultRateLimit = 30

// Options configures the HTTP surface.
type Options struct {
	Service *service.Service

	// RateLimit is synthesis requests per minute per client IP. Zero uses
	// DefaultRateLimit; negative disables limiting.
	RateLimit int

	// CORSOrigins defaults to any origin.
	CORSOrigins []string

	Logger *log.Logger
}

// Server exposes the service over HTTP.
type Server struct {
	svc     *service.Service
	logger  *log.Logger
	handler http.Handler
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		svc:    opts.Service,
		logger: logger.WithPrefix("http"),
	}

	r := mux.NewRouter()
	r.Use(requestLogger(s.logger))

	limited := func(h http.Handler) http.Handler { return h }
	switch limit := opts.RateLimit; {
	case limit == 0:
		limited = newRateLimiter(DefaultRateLimit).middleware
	case limit > 0:
		limited = newRateLimiter(limit).middleware
	}
	r.Handle("/tts", limited(s.handleSynthesize(false))).Methods(http.MethodPost)
	r.Handle("/tts/ssml", limited(s.handleSynthesize(true))).Methods(http.MethodPost)

	r.HandleFunc("/voices", s.handleVoices).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/download/{name}", s.handleDownload).Methods(http.MethodGet, http.MethodHead)

	static := http.StripPrefix(service.StaticPrefix, http.FileServer(http.Dir(s.svc.Store().Root())))
	r.PathPrefix(service.StaticPrefix).Handler(audioFilesOnly(static)).Methods(http.MethodGet, http.MethodHead)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{RequestIDHeader},
	})
	s.handler = c.Handler(r)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// audioFilesOnly hides everything under the audio root except committed
// artifacts: no directory listings, sidecars or in-progress temp files.
func audioFilesOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Base(r.URL.Path)
		ext := path.Ext(name)
		if strings.HasSuffix(r.URL.Path, "/") || strings.HasPrefix(name, ".") || ext == "" {
			http.NotFound(w, r)
			return
		}
		switch tts.Format(ext[1:]) {
		case tts.FormatMP3, tts.FormatOGG, tts.FormatWAV:
			next.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
