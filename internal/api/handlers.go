package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/dgnsrekt/ttscache/internal/service"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type voicesResponse struct {
	Engine tts.Selector `json:"engine"`
	Voices []tts.Voice  `json:"voices"`
}

func (s *Server) handleSynthesize(ssml bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in service.Input
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&in); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
			return
		}
		if ssml {
			in.SSML = true
			no := false
			in.Normalize = &no
		}

		resp, err := s.svc.Synthesize(r.Context(), in)
		if err != nil {
			s.writeError(w, r, err, "synthesis failed")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel, voices, err := s.svc.Voices(r.Context(), q.Get("engine"))
	if err != nil {
		s.writeError(w, r, err, "voice listing failed")
		return
	}
	voices = service.FilterVoices(voices, q.Get("q"))
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, voicesResponse{Engine: sel, Voices: voices})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats()
	if err != nil {
		s.writeError(w, r, err, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleDownload serves /download/<fingerprint>.<ext> as an attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	hex, ext, ok := strings.Cut(name, ".")
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid audio id")
		return
	}
	fp, err := tts.ParseFingerprint(hex)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid audio id")
		return
	}
	format, err := tts.ParseFormat(ext)
	if err != nil || string(format) != ext {
		writeDetail(w, http.StatusBadRequest, "invalid audio format")
		return
	}

	store := s.svc.Store()
	f, err := os.Open(store.PathFor(fp, format))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeDetail(w, http.StatusNotFound, "audio not found")
			return
		}
		s.writeError(w, r, tts.NewError(tts.KindStorage, "download", "open artifact", err), "download failed")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.writeError(w, r, tts.NewError(tts.KindStorage, "download", "stat artifact", err), "download failed")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// writeError maps classified errors to status codes. Validation problems
// and client mistakes are explained; everything else is logged and
// reported as generic.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, generic string) {
	var te *tts.Error
	msg := err.Error()
	if errors.As(err, &te) {
		msg = te.Message
	}

	switch tts.KindOf(err) {
	case tts.KindValidation:
		writeDetail(w, http.StatusUnprocessableEntity, msg)
	case tts.KindInvalidVoice, tts.KindUnsupportedFeature:
		writeDetail(w, http.StatusBadRequest, msg)
	default:
		s.logger.Error(generic, "id", RequestID(r.Context()), "path", r.URL.Path, "err", err)
		writeDetail(w, http.StatusBadGateway, generic)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
