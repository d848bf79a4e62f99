// Package httpapi exposes a localizer over a small JSON HTTP surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/edaniels/golog"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang/geo/r3"

	"github.com/maploc/maploc/features"
	"github.com/maploc/maploc/localize"
	"github.com/maploc/maploc/pnp"
)

// pipelineSentinels are the failures a well-formed request can legitimately
// produce; they map to 422 rather than 500.
var pipelineSentinels = []error{
	localize.ErrExtractionFailed,
	localize.ErrInsufficientFeatures,
	features.ErrInsufficientMatches,
	pnp.ErrInsufficientCorrespondences,
	pnp.ErrNoConsensus,
	localize.ErrInsufficientInliers,
}

// Server serves localization requests for a single map.
type Server struct {
	loc    *localize.Localizer
	logger golog.Logger
}

// NewServer wraps a localizer in an HTTP API.
func NewServer(loc *localize.Localizer, logger golog.Logger) *Server {
	return &Server{loc: loc, logger: logger}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(s.requestLogger)
	r.Get("/healthz", s.health)
	r.Get("/map/info", s.mapInfo)
	r.Post("/localize", s.localize)
	return r
}

type localizeRequest struct {
	ImagePath string `json:"image_path"`
}

type poseJSON struct {
	// Rotation is the world-to-camera rotation matrix in row-major order.
	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
	Position    [3]float64 `json:"position"`
}

type localizeResponse struct {
	Pose        poseJSON `json:"pose"`
	NumFeatures int      `json:"num_features"`
	NumMatches  int      `json:"num_matches"`
	NumInliers  int      `json:"num_inliers"`
	ElapsedMS   float64  `json:"elapsed_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) mapInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.loc.MapInfo())
}

func (s *Server) localize(w http.ResponseWriter, r *http.Request) {
	var req localizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ImagePath == "" {
		writeError(w, http.StatusBadRequest, "image_path is required")
		return
	}

	res, err := s.loc.Localize(r.Context(), req.ImagePath)
	if err != nil {
		s.handleLocalizeError(w, req.ImagePath, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocalizeResponse(res))
}

func (s *Server) handleLocalizeError(w http.ResponseWriter, imagePath string, err error) {
	for _, sentinel := range pipelineSentinels {
		if errors.Is(err, sentinel) {
			s.logger.Debugw("localization rejected", "image", imagePath, "error", err)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	s.logger.Errorw("localization failed", "image", imagePath, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func toLocalizeResponse(res *localize.Result) localizeResponse {
	out := localizeResponse{
		NumFeatures: res.NumFeatures,
		NumMatches:  res.NumMatches,
		NumInliers:  res.Pose.InlierCount,
		ElapsedMS:   float64(res.Elapsed) / float64(time.Millisecond),
	}
	copy(out.Pose.Rotation[:], res.Pose.Rotation.RowMajor())
	out.Pose.Translation = vec3(res.Pose.Translation)
	out.Pose.Position = vec3(res.Pose.Position)
	return out
}

func vec3(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// requestLogger emits one line per request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
		)
	})
}

// recoverer turns panics into JSON 500s instead of broken connections.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Errorw("panic recovered", "panic", rvr)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
