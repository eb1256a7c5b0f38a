package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/kwv/changemesh/overlay"
)

// analysisRequest is the body of POST /analyses.
type analysisRequest struct {
	Before    json.RawMessage `json:"before"`
	After     json.RawMessage `json:"after"`
	Attribute string          `json:"attribute"`
}

type analysisResponse struct {
	ID     string                  `json:"id"`
	Result *overlay.AnalysisResult `json:"result"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Set    string `json:"set,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// newHTTPServer builds the API router.
func newHTTPServer(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Results   int       `json:"results"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Results:   app.Registry.Len(),
		})
	})

	r.Route("/analyses", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			type item struct {
				ID        string          `json:"id"`
				CreatedAt time.Time       `json:"createdAt"`
				Summary   overlay.Summary `json:"summary"`
			}
			items := []item{}
			for _, sr := range app.Registry.List() {
				items = append(items, item{
					ID:        sr.ID,
					CreatedAt: sr.CreatedAt,
					Summary:   sr.Result.Summarize(overlay.DefaultTopChanges, sr.CreatedAt),
				})
			}
			writeJSON(w, http.StatusOK, items)
		})
		r.Post("/", handleCreateAnalysis(app))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", withResult(app, func(w http.ResponseWriter, _ *http.Request, res *overlay.AnalysisResult) {
				writeJSON(w, http.StatusOK, res)
			}))
			r.Get("/summary", withResult(app, func(w http.ResponseWriter, _ *http.Request, res *overlay.AnalysisResult) {
				writeJSON(w, http.StatusOK, res.Summarize(overlay.DefaultTopChanges, time.Now()))
			}))
			r.Get("/legend", withResult(app, func(w http.ResponseWriter, _ *http.Request, res *overlay.AnalysisResult) {
				writeJSON(w, http.StatusOK, res.Legend())
			}))
			r.Get("/changes.geojson", withResult(app, func(w http.ResponseWriter, _ *http.Request, res *overlay.AnalysisResult) {
				w.Header().Set("Content-Type", "application/geo+json")
				if err := overlay.WriteChangeGeoJSON(w, res); err != nil {
					zap.L().Warn("writing change geojson", zap.Error(err))
				}
			}))
			r.Get("/map.svg", withResult(app, func(w http.ResponseWriter, r *http.Request, res *overlay.AnalysisResult) {
				renderer := overlay.NewMapRenderer(res, app.Config.Render)
				renderer.ChangedOnly = r.URL.Query().Get("changed") == "true"
				w.Header().Set("Content-Type", "image/svg+xml")
				w.Header().Set("Cache-Control", "no-cache")
				if err := renderer.RenderToSVG(w); err != nil {
					zap.L().Warn("rendering svg map", zap.Error(err))
				}
			}))
			r.Get("/map.png", withResult(app, func(w http.ResponseWriter, r *http.Request, res *overlay.AnalysisResult) {
				renderer := overlay.NewMapRenderer(res, app.Config.Render)
				renderer.ChangedOnly = r.URL.Query().Get("changed") == "true"
				w.Header().Set("Content-Type", "image/png")
				w.Header().Set("Cache-Control", "no-cache")
				if err := renderer.RenderToPNG(w); err != nil {
					zap.L().Warn("rendering png map", zap.Error(err))
				}
			}))
		})
	})

	return r
}

func handleCreateAnalysis(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := int64(app.Config.Server.MaxBodyMB) << 20
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		var req analysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Detail: err.Error()})
			return
		}

		before, err := decodeSet("before", req.Before)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid before collection", Detail: err.Error()})
			return
		}
		after, err := decodeSet("after", req.After)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid after collection", Detail: err.Error()})
			return
		}

		id, result, err := app.Analyze(r.Context(), before, after, req.Attribute)
		if err != nil {
			if ie, ok := overlay.IsInputError(err); ok {
				writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
					Error:  "error analyzing changes",
					Kind:   string(ie.Kind),
					Set:    ie.Set,
					Detail: ie.Detail,
				})
				return
			}
			zap.L().Error("analysis failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error analyzing changes"})
			return
		}

		w.Header().Set("Location", "/analyses/"+id)
		writeJSON(w, http.StatusCreated, analysisResponse{ID: id, Result: result})
	}
}

func decodeSet(name string, raw json.RawMessage) (overlay.PolygonSet, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return overlay.PolygonSet{Name: name}, nil
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return overlay.PolygonSet{Name: name}, err
	}
	set, skipped := overlay.PolygonSetFromFeatureCollection(name, fc)
	if skipped > 0 {
		zap.L().Warn("skipped non-polygon features", zap.String("set", name), zap.Int("skipped", skipped))
	}
	return set, nil
}

type resultHandler func(w http.ResponseWriter, r *http.Request, res *overlay.AnalysisResult)

// withResult resolves {id} and responds 404 for unknown runs.
func withResult(app *App, h resultHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, ok, err := app.Lookup(r.Context(), id)
		if err != nil {
			zap.L().Error("loading analysis", zap.String("id", id), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error loading analysis"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "analysis not found"})
			return
		}
		h(w, r, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encoding response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
