package inspect

import (
	"encoding/json"
	"errors"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/resume/pkg/document"
	"github.com/vango-dev/resume/pkg/snapshot"
	"github.com/vango-dev/resume/pkg/store"
)

// maxBodyBytes bounds uploaded snapshots.
const maxBodyBytes = 32 << 20

// Config configures the inspection handler.
type Config struct {
	// Store holds the snapshots served by the handler. Required.
	Store store.Store

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Logger receives request logs (default: slog.Default()).
	Logger *slog.Logger

	// ReadOnly disables PUT and DELETE.
	ReadOnly bool

	// Format is the encoding used for uploaded snapshots.
	Format store.Format

	// TTL is the expiry applied to uploaded snapshots. Zero never expires.
	TTL time.Duration

	// ResumeOptions are passed to snapshot.Resume when uploads are checked.
	ResumeOptions []snapshot.Option
}

type handler struct {
	cfg    Config
	logger *slog.Logger
}

// NewHandler returns a chi router exposing stored snapshots:
//
//	GET    /healthz
//	GET    /snapshots                 ids of stored snapshots
//	GET    /snapshots/{id}            snapshot as JSON (?format=cbor for CBOR)
//	GET    /snapshots/{id}/graph      Summary as JSON
//	GET    /snapshots/{id}/document   HTML page embedding the snapshot
//	PUT    /snapshots/{id}            store a JSON or CBOR snapshot that resumes cleanly
//	DELETE /snapshots/{id}
//	GET    /metrics                   Prometheus metrics
func NewHandler(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{cfg: cfg, logger: logger.With("component", "inspect")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/snapshots", func(r chi.Router) {
		r.Get("/", h.list)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Get("/graph", h.graph)
			r.Get("/document", h.page)
			if !cfg.ReadOnly {
				r.Put("/", h.put)
				r.Delete("/", h.delete)
			}
		})
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	ids, err := h.cfg.Store.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": ids})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	snap, err := store.Get(r.Context(), h.cfg.Store, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	format, err := store.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := store.Encode(snap, format)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if format == store.FormatCBOR {
		w.Header().Set("Content-Type", "application/cbor")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = w.Write(data)
}

func (h *handler) graph(w http.ResponseWriter, r *http.Request) {
	snap, err := store.Get(r.Context(), h.cfg.Store, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summary, err := Summarize(snap)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) page(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := store.Get(r.Context(), h.cfg.Store, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, "<!DOCTYPE html>\n<html><head><title>"+html.EscapeString(id)+"</title></head><body>\n")
	if err := document.Write(w, snap.Container, snap); err != nil {
		h.logger.Error("write document", "id", id, "error", err)
		return
	}
	_, _ = io.WriteString(w, "\n</body></html>\n")
}

func (h *handler) put(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	snap, err := store.Decode(data)
	if err == nil {
		err = verify(snap, h.cfg.ResumeOptions)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := store.Put(r.Context(), h.cfg.Store, id, snap, h.cfg.Format, h.cfg.TTL); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("snapshot stored", "id", id, "entries", snap.Len())
	w.WriteHeader(http.StatusNoContent)
}

// verify resumes snap and decodes every entry.
func verify(snap *snapshot.Snapshot, opts []snapshot.Option) error {
	c, g, err := snapshot.Resume(snap, opts...)
	if err != nil {
		return err
	}
	defer c.Dispose()
	for i := 0; i < snap.Len(); i++ {
		if _, err := g.Resolve(i); err != nil {
			return err
		}
	}
	return nil
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var nf store.NotFoundError
	if errors.As(err, &nf) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
