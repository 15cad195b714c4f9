// Package server exposes the stores over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bryan-buckman/skyvault/internal/database"
	"github.com/bryan-buckman/skyvault/internal/filter"
	"github.com/bryan-buckman/skyvault/internal/logging"
	"github.com/bryan-buckman/skyvault/internal/rss"
	"github.com/bryan-buckman/skyvault/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// refreshTimeout bounds a refresh triggered through the API.
const refreshTimeout = 5 * time.Minute

// Options holds the optional parts of a Server.
type Options struct {
	// Poller refreshes subscriptions in the background while serving; nil
	// disables it.
	Poller *rss.Poller
	// CORSOrigins lists the origins allowed to call the API.
	CORSOrigins []string
	// RefreshPerMinute limits POST /api/refresh per client IP. 0 means no limit.
	RefreshPerMinute int
}

// Server is the HTTP front of the stores.
type Server struct {
	stores  *database.Stores
	blocker *filter.Blocker
	fetcher *rss.Fetcher
	opts    Options
	router  chi.Router
	log     zerolog.Logger

	mu   sync.Mutex
	http *http.Server
}

// New creates a server.
func New(stores *database.Stores, blocker *filter.Blocker, fetcher *rss.Fetcher, opts Options) *Server {
	s := &Server{
		stores:  stores,
		blocker: blocker,
		fetcher: fetcher,
		opts:    opts,
		log:     logging.With().Str("component", "server").Logger(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	refreshLimit := func(next http.Handler) http.Handler { return next }
	if s.opts.RefreshPerMinute > 0 {
		refreshLimit = httprate.LimitByIP(s.opts.RefreshPerMinute, time.Minute)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleListSubscriptions)
			r.Post("/", s.handleSubscribe)
			r.Delete("/", s.handleUnsubscribeAll)
			r.Delete("/{channelID}", s.handleUnsubscribe)
			r.Post("/{channelID}/visit", s.handleVisit)
			r.Get("/{channelID}/new", s.handleHasNewVideos)
			r.Put("/{channelID}/category", s.handleSetChannelCategory)
		})
		r.Get("/feed", s.handleFeed)
		r.With(refreshLimit).Post("/refresh", s.handleRefresh)
		r.Post("/trim", s.handleTrim)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)

		r.Route("/bookmarks", func(r chi.Router) {
			r.Get("/", s.handleListBookmarks)
			r.Post("/", s.handleAddBookmark)
			r.Put("/order", s.handleReorderBookmarks)
			r.Delete("/{videoID}", s.handleRemoveBookmark)
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", s.handleListDownloads)
			r.Post("/", s.handleAddDownload)
			r.Put("/order", s.handleReorderDownloads)
			r.Post("/sweep", s.handleSweepDownloads)
			r.Delete("/{videoID}", s.handleRemoveDownload)
			r.Get("/{videoID}/status", s.handleDownloadStatus)
			r.Get("/{videoID}/segments", s.handleGetSegments)
			r.Put("/{videoID}/segments", s.handlePutSegments)
		})

		r.Route("/playback", func(r chi.Router) {
			r.Delete("/", s.handleDeletePlayback)
			r.Get("/{videoID}", s.handleGetPlayback)
			r.Post("/{videoID}/position", s.handleSetPosition)
			r.Post("/{videoID}/watched", s.handleSetWatched)
		})

		r.Route("/search-history", func(r chi.Router) {
			r.Get("/", s.handleSearchHistory)
			r.Post("/", s.handleAddSearch)
			r.Delete("/", s.handleClearSearchHistory)
			r.Delete("/{text}", s.handleDeleteSearch)
		})

		r.Route("/filters/{list}", func(r chi.Router) {
			r.Get("/", s.handleListFilter)
			r.Post("/", s.handleAddFilter)
			r.Delete("/{channelID}", s.handleRemoveFilter)
		})
		r.Post("/block", s.handleBlock)

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.handleListCategories)
			r.Post("/", s.handleAddCategory)
			r.Patch("/{categoryID}", s.handleUpdateCategory)
			r.Delete("/{categoryID}", s.handleDeleteCategory)
		})

		r.Get("/backup", s.handleGetBackup)
		r.Put("/backup", s.handlePutBackup)

		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWebSocket)
	})

	s.router = r
}

// Start starts the poller and serves until Stop is called.
func (s *Server) Start(addr string) error {
	if s.opts.Poller != nil {
		s.opts.Poller.Start()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down and stops the poller.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if s.opts.Poller != nil {
		s.opts.Poller.Stop()
	}
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeResult reports the outcome of a store mutation.
func (s *Server) writeResult(w http.ResponseWriter, res database.Result, err error) {
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": res.String()})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var fdErr *database.FileDeletionFailedError
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrOrderMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, filter.ErrChannelSubscribed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &fdErr):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "file deletion failed", "path": fdErr.Path})
	default:
		s.log.Error().Err(err).Msg("store error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return validation.Struct(v)
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}
