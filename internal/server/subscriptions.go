package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bryan-buckman/skyvault/internal/database"
	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/bryan-buckman/skyvault/internal/opml"
	"github.com/go-chi/chi/v5"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 500
	maxOPMLSize      = 10 << 20
)

type subscribeRequest struct {
	ChannelID       string        `json:"channel_id" validate:"required"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	ThumbnailURL    string        `json:"thumbnail_url"`
	BannerURL       string        `json:"banner_url"`
	SubscriberCount int64         `json:"subscriber_count" validate:"gte=0"`
	Videos          []model.Video `json:"videos"`
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channels, err := s.stores.Subscriptions.SubscribedChannelsByText(r.Context(), q.Get("q"), q.Get("sort") == "alpha")
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if channels == nil {
		channels = []model.ChannelView{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ch := model.Channel{
		ID:              req.ChannelID,
		Title:           req.Title,
		Description:     req.Description,
		ThumbnailURL:    req.ThumbnailURL,
		BannerURL:       req.BannerURL,
		SubscriberCount: req.SubscriberCount,
	}
	res, err := s.stores.Subscriptions.Subscribe(r.Context(), ch, req.Videos)
	s.writeResult(w, res, err)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	res, err := s.stores.Subscriptions.Unsubscribe(r.Context(), chi.URLParam(r, "channelID"))
	s.writeResult(w, res, err)
}

func (s *Server) handleUnsubscribeAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.stores.Subscriptions.UnsubscribeAll(r.Context())
	s.writeResult(w, res, err)
}

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	ts, err := s.stores.Subscriptions.UpdateLastVisitTime(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"last_visit_time": ts})
}

func (s *Server) handleHasNewVideos(w http.ResponseWriter, r *http.Request) {
	hasNew, err := s.stores.Subscriptions.ChannelHasNewVideos(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_new_videos": hasNew})
}

type categoryAssignment struct {
	CategoryID *int64 `json:"category_id"`
}

func (s *Server) handleSetChannelCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryAssignment
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.stores.Subscriptions.SetChannelCategory(r.Context(), chi.URLParam(r, "channelID"), req.CategoryID)
	s.writeResult(w, res, err)
}

type feedResponse struct {
	Videos []model.Video         `json:"videos"`
	Next   *database.FeedCursor `json:"next,omitempty"`
}

// handleFeed serves the subscription feed, newest first, with blocked
// channels removed. Paging continues from the next cursor of the previous
// response (before_ts and before_id).
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultFeedLimit)
	if err != nil || limit <= 0 || limit > maxFeedLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxFeedLimit))
		return
	}
	var cursor *database.FeedCursor
	if id := r.URL.Query().Get("before_id"); id != "" {
		ts, err := queryInt(r, "before_ts", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cursor = &database.FeedCursor{PublishTimestamp: ts, VideoID: id}
	}

	videos, next, err := s.stores.Subscriptions.VideoPage(r.Context(), int(limit), cursor)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	visible, err := s.blocker.Filter(r.Context(), videos)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if visible == nil {
		visible = []model.Video{}
	}
	writeJSON(w, http.StatusOK, feedResponse{Videos: visible, Next: next})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	results, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("refresh incomplete")
	}
	total := 0
	for _, n := range results {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels":   len(results),
		"new_videos": total,
		"results":    results,
	})
}

func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	n, err := s.stores.Subscriptions.TrimSubscriptionVideos(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type importResponse struct {
	Imported int      `json:"imported"`
	Existing int      `json:"existing"`
	Skipped  []string `json:"skipped"`
}

// handleImportOPML subscribes to every channel of an uploaded OPML file.
// The file is read from the "opml" form field, or from the raw body when
// the request is not multipart.
func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxOPMLSize)

	var entries []opml.Entry
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, ferr := r.FormFile("opml")
		if ferr != nil {
			writeError(w, http.StatusBadRequest, "missing opml file")
			return
		}
		defer file.Close()
		entries, err = opml.Parse(file)
	} else {
		entries, err = opml.Parse(r.Body)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	categoryIDs := make(map[string]int64)
	resp := importResponse{Skipped: []string{}}
	for _, e := range entries {
		if e.NeedsLookup {
			resp.Skipped = append(resp.Skipped, e.ChannelID)
			continue
		}
		res, err := s.stores.Subscriptions.Subscribe(ctx, model.Channel{ID: e.ChannelID, Title: e.Title}, nil)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if res == database.ResultNotModified {
			resp.Existing++
			continue
		}
		resp.Imported++

		if e.Category == "" {
			continue
		}
		id, err := s.categoryID(ctx, categoryIDs, e.Category)
		if err == nil {
			_, err = s.stores.Subscriptions.SetChannelCategory(ctx, e.ChannelID, &id)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("channel", e.ChannelID).Str("category", e.Category).
				Msg("imported channel left uncategorized")
		}
	}

	s.log.Info().Int("imported", resp.Imported).Int("skipped", len(resp.Skipped)).Msg("opml import finished")
	writeJSON(w, http.StatusOK, resp)
}

// categoryID resolves an OPML folder label to a category, creating a user
// category when neither a stored nor a translated label matches.
func (s *Server) categoryID(ctx context.Context, cache map[string]int64, label string) (int64, error) {
	if id, ok := cache[label]; ok {
		return id, nil
	}
	id, ok, err := s.stores.Categories.Lookup(ctx, label)
	if err != nil {
		return 0, err
	}
	if !ok {
		if _, err := s.stores.Categories.Add(ctx, label, ""); err != nil {
			return 0, err
		}
		if id, ok, err = s.stores.Categories.Lookup(ctx, label); err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("category %q not found after insert", label)
		}
	}
	cache[label] = id
	return id, nil
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channels, err := s.stores.Subscriptions.SubscribedChannels(ctx)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	cats, err := s.stores.Categories.List(ctx, false)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	labels := make(map[int64]string, len(cats))
	for _, c := range cats {
		labels[c.ID] = c.Label
	}

	data, err := opml.Export(channels, labels)
	if err != nil {
		s.log.Error().Err(err).Msg("opml export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/x-opml")
	w.Header().Set("Content-Disposition", "attachment; filename=subscriptions.opml")
	_, _ = w.Write(data)
}
