package server

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bryan-buckman/skyvault/internal/database"
	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/go-chi/chi/v5"
)

const defaultPageSize = 20

type pageResponse struct {
	Videos []model.Video `json:"videos"`
	Next   int64         `json:"next,omitempty"`
}

type orderRequest struct {
	IDs []string `json:"ids" validate:"required,dive,required"`
}

// pager is the paging part shared by bookmarks and downloads.
type pager interface {
	Page(ctx context.Context, before int64, limit int) ([]model.Video, int64, error)
}

func (s *Server) writePage(w http.ResponseWriter, r *http.Request, p pager) {
	before, err := queryInt(r, "before", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	videos, next, err := p.Page(r.Context(), before, int(limit))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if videos == nil {
		videos = []model.Video{}
	}
	writeJSON(w, http.StatusOK, pageResponse{Videos: videos, Next: next})
}

// decodeVideo reads a video snapshot body. Only the id is mandatory.
func decodeVideo(w http.ResponseWriter, r *http.Request, v *model.Video) bool {
	if err := decode(r, v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if v.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return false
	}
	return true
}

// --- Bookmarks ---

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, r, s.stores.Bookmarks)
}

func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request) {
	var v model.Video
	if !decodeVideo(w, r, &v) {
		return
	}
	res, err := s.stores.Bookmarks.Add(r.Context(), v)
	s.writeResult(w, res, err)
}

func (s *Server) handleRemoveBookmark(w http.ResponseWriter, r *http.Request) {
	res, err := s.stores.Bookmarks.Remove(r.Context(), chi.URLParam(r, "videoID"))
	s.writeResult(w, res, err)
}

func (s *Server) handleReorderBookmarks(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.stores.Bookmarks.Reorder(r.Context(), req.IDs)
	s.writeResult(w, database.ResultSuccess, err)
}

// --- Downloads ---

type downloadRequest struct {
	Video    model.Video `json:"video"`
	FileURI  string      `json:"file_uri" validate:"required_without=AudioURI"`
	AudioURI string      `json:"audio_uri"`
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, r, s.stores.Downloads)
}

func (s *Server) handleAddDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Video.ID == "" {
		writeError(w, http.StatusBadRequest, "video.id is required")
		return
	}
	res, err := s.stores.Downloads.Add(r.Context(), req.Video, req.FileURI, req.AudioURI)
	s.writeResult(w, res, err)
}

func (s *Server) handleRemoveDownload(w http.ResponseWriter, r *http.Request) {
	res, err := s.stores.Downloads.RemoveDownload(r.Context(), chi.URLParam(r, "videoID"))
	s.writeResult(w, res, err)
}

func (s *Server) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "videoID")
	downloaded, err := s.stores.Downloads.IsDownloaded(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !downloaded {
		writeError(w, http.StatusNotFound, "video not downloaded")
		return
	}
	st, err := s.stores.Downloads.DownloadedFileStatus(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReorderDownloads(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.stores.Downloads.Reorder(r.Context(), req.IDs)
	s.writeResult(w, database.ResultSuccess, err)
}

func (s *Server) handleSweepDownloads(w http.ResponseWriter, r *http.Request) {
	n, err := s.stores.Downloads.RemoveMissing(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleGetSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := s.stores.Downloads.SponsorSegments(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if segs == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, segs)
}

func (s *Server) handlePutSegments(w http.ResponseWriter, r *http.Request) {
	var segs model.SponsorSegments
	if err := decode(r, &segs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.stores.Downloads.SetSponsorSegments(r.Context(), chi.URLParam(r, "videoID"), &segs)
	s.writeResult(w, res, err)
}

// --- Playback ---

type playbackResponse struct {
	model.WatchedStatus
	State         string `json:"state"`
	UpdateCounter int64  `json:"update_counter"`
}

type positionRequest struct {
	DurationSeconds int   `json:"duration_seconds" validate:"gte=0"`
	PositionMs      int64 `json:"position_ms" validate:"gte=0"`
}

type watchedRequest struct {
	Watched bool `json:"watched"`
}

func (s *Server) handleGetPlayback(w http.ResponseWriter, r *http.Request) {
	st, err := s.stores.Playback.Status(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playbackResponse{
		WatchedStatus: st,
		State:         st.State().String(),
		UpdateCounter: s.stores.Playback.UpdateCounter(),
	})
}

func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.stores.Playback.SetPosition(r.Context(), chi.URLParam(r, "videoID"), req.DurationSeconds, req.PositionMs)
	s.writeResult(w, res, err)
}

func (s *Server) handleSetWatched(w http.ResponseWriter, r *http.Request) {
	var req watchedRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.stores.Playback.SetWatched(r.Context(), chi.URLParam(r, "videoID"), req.Watched)
	s.writeResult(w, res, err)
}

func (s *Server) handleDeletePlayback(w http.ResponseWriter, r *http.Request) {
	res, err := s.stores.Playback.DeleteAll(r.Context())
	s.writeResult(w, res, err)
}

// --- Search history ---

type searchRequest struct {
	Text string `json:"text" validate:"required"`
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.stores.SearchHistory.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []model.SearchEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.stores.SearchHistory.Insert(r.Context(), req.Text)
	s.writeResult(w, res, err)
}

// handleDeleteSearch forgets one query. chi matches on RawPath when the
// request has one, leaving the parameter escaped; otherwise it is already
// decoded and must not be unescaped again.
func (s *Server) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	text := chi.URLParam(r, "text")
	if r.URL.RawPath != "" {
		var err error
		if text, err = url.PathUnescape(text); err != nil {
			writeError(w, http.StatusBadRequest, "invalid search text")
			return
		}
	}
	res, err := s.stores.SearchHistory.Delete(r.Context(), text)
	s.writeResult(w, res, err)
}

func (s *Server) handleClearSearchHistory(w http.ResponseWriter, r *http.Request) {
	res, err := s.stores.SearchHistory.DeleteAll(r.Context())
	s.writeResult(w, res, err)
}

// --- Channel filters ---

type filterRequest struct {
	ChannelID string `json:"channel_id" validate:"required"`
	Name      string `json:"name"`
}

func filterList(w http.ResponseWriter, r *http.Request) (database.FilterList, bool) {
	list, err := database.ParseFilterList(chi.URLParam(r, "list"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return list, true
}

func (s *Server) handleListFilter(w http.ResponseWriter, r *http.Request) {
	list, ok := filterList(w, r)
	if !ok {
		return
	}
	chans, err := s.stores.Filtering.Channels(r.Context(), list)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if chans == nil {
		chans = []model.FilteredChannel{}
	}
	writeJSON(w, http.StatusOK, chans)
}

func (s *Server) handleAddFilter(w http.ResponseWriter, r *http.Request) {
	list, ok := filterList(w, r)
	if !ok {
		return
	}
	var req filterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.stores.Filtering.Add(r.Context(), list, req.ChannelID, req.Name)
	s.writeResult(w, res, err)
}

func (s *Server) handleRemoveFilter(w http.ResponseWriter, r *http.Request) {
	list, ok := filterList(w, r)
	if !ok {
		return
	}
	res, err := s.stores.Filtering.Remove(r.Context(), list, chi.URLParam(r, "channelID"))
	s.writeResult(w, res, err)
}

// handleBlock hides a channel according to the configured filter mode.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.blocker.BlockChannel(r.Context(), req.ChannelID, req.Name)
	s.writeResult(w, res, err)
}

// --- Categories ---

type categoryRequest struct {
	Label string `json:"label" validate:"required,max=100"`
	Icon  string `json:"icon"`
}

type categoryUpdate struct {
	Label   *string `json:"label" validate:"omitempty,min=1,max=100"`
	Enabled *bool   `json:"enabled"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	onlyEnabled := r.URL.Query().Get("enabled") == "true"
	cats, err := s.stores.Categories.List(r.Context(), onlyEnabled)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if cats == nil {
		cats = []model.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.stores.Categories.Add(r.Context(), req.Label, req.Icon)
	s.writeResult(w, res, err)
}

func categoryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "categoryID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r)
	if !ok {
		return
	}
	var req categoryUpdate
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := database.ResultNotModified
	if req.Label != nil {
		out, err := s.stores.Categories.Rename(r.Context(), id, *req.Label)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		res = out
	}
	if req.Enabled != nil {
		out, err := s.stores.Categories.SetEnabled(r.Context(), id, *req.Enabled)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if out == database.ResultSuccess {
			res = out
		}
	}
	s.writeResult(w, res, nil)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r)
	if !ok {
		return
	}
	res, err := s.stores.Categories.Delete(r.Context(), id)
	s.writeResult(w, res, err)
}

// --- Backup ---

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	data, err := s.stores.Backup.Load(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handlePutBackup(w http.ResponseWriter, r *http.Request) {
	var data model.BackupData
	if err := decode(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.stores.Backup.Save(r.Context(), data)
	s.writeResult(w, res, err)
}
