package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/bryan-buckman/skyvault/internal/model"
	"github.com/goccy/go-json"
)

// FileDeletionFailedError is returned by RemoveDownload when a local file
// could not be deleted. The database row is kept so the removal can be retried.
type FileDeletionFailedError struct {
	Path string
	Err  error
}

func (e *FileDeletionFailedError) Error() string {
	return fmt.Sprintf("delete %s: %v", e.Path, e.Err)
}

func (e *FileDeletionFailedError) Unwrap() error { return e.Err }

// DownloadOptions mirrors the user's download settings.
type DownloadOptions struct {
	// Root is the downloads directory.
	Root string
	// SeparateFolders is set when every download gets its own sub folder of Root.
	SeparateFolders bool
}

// Downloads is the videodownloads.db store.
type Downloads struct {
	*orderedStore
	opts DownloadOptions
}

// NewDownloads wraps an open videodownloads.db.
func NewDownloads(db *DB, opts DownloadOptions) *Downloads {
	return &Downloads{
		orderedStore: newOrderedStore(db, tableDownloads, "downloads"),
		opts:         opts,
	}
}

// Add records a finished download. Either uri may be empty.
func (d *Downloads) Add(ctx context.Context, v model.Video, fileURI, audioURI string) (Result, error) {
	return d.insert(ctx, &v, []string{"File_URI", "Audio_URI"}, nullString(fileURI), nullString(audioURI))
}

// IsDownloaded reports whether the video has a download row.
func (d *Downloads) IsDownloaded(ctx context.Context, videoID string) (bool, error) {
	return d.Contains(ctx, videoID)
}

// VideoFileURI returns the stored video file uri.
func (d *Downloads) VideoFileURI(ctx context.Context, videoID string) (string, error) {
	videoURI, _, found, err := d.uris(ctx, videoID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound
	}
	return videoURI, nil
}

func (d *Downloads) uris(ctx context.Context, videoID string) (videoURI, audioURI string, found bool, err error) {
	var v, a sql.NullString
	err = d.db.conn.QueryRowContext(ctx,
		"SELECT File_URI, Audio_URI FROM DownloadedVideos WHERE YouTube_Video_Id = ?", videoID).Scan(&v, &a)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("lookup download %s: %w", videoID, err)
	}
	return v.String, a.String, true, nil
}

// RemoveDownload deletes the audio file, the video file and then the row.
// A file that cannot be deleted aborts with *FileDeletionFailedError and
// leaves the row in place. With separate folders enabled the emptied
// download folder is removed as well, but only when it sits directly in
// the downloads root.
func (d *Downloads) RemoveDownload(ctx context.Context, videoID string) (Result, error) {
	videoURI, audioURI, found, err := d.uris(ctx, videoID)
	if err != nil {
		return ResultError, err
	}
	if !found {
		return ResultNotModified, nil
	}

	// the folder of an audio-only download is found through its audio file
	var folderOf string
	if audioURI != "" {
		folderOf = uriToPath(audioURI)
		if err := deleteFile(folderOf); err != nil {
			return ResultError, err
		}
	}
	if videoURI != "" {
		folderOf = uriToPath(videoURI)
		if err := deleteFile(folderOf); err != nil {
			return ResultError, err
		}
	}

	res, err := d.Remove(ctx, videoID)
	if err != nil {
		return res, err
	}
	if d.opts.SeparateFolders && folderOf != "" {
		d.removeEmptyFolder(filepath.Dir(folderOf))
	}
	return res, nil
}

// removeEmptyFolder deletes dir if it is empty and its parent is the
// downloads root.
func (d *Downloads) removeEmptyFolder(dir string) {
	if d.opts.Root == "" {
		return
	}
	root, err := filepath.Abs(d.opts.Root)
	if err != nil {
		return
	}
	abs, err := filepath.Abs(dir)
	if err != nil || filepath.Dir(abs) != root {
		return
	}
	entries, err := os.ReadDir(abs)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(abs); err != nil {
		d.db.log.Warn().Err(err).Str("dir", abs).Msg("could not remove download folder")
	}
}

// DownloadedFileStatus checks that the files of a download still exist. If
// one vanished the stale row is removed and Disappeared is reported, so the
// caller can fall back to streaming. Unknown ids return a zero status.
func (d *Downloads) DownloadedFileStatus(ctx context.Context, videoID string) (model.DownloadStatus, error) {
	videoURI, audioURI, found, err := d.uris(ctx, videoID)
	if err != nil || !found {
		return model.DownloadStatus{}, err
	}
	if !filesMissing(videoURI, audioURI) {
		return model.DownloadStatus{URI: videoURI, AudioURI: audioURI}, nil
	}

	d.db.log.Info().Str("video", videoID).Msg("downloaded file disappeared, removing row")
	if _, err := d.Remove(ctx, videoID); err != nil {
		return model.DownloadStatus{}, err
	}
	return model.DownloadStatus{Disappeared: true}, nil
}

// RemoveMissing drops every row whose files no longer exist and returns how
// many were removed.
func (d *Downloads) RemoveMissing(ctx context.Context) (int, error) {
	type entry struct{ id, video, audio string }

	rows, err := d.db.conn.QueryContext(ctx, "SELECT YouTube_Video_Id, File_URI, Audio_URI FROM DownloadedVideos")
	if err != nil {
		return 0, err
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var v, a sql.NullString
		if err := rows.Scan(&e.id, &v, &a); err != nil {
			rows.Close()
			return 0, err
		}
		e.video, e.audio = v.String, a.String
		entries = append(entries, e)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !filesMissing(e.video, e.audio) {
			continue
		}
		res, err := d.Remove(ctx, e.id)
		if err != nil {
			return removed, err
		}
		if res == ResultSuccess {
			removed++
		}
	}
	if removed > 0 {
		d.db.log.Info().Int("removed", removed).Msg("removed downloads with missing files")
	}
	return removed, nil
}

// SetSponsorSegments stores the segments for a downloaded video.
func (d *Downloads) SetSponsorSegments(ctx context.Context, videoID string, segs *model.SponsorSegments) (Result, error) {
	var blob any
	if segs != nil {
		b, err := json.Marshal(segs)
		if err != nil {
			return ResultError, fmt.Errorf("encode sponsor segments: %w", err)
		}
		blob = string(b)
	}
	res, err := d.db.conn.ExecContext(ctx,
		"UPDATE DownloadedVideos SET Sponsor_Segments = ? WHERE YouTube_Video_Id = ?", blob, videoID)
	if err != nil {
		return ResultError, fmt.Errorf("store sponsor segments %s: %w", videoID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ResultNotModified, nil
	}
	return ResultSuccess, nil
}

// SponsorSegments returns the stored segments, or nil when there are none.
func (d *Downloads) SponsorSegments(ctx context.Context, videoID string) (*model.SponsorSegments, error) {
	var raw sql.NullString
	err := d.db.conn.QueryRowContext(ctx,
		"SELECT Sponsor_Segments FROM DownloadedVideos WHERE YouTube_Video_Id = ?", videoID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var segs model.SponsorSegments
	if err := json.Unmarshal([]byte(raw.String), &segs); err != nil {
		return nil, fmt.Errorf("decode sponsor segments %s: %w", videoID, err)
	}
	return &segs, nil
}

func filesMissing(uris ...string) bool {
	for _, u := range uris {
		if u == "" {
			continue
		}
		if _, err := os.Stat(uriToPath(u)); errors.Is(err, fs.ErrNotExist) {
			return true
		}
	}
	return false
}

func deleteFile(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &FileDeletionFailedError{Path: path, Err: err}
}

// uriToPath accepts file:// URLs and plain paths.
func uriToPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return u.Path
	}
	return uri
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
