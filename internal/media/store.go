package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/technosupport/ts-monitor/internal/platform/paths"
)

var ErrAttachmentTooLarge = fmt.Errorf("attachment exceeds size ceiling")

// Store owns the on-disk media layout:
//
//	{root}/events/{event_id}/{n}.{ext}   alarm attachments, arrival order
//	{root}/live/{camera_id}/manifest.m3u8 + seg-{n}.ts
type Store struct {
	Root     string
	MaxBytes int64
}

func NewStore(root string, maxBytes int64) *Store {
	return &Store{Root: root, MaxBytes: maxBytes}
}

// SaveAttachment writes one attachment as {event_id}/{index}.{ext} and
// returns the path relative to the store root. Content larger than
// MaxBytes is rejected with ErrAttachmentTooLarge and nothing is kept.
func (s *Store) SaveAttachment(eventID string, index int, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	name := fmt.Sprintf("%d%s", index, ext)

	target, err := paths.SafeJoin(s.Root, "events", eventID, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return "", fmt.Errorf("create event dir: %w", err)
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Read one byte past the ceiling so oversize is detectable without
	// buffering the whole part.
	n, err := io.Copy(f, io.LimitReader(r, s.MaxBytes+1))
	if err != nil {
		os.Remove(target)
		return "", err
	}
	if n > s.MaxBytes {
		os.Remove(target)
		return "", ErrAttachmentTooLarge
	}

	return filepath.Join("events", eventID, name), nil
}

// LiveDir returns the HLS output directory for a camera, creating it.
func (s *Store) LiveDir(cameraID string) (string, error) {
	dir, err := paths.SafeJoin(s.Root, "live", cameraID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create live dir: %w", err)
	}
	return dir, nil
}

// ManifestPath is the playlist location inside a camera's live dir.
func (s *Store) ManifestPath(cameraID string) string {
	return filepath.Join(s.Root, "live", cameraID, "manifest.m3u8")
}

// NewestSegment returns the most recently modified seg-*.ts in a
// camera's live dir, or "" when none exist.
func (s *Store) NewestSegment(cameraID string) (string, os.FileInfo, error) {
	dir := filepath.Join(s.Root, "live", cameraID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}

	var newest string
	var newestInfo os.FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "seg-") || !strings.HasSuffix(e.Name(), ".ts") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newestInfo == nil || info.ModTime().After(newestInfo.ModTime()) {
			newest = filepath.Join(dir, e.Name())
			newestInfo = info
		}
	}
	if newest == "" {
		return "", nil, os.ErrNotExist
	}
	return newest, newestInfo, nil
}

// PruneSegments deletes all but the newest keep segments. The ffmpeg
// child already rotates its own window; this is the backstop for
// leftovers after a crash or restart.
func (s *Store) PruneSegments(cameraID string, keep int) error {
	dir := filepath.Join(s.Root, "live", cameraID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type segment struct {
		name string
		mod  time.Time
	}
	var segs []segment
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "seg-") || !strings.HasSuffix(e.Name(), ".ts") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		segs = append(segs, segment{name: e.Name(), mod: info.ModTime()})
	}
	if keep < 0 {
		keep = 0
	}
	if len(segs) <= keep {
		return nil
	}

	// Oldest first by mtime; lexical order lies across the seg-9 →
	// seg-10 index boundary.
	sort.Slice(segs, func(i, j int) bool { return segs[i].mod.Before(segs[j].mod) })
	for _, s := range segs[:len(segs)-keep] {
		_ = os.Remove(filepath.Join(dir, s.name))
	}
	return nil
}

// ClearLive removes a camera's live dir entirely (session torn down).
func (s *Store) ClearLive(cameraID string) error {
	dir, err := paths.SafeJoin(s.Root, "live", cameraID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
