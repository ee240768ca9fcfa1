// Package download pre-fetches audio for tracks likely to be replayed.
// Downloads are a latency optimization only: playback always works from the
// signed stream URL when no local copy exists, so failures here are logged
// and dropped, never surfaced.
package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

const queueCapacity = 64

// Metadata is the sidecar record written next to each cached audio file.
// It is written only after the audio write succeeded, so a metadata file's
// presence implies a complete audio file.
type Metadata struct {
	SourceURL    string    `json:"source_url"`
	DownloadedAt time.Time `json:"downloaded_at"`
	SizeBytes    int64     `json:"size_bytes"`
}

type Downloader struct {
	dir      string
	proxyURL string
	queue    chan string
}

func New(dir, proxyURL string) (*Downloader, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audio cache dir: %w", err)
	}
	return &Downloader{
		dir:      dir,
		proxyURL: proxyURL,
		queue:    make(chan string, queueCapacity),
	}, nil
}

// Enqueue queues a source URL for pre-fetch. Non-blocking: when the queue is
// full the item is dropped, since a missed download only costs latency.
func (d *Downloader) Enqueue(sourceURL string) {
	select {
	case d.queue <- sourceURL:
	default:
		log.Printf("[Downloader] Queue full, dropping %s", sourceURL)
	}
}

// Run consumes the queue until ctx is done. A single consumer bounds
// bandwidth and guarantees no two writers touch the same file.
func (d *Downloader) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sourceURL := <-d.queue:
			if _, ok := d.LocalPath(sourceURL); ok {
				continue
			}
			if err := d.fetch(ctx, sourceURL); err != nil {
				log.Printf("[Downloader] Fetch failed for %s: %v", sourceURL, err)
			}
		}
	}
}

// LocalPath reports the completed local audio copy for a source URL, if one
// exists. Only copies with an intact metadata sidecar count.
func (d *Downloader) LocalPath(sourceURL string) (string, bool) {
	id := stableID(sourceURL)
	audio := d.audioPath(id)

	meta, err := os.ReadFile(d.metaPath(id))
	if err != nil {
		return "", false
	}
	var m Metadata
	if err := json.Unmarshal(meta, &m); err != nil {
		return "", false
	}

	info, err := os.Stat(audio)
	if err != nil || info.Size() != m.SizeBytes {
		return "", false
	}
	return audio, true
}

// Prune removes cached audio not touched within the retention window.
func (d *Downloader) Prune(retention time.Duration) int {
	matches, err := filepath.Glob(filepath.Join(d.dir, "*.m4a"))
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, audio := range matches {
		info, err := os.Stat(audio)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		id := trimExt(filepath.Base(audio))
		os.Remove(d.metaPath(id))
		os.Remove(audio)
		removed++
	}
	if removed > 0 {
		log.Printf("[Downloader] Pruned %d stale audio file(s)", removed)
	}
	return removed
}

// fetch downloads audio to a .part file, renames it into place, then writes
// the metadata sidecar.
func (d *Downloader) fetch(ctx context.Context, sourceURL string) error {
	id := stableID(sourceURL)
	audio := d.audioPath(id)
	part := audio + ".part"

	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		NoPlaylist().
		NoCheckCertificates().
		Format("bestaudio[ext=m4a]/bestaudio/best").
		Output(part)
	if d.proxyURL != "" {
		cmd = cmd.Proxy(d.proxyURL)
	}

	log.Printf("[Downloader] Fetching %s -> %s", sourceURL, audio)
	if _, err := cmd.Run(ctx, sourceURL); err != nil {
		os.Remove(part)
		return fmt.Errorf("yt-dlp: %w", err)
	}

	info, err := os.Stat(part)
	if err != nil {
		return fmt.Errorf("downloaded file missing: %w", err)
	}

	if err := os.Rename(part, audio); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to move audio into place: %w", err)
	}

	meta, err := json.Marshal(Metadata{
		SourceURL:    sourceURL,
		DownloadedAt: time.Now(),
		SizeBytes:    info.Size(),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.metaPath(id), meta, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	log.Printf("[Downloader] Cached %s (%d bytes)", sourceURL, info.Size())
	return nil
}

func (d *Downloader) audioPath(id string) string {
	return filepath.Join(d.dir, id+".m4a")
}

func (d *Downloader) metaPath(id string) string {
	return filepath.Join(d.dir, id+".json")
}

// stableID derives the on-disk name from the source URL, so repeated
// enqueues of the same track hit the same file.
func stableID(sourceURL string) string {
	sum := sha1.Sum([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
