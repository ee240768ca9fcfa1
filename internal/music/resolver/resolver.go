// Package resolver turns user input (URL or search phrase) into playable
// track records. YouTube links are extracted directly, Spotify links are
// mapped to YouTube via search, anything else is treated as free text.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"jukebird/internal/music/track"
	"jukebird/internal/music/trackcache"
	"jukebird/pkg/retrylimit"
)

var (
	ErrInvalidLink       = errors.New("malformed or unsupported link")
	ErrNotFound          = errors.New("no matching track found")
	ErrSourceUnavailable = errors.New("upstream source unavailable")
)

const searchResultLimit = 10

// VideoService is the YouTube side of resolution.
type VideoService interface {
	Extract(ctx context.Context, url string) (track.Track, error)
	ExtractPlaylist(ctx context.Context, url string) ([]track.Track, error)
	Search(ctx context.Context, query string, limit int) ([]track.SearchResult, error)
}

// MetadataService is the Spotify side: names only, never audio.
type MetadataService interface {
	TrackDetails(ctx context.Context, id string) (track.SongDetails, error)
	PlaylistTrackDetails(ctx context.Context, id string) ([]track.SongDetails, error)
	AlbumTrackDetails(ctx context.Context, id string) ([]track.SongDetails, error)
}

// DownloadQueue receives source URLs worth pre-fetching.
type DownloadQueue interface {
	Enqueue(sourceURL string)
}

// Result carries either resolved tracks or ranked search hits, never both.
type Result struct {
	Tracks []track.Track
	Search []track.SearchResult
}

type Resolver struct {
	videos    VideoService
	metadata  MetadataService
	cache     *trackcache.Cache
	downloads DownloadQueue

	// tracks longer than this are not worth persisting locally
	downloadMaxLength time.Duration

	limiter *retrylimit.AdaptiveLimiter
}

func New(videos VideoService, metadata MetadataService, cache *trackcache.Cache, downloads DownloadQueue, downloadMaxLength time.Duration) *Resolver {
	return &Resolver{
		videos:            videos,
		metadata:          metadata,
		cache:             cache,
		downloads:         downloads,
		downloadMaxLength: downloadMaxLength,
		limiter:           retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5),
	}
}

// Resolve classifies input and returns tracks or search results. Successful
// resolutions are cached by input; single tracks short enough to persist are
// handed to the download queue.
func (r *Resolver) Resolve(ctx context.Context, input, requesterID string) (Result, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Result{}, ErrInvalidLink
	}

	if e, ok := r.cache.Get(input); ok {
		log.Printf("[Resolver] Cache hit for %q", input)
		return r.entryResult(e, requesterID), nil
	}

	var (
		res Result
		err error
	)

	switch {
	case isYouTubePlaylistURL(input):
		res.Tracks, err = r.videos.ExtractPlaylist(ctx, input)
	case isYouTubeWatchURL(input):
		var t track.Track
		t, err = r.videos.Extract(ctx, input)
		if err == nil {
			res.Tracks = []track.Track{t}
		}
	case isSpotifyURL(input):
		res.Tracks, err = r.resolveSpotify(ctx, input)
	case isURL(input):
		return Result{}, ErrInvalidLink
	default:
		res.Search, err = r.videos.Search(ctx, input, searchResultLimit)
		if err == nil && len(res.Search) == 0 {
			err = ErrNotFound
		}
	}

	if err != nil {
		log.Printf("[Resolver] Failed to resolve %q: %v", input, err)
		return Result{}, err
	}

	r.cacheResult(input, res)
	r.maybeEnqueueDownloads(res.Tracks)

	return r.stamp(res, requesterID), nil
}

// Refresh re-resolves a track whose signed stream URL has expired, keeping
// the caller-supplied fields that extraction does not know about.
func (r *Resolver) Refresh(ctx context.Context, t track.Track) (track.Track, error) {
	fresh, err := r.videos.Extract(ctx, t.SourceURL)
	if err != nil {
		return track.Track{}, fmt.Errorf("refresh of %s failed: %w", t.SourceURL, err)
	}

	fresh.AddedByUserID = t.AddedByUserID
	if t.Song != nil {
		fresh.Song = t.Song
	}
	r.cache.Put(t.SourceURL, trackcache.Entry{Kind: trackcache.KindTracks, Tracks: []track.Track{fresh}})
	return fresh, nil
}

// resolveSpotify fetches names from the Spotify metadata API, then finds the
// top YouTube hit for each. A transient metadata failure is retried once.
func (r *Resolver) resolveSpotify(ctx context.Context, input string) ([]track.Track, error) {
	if r.metadata == nil {
		return nil, fmt.Errorf("%w: spotify credentials not configured", ErrSourceUnavailable)
	}

	kind, id, ok := parseSpotifyURL(input)
	if !ok {
		return nil, ErrInvalidLink
	}

	var details []track.SongDetails
	err := retrylimit.WithRetryMax(ctx, func() error {
		var ferr error
		switch kind {
		case "track":
			var d track.SongDetails
			d, ferr = r.metadata.TrackDetails(ctx, id)
			details = []track.SongDetails{d}
		case "playlist":
			details, ferr = r.metadata.PlaylistTrackDetails(ctx, id)
		case "album":
			details, ferr = r.metadata.AlbumTrackDetails(ctx, id)
		}
		if errors.Is(ferr, ErrNotFound) || errors.Is(ferr, ErrInvalidLink) {
			return &retrylimit.FatalError{Err: ferr}
		}
		return ferr
	}, r.limiter, 2)
	if err != nil {
		var fatal *retrylimit.FatalError
		if errors.As(err, &fatal) {
			return nil, fatal.Err
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	tracks := make([]track.Track, 0, len(details))
	for _, d := range details {
		query := strings.TrimSpace(d.Artist + " " + d.Title)
		hits, err := r.videos.Search(ctx, query, 1)
		if err != nil || len(hits) == 0 {
			log.Printf("[Resolver] No YouTube match for spotify track %q, skipping", query)
			continue
		}
		song := d
		tracks = append(tracks, track.Track{
			SourceURL:       hits[0].URL,
			Title:           hits[0].Title,
			DurationSeconds: hits[0].Duration,
			Song:            &song,
		})
	}

	if len(tracks) == 0 {
		return nil, ErrNotFound
	}
	return tracks, nil
}

// cacheResult hands the cache its own private copy of the slices; entries
// must never share a backing array with what callers hold.
func (r *Resolver) cacheResult(input string, res Result) {
	if len(res.Search) > 0 {
		search := append([]track.SearchResult(nil), res.Search...)
		r.cache.Put(input, trackcache.Entry{Kind: trackcache.KindSearch, Search: search})
		return
	}
	tracks := append([]track.Track(nil), res.Tracks...)
	r.cache.Put(input, trackcache.Entry{Kind: trackcache.KindTracks, Tracks: tracks})
}

func (r *Resolver) maybeEnqueueDownloads(tracks []track.Track) {
	if r.downloads == nil || len(tracks) != 1 {
		return
	}
	t := tracks[0]
	if t.DurationSeconds == 0 || time.Duration(t.DurationSeconds)*time.Second > r.downloadMaxLength {
		return
	}
	r.downloads.Enqueue(t.SourceURL)
}

func (r *Resolver) entryResult(e trackcache.Entry, requesterID string) Result {
	if e.Kind == trackcache.KindSearch {
		return Result{Search: append([]track.SearchResult(nil), e.Search...)}
	}
	return r.stamp(Result{Tracks: e.Tracks}, requesterID)
}

// stamp records the requester on a copy of the tracks. The copy matters: the
// input slice may be owned by the cache, which must never see these writes.
func (r *Resolver) stamp(res Result, requesterID string) Result {
	if len(res.Tracks) == 0 {
		return res
	}
	tracks := append([]track.Track(nil), res.Tracks...)
	for i := range tracks {
		tracks[i].AddedByUserID = requesterID
	}
	res.Tracks = tracks
	return res
}
