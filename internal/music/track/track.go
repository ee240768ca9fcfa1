// Package track holds the playable-item types shared by the resolver,
// queue, cache and persistence layers.
package track

import "time"

// SongDetails is the artist/title pair used for lyric lookups. It is only
// populated when the source carried structured metadata (Spotify, playlists
// with uploader info).
type SongDetails struct {
	Artist string `json:"artist,omitempty"`
	Title  string `json:"title,omitempty"`
}

// Track is one resolved playable item. Values are treated as immutable once
// resolved; sessions copy them into their queues.
type Track struct {
	SourceURL       string       `json:"source_url"`
	Title           string       `json:"title"`
	DurationSeconds int          `json:"duration_seconds"`
	ThumbnailURL    string       `json:"thumbnail_url,omitempty"`
	AudioStreamURL  string       `json:"audio_stream_url,omitempty"`
	AudioExpiry     int64        `json:"audio_expiry,omitempty"` // unix seconds
	AddedByUserID   string       `json:"added_by,omitempty"`
	Song            *SongDetails `json:"song,omitempty"`
}

// Expired reports whether the signed audio stream URL is past its expiry.
// A track with no expiry recorded is treated as expired so it gets
// re-resolved before playback rather than played on a stale URL.
func (t Track) Expired(now time.Time) bool {
	if t.AudioStreamURL == "" {
		return true
	}
	if t.AudioExpiry == 0 {
		return true
	}
	return now.Unix() >= t.AudioExpiry
}

// SearchResult is one ranked hit for a free-text query.
type SearchResult struct {
	Title       string `json:"title"`
	ChannelName string `json:"channel_name,omitempty"`
	URL         string `json:"url"`
	Duration    int    `json:"duration_seconds,omitempty"`
}
