// Spotify Web API client, metadata only. Spotify never provides audio here;
// track names are re-resolved through YouTube search.
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"jukebird/internal/music/track"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// Spotify pages at 50; worst case fetch is bounded at 500 items so a
	// ten-thousand-track playlist cannot stall resolution.
	spotifyPageSize  = 50
	spotifyItemLimit = 500
)

type spotifyArtist struct {
	Name string `json:"name"`
}

type spotifyTrack struct {
	Name    string          `json:"name"`
	Artists []spotifyArtist `json:"artists"`
}

type spotifyPlaylistItem struct {
	Track spotifyTrack `json:"track"`
}

type spotifyPage[T any] struct {
	Items []T    `json:"items"`
	Next  string `json:"next"`
	Total int    `json:"total"`
}

// Spotify implements MetadataService with client-credentials auth.
type Spotify struct {
	http *http.Client
}

func NewSpotify(ctx context.Context, clientID, clientSecret string) (*Spotify, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("spotify client id and secret are required")
	}

	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyTokenURL,
	}

	c := conf.Client(ctx)
	c.Timeout = 10 * time.Second
	return &Spotify{http: c}, nil
}

func (s *Spotify) TrackDetails(ctx context.Context, id string) (track.SongDetails, error) {
	var t spotifyTrack
	if err := s.getJSON(ctx, fmt.Sprintf("%s/tracks/%s", spotifyBaseURL, id), &t); err != nil {
		return track.SongDetails{}, err
	}
	return songDetails(t), nil
}

func (s *Spotify) PlaylistTrackDetails(ctx context.Context, id string) ([]track.SongDetails, error) {
	var out []track.SongDetails
	for offset := 0; offset < spotifyItemLimit; offset += spotifyPageSize {
		var page spotifyPage[spotifyPlaylistItem]
		url := fmt.Sprintf("%s/playlists/%s/tracks?limit=%d&offset=%d", spotifyBaseURL, id, spotifyPageSize, offset)
		if err := s.getJSON(ctx, url, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.Track.Name == "" {
				continue // removed or local-only entries come back empty
			}
			out = append(out, songDetails(item.Track))
		}
		if page.Next == "" {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *Spotify) AlbumTrackDetails(ctx context.Context, id string) ([]track.SongDetails, error) {
	var out []track.SongDetails
	for offset := 0; offset < spotifyItemLimit; offset += spotifyPageSize {
		var page spotifyPage[spotifyTrack]
		url := fmt.Sprintf("%s/albums/%s/tracks?limit=%d&offset=%d", spotifyBaseURL, id, spotifyPageSize, offset)
		if err := s.getJSON(ctx, url, &page); err != nil {
			return nil, err
		}
		for _, t := range page.Items {
			out = append(out, songDetails(t))
		}
		if page.Next == "" {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *Spotify) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: spotify auth rejected (%d)", ErrSourceUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &spotifyHTTPError{
			status: resp.StatusCode,
			msg:    fmt.Sprintf("spotify returned %d: %s", resp.StatusCode, body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrSourceUnavailable, err)
	}
	return nil
}

// spotifyHTTPError keeps the status code visible to the retry layer, which
// backs off differently on 429s and 5xx.
type spotifyHTTPError struct {
	status int
	msg    string
}

func (e *spotifyHTTPError) Error() string { return e.msg }

func (e *spotifyHTTPError) StatusCode() int { return e.status }

func (e *spotifyHTTPError) Unwrap() error { return ErrSourceUnavailable }

func songDetails(t spotifyTrack) track.SongDetails {
	d := track.SongDetails{Title: t.Name}
	if len(t.Artists) > 0 {
		d.Artist = t.Artists[0].Name
	}
	return d
}
