package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"jukebird/internal/music/track"

	_ "github.com/bdandy/go-socks4"
	youtube "github.com/kkdai/youtube/v2"
	"github.com/ppalone/ytsearch"
	"golang.org/x/net/proxy"
)

// streamURLGrace is used when a signed URL carries no expire parameter;
// YouTube links are typically valid for about six hours.
const streamURLGrace = 5 * time.Hour

// YouTube implements VideoService over kkdai/youtube extraction and
// ytsearch queries, optionally through an HTTP/SOCKS proxy.
type YouTube struct {
	client *youtube.Client
	search *ytsearch.Client
}

func NewYouTube(proxyStr string) *YouTube {
	httpClient := newProxiedClient(proxyStr)
	return &YouTube{
		client: &youtube.Client{HTTPClient: httpClient},
		search: ytsearch.NewClient(httpClient),
	}
}

func (y *YouTube) Extract(ctx context.Context, watch string) (t track.Track, err error) {
	video, err := y.client.GetVideoContext(ctx, watch)
	if err != nil {
		return track.Track{}, classifyYouTubeErr(err)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return track.Track{}, fmt.Errorf("%w: no audio formats for %s", ErrNotFound, watch)
	}

	streamURL, err := y.client.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return track.Track{}, fmt.Errorf("%w: stream URL: %v", ErrSourceUnavailable, err)
	}

	t = track.Track{
		SourceURL:       watchURL(video.ID),
		Title:           video.Title,
		DurationSeconds: int(video.Duration.Seconds()),
		AudioStreamURL:  streamURL,
		AudioExpiry:     streamExpiry(streamURL),
	}
	if len(video.Thumbnails) > 0 {
		t.ThumbnailURL = video.Thumbnails[len(video.Thumbnails)-1].URL
	}
	return t, nil
}

func (y *YouTube) ExtractPlaylist(ctx context.Context, link string) ([]track.Track, error) {
	pl, err := y.client.GetPlaylistContext(ctx, link)
	if err != nil {
		return nil, classifyYouTubeErr(err)
	}
	if len(pl.Videos) == 0 {
		return nil, fmt.Errorf("%w: empty playlist", ErrNotFound)
	}

	tracks := make([]track.Track, 0, len(pl.Videos))
	for _, v := range pl.Videos {
		tracks = append(tracks, track.Track{
			SourceURL:       watchURL(v.ID),
			Title:           v.Title,
			DurationSeconds: int(v.Duration.Seconds()),
			Song:            &track.SongDetails{Artist: v.Author, Title: v.Title},
		})
	}
	log.Printf("[Resolver] Playlist %s enumerated, %d entr(y/ies)", pl.ID, len(tracks))
	return tracks, nil
}

func (y *YouTube) Search(ctx context.Context, query string, limit int) ([]track.SearchResult, error) {
	res, err := y.search.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrSourceUnavailable, err)
	}

	seen := make(map[string]struct{}, len(res.Results))
	var out []track.SearchResult
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		if _, dup := seen[v.VideoID]; dup {
			continue
		}
		seen[v.VideoID] = struct{}{}
		out = append(out, track.SearchResult{
			Title:       v.Title,
			ChannelName: v.Channel,
			URL:         watchURL(v.VideoID),
			Duration:    parseColonDuration(v.Duration),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func classifyYouTubeErr(err error) error {
	var pErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &pErr) {
		return fmt.Errorf("%w: %s", ErrNotFound, pErr.Reason)
	}
	if errors.Is(err, youtube.ErrVideoIDMinLength) || errors.Is(err, youtube.ErrInvalidCharactersInVideoID) {
		return ErrInvalidLink
	}
	return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}

// streamExpiry pulls the unix expiry out of a signed googlevideo URL.
func streamExpiry(streamURL string) int64 {
	u, err := url.Parse(streamURL)
	if err == nil {
		if e, err := strconv.ParseInt(u.Query().Get("expire"), 10, 64); err == nil && e > 0 {
			return e
		}
	}
	return time.Now().Add(streamURLGrace).Unix()
}

// newProxiedClient builds an HTTP client honoring an optional proxy URL with
// http, socks5 or socks4 scheme.
func newProxiedClient(proxyStr string) *http.Client {
	base := &http.Client{Timeout: 15 * time.Second}
	if proxyStr == "" {
		return base
	}

	proxyURL, err := url.Parse(proxyStr)
	if err != nil {
		log.Printf("[Resolver] Invalid proxy format %q: %v, going raw", proxyStr, err)
		return base
	}

	var transport *http.Transport
	switch proxyURL.Scheme {
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	case "socks5":
		auth := &proxy.Auth{}
		if proxyURL.User != nil {
			auth.User = proxyURL.User.Username()
			if pass, ok := proxyURL.User.Password(); ok {
				auth.Password = pass
			}
		}
		dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[Resolver] SOCKS5 dialer error: %v, going raw", err)
			return base
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	case "socks4":
		dialer, err := proxy.FromURL(proxyURL, &net.Dialer{Timeout: 10 * time.Second})
		if err != nil {
			log.Printf("[Resolver] SOCKS4 dialer error: %v, going raw", err)
			return base
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	default:
		log.Printf("[Resolver] Unsupported proxy scheme %q, going raw", proxyURL.Scheme)
		return base
	}

	log.Printf("[Resolver] Using %s proxy %s", proxyURL.Scheme, proxyURL.Host)
	base.Transport = transport
	return base
}
