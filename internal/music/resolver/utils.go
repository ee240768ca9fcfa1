package resolver

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	watchPattern    = regexp.MustCompile(`(?:youtube\.com/watch\?[^\s]*v=|youtu\.be/)([A-Za-z0-9_-]{11})`)
	playlistPattern = regexp.MustCompile(`youtube\.com/(?:playlist\?[^\s]*|watch\?[^\s]*)list=([A-Za-z0-9_-]+)`)
	spotifyPattern  = regexp.MustCompile(`open\.spotify\.com/(?:intl-[a-z]{2}/)?(track|playlist|album)/([A-Za-z0-9]+)`)
)

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isYouTubeWatchURL(s string) bool {
	return isURL(s) && watchPattern.MatchString(s) && !playlistPattern.MatchString(s)
}

func isYouTubePlaylistURL(s string) bool {
	return isURL(s) && playlistPattern.MatchString(s)
}

func isSpotifyURL(s string) bool {
	return isURL(s) && spotifyPattern.MatchString(s)
}

func parseSpotifyURL(s string) (kind, id string, ok bool) {
	m := spotifyPattern.FindStringSubmatch(s)
	if len(m) != 3 {
		return "", "", false
	}
	return m[1], m[2], true
}

// watchURL builds the canonical watch URL for a video id.
func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// parseColonDuration turns "h:mm:ss" or "m:ss" into seconds. Search APIs
// report durations as display strings.
func parseColonDuration(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}
