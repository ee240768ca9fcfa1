package resolver

import "testing"

func TestLinkClassification(t *testing.T) {
	t.Run("Watch URLs", func(t *testing.T) {
		valid := []string{
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			"https://youtube.com/watch?feature=shared&v=dQw4w9WgXcQ",
			"https://youtu.be/dQw4w9WgXcQ",
		}
		for _, u := range valid {
			if !isYouTubeWatchURL(u) {
				t.Errorf("expected watch URL: %s", u)
			}
		}

		invalid := []string{
			"dQw4w9WgXcQ",
			"https://example.com/watch?v=dQw4w9WgXcQ",
			"https://www.youtube.com/watch?v=short",
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1234567890",
		}
		for _, u := range invalid {
			if isYouTubeWatchURL(u) {
				t.Errorf("did not expect watch URL: %s", u)
			}
		}
	})

	t.Run("Playlist URLs", func(t *testing.T) {
		if !isYouTubePlaylistURL("https://www.youtube.com/playlist?list=PL1234567890") {
			t.Error("expected playlist URL")
		}
		if !isYouTubePlaylistURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1234567890") {
			t.Error("watch URL with a list param resolves as a playlist")
		}
		if isYouTubePlaylistURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ") {
			t.Error("did not expect playlist URL")
		}
	})

	t.Run("Spotify URLs", func(t *testing.T) {
		cases := []struct {
			url  string
			kind string
			id   string
		}{
			{"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", "track", "4uLU6hMCjMI75M1A2tKUQC"},
			{"https://open.spotify.com/intl-de/track/4uLU6hMCjMI75M1A2tKUQC", "track", "4uLU6hMCjMI75M1A2tKUQC"},
			{"https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", "playlist", "37i9dQZF1DXcBWIGoYBM5M"},
			{"https://open.spotify.com/album/6dVIqQ8qmQ5GBnJ9shOYGE", "album", "6dVIqQ8qmQ5GBnJ9shOYGE"},
		}
		for _, c := range cases {
			if !isSpotifyURL(c.url) {
				t.Errorf("expected spotify URL: %s", c.url)
				continue
			}
			kind, id, ok := parseSpotifyURL(c.url)
			if !ok || kind != c.kind || id != c.id {
				t.Errorf("parseSpotifyURL(%s) = (%s, %s, %v)", c.url, kind, id, ok)
			}
		}

		if isSpotifyURL("https://open.spotify.com/artist/0OdUWJ0sBjDrqHygGUXeCF") {
			t.Error("artist pages are not resolvable")
		}
	})
}

func TestParseColonDuration(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"0:45", 45},
		{"3:05", 185},
		{"1:02:03", 3723},
		{"", 0},
		{"live", 0},
	}
	for _, c := range cases {
		if got := parseColonDuration(c.in); got != c.want {
			t.Errorf("parseColonDuration(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
