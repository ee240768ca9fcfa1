// /internal/config/config.go
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to system environment variables")
	}
}

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	StoragePath  string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	AudioCacheDir     string        `env:"AUDIO_CACHE_DIR" envDefault:".tracks"`
	DownloadMaxLength time.Duration `env:"DOWNLOAD_MAX_LENGTH" envDefault:"15m"`
	DownloadRetention time.Duration `env:"DOWNLOAD_RETENTION" envDefault:"720h"`

	SpotifyClientID     string `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string `env:"SPOTIFY_CLIENT_SECRET"`
	YouTubeProxy        string `env:"YOUTUBE_PROXY"`

	SearchCacheTTL     time.Duration `env:"SEARCH_CACHE_TTL" envDefault:"10m"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"5m"`

	IdleDisconnect time.Duration `env:"IDLE_DISCONNECT" envDefault:"5m"`
	VoteDeadline   time.Duration `env:"VOTE_DEADLINE" envDefault:"45s"`

	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"2m"`

	StatusAddr string `env:"STATUS_ADDR" envDefault:":8080"`
}

func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
