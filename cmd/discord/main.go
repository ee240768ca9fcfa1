// cmd/discord/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"jukebird/internal/config"
	"jukebird/internal/discord"
	"jukebird/internal/music"
	"jukebird/internal/music/download"
	"jukebird/internal/music/resolver"
	"jukebird/internal/music/session"
	"jukebird/internal/music/snapshot"
	"jukebird/internal/music/trackcache"
	"jukebird/internal/music/voice"
	"jukebird/internal/music/vote"
	"jukebird/internal/statusapi"
	"jukebird/internal/storage"
	v "jukebird/internal/version"
	"jukebird/pkg/jobmgr"
)

func main() {
	log.Printf("[INFO] Starting %v bot...", v.AppName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		log.Fatal(err)
	}

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Fatal("[ERR] Failed to create Discord session: ", err)
	}

	downloader, err := download.New(cfg.AudioCacheDir, cfg.YouTubeProxy)
	if err != nil {
		log.Fatal("[ERR] Failed to prepare audio cache: ", err)
	}
	cache := trackcache.New(cfg.SearchCacheTTL)
	youtube := resolver.NewYouTube(cfg.YouTubeProxy)

	var spotify resolver.MetadataService
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		sp, err := resolver.NewSpotify(ctx, cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		if err != nil {
			log.Fatal("[ERR] Failed to build Spotify client: ", err)
		}
		spotify = sp
	} else {
		log.Println("[WARN] Spotify credentials missing, Spotify links disabled")
	}

	res := resolver.New(youtube, spotify, cache, downloader, cfg.DownloadMaxLength)

	registry := session.NewRegistry(session.Deps{
		Transport:      voice.NewDiscordTransport(dg),
		Tracks:         res,
		Local:          downloader,
		History:        store,
		IdleDisconnect: cfg.IdleDisconnect,
	})

	svc := music.NewService(registry, res, vote.NewController(), store, cfg.VoteDeadline)
	bot := discord.New(dg, cfg, svc, store)
	keeper := snapshot.NewKeeper(registry, store)

	jobs := jobmgr.NewManager(func(msg string) {
		log.Println("[INFO] Job:", msg)
	})
	mustStart := func(name string, runner func(ctx context.Context) error) {
		if err := jobs.StartAsync(name, runner); err != nil {
			log.Fatalf("[ERR] Failed to start %s: %v", name, err)
		}
	}
	mustStart("downloader", downloader.Run)
	mustStart("cache-sweeper", func(ctx context.Context) error {
		return cache.Run(ctx, cfg.CacheSweepInterval)
	})
	mustStart("snapshotter", func(ctx context.Context) error {
		return keeper.Run(ctx, cfg.SnapshotInterval)
	})
	if cfg.StatusAddr != "" {
		mustStart("statusapi", statusapi.New(registry, cfg.StatusAddr).Run)
	}
	if pruned := downloader.Prune(cfg.DownloadRetention); pruned > 0 {
		log.Printf("[INFO] Pruned %d stale audio file(s)", pruned)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := bot.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	// bring back whatever was playing before the last shutdown
	go func() {
		readyCtx, readyCancel := context.WithTimeout(ctx, time.Minute)
		defer readyCancel()
		if err := bot.WaitReady(readyCtx); err != nil {
			return
		}
		if err := keeper.Recover(ctx, bot.ChannelHasListeners); err != nil {
			log.Println("[ERR] Session recovery failed:", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("[INFO] Received signal %s, shutting down...\n", s)
	case err := <-errCh:
		if err != nil {
			log.Println("[ERR] Discord bot error:", err)
		}
	case <-ctx.Done():
	}

	if err := keeper.SaveAll(); err != nil {
		log.Println("[ERR] Final snapshot failed:", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	registry.Shutdown(shutdownCtx)
	shutdownCancel()
	cancel()

	log.Println("[INFO] Discord bot exited cleanly")
}
