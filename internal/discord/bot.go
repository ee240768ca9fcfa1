package discord

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"

	"jukebird/internal/config"
	"jukebird/internal/music"
	"jukebird/internal/storage"
)

// Bot is the Discord-facing shell: it owns the gateway session, registers
// the slash commands and translates interactions into music service calls.
type Bot struct {
	dg      *discordgo.Session
	cfg     *config.Config
	svc     *music.Service
	storage *storage.Storage

	ready     chan struct{}
	readyOnce sync.Once
}

func New(dg *discordgo.Session, cfg *config.Config, svc *music.Service, store *storage.Storage) *Bot {
	return &Bot{
		dg:      dg,
		cfg:     cfg,
		svc:     svc,
		storage: store,
		ready:   make(chan struct{}),
	}
}

// Run opens the gateway session and serves until the context ends.
func (b *Bot) Run(ctx context.Context) error {
	b.configureIntents()
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onInteractionCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	log.Println("[INFO] ❎ Shutdown signal received. Cleaning up...")
	return nil
}

// WaitReady blocks until the gateway reports ready, or the context ends.
func (b *Bot) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	botInfo, err := s.User("@me")
	if err != nil {
		log.Println("[WARN] Error retrieving bot user:", err)
		return
	}

	for _, g := range r.Guilds {
		if err := b.registerCommands(g.ID); err != nil {
			log.Println("[ERR] Error registering slash commands for guild", g.ID, ":", err)
		}
	}

	log.Printf("[INFO] ✅ Discord bot %v is running.", botInfo.Username)
	b.readyOnce.Do(func() { close(b.ready) })
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	log.Printf("[INFO] Bot added to guild: %s (%s)", g.Guild.ID, g.Guild.Name)
	if err := b.registerCommands(g.Guild.ID); err != nil {
		log.Printf("[ERR] Failed to register commands for new guild %s: %v", g.Guild.ID, err)
	}
}

func (b *Bot) registerCommands(guildID string) error {
	var appID string
	if b.dg.State.User != nil {
		appID = b.dg.State.User.ID
	}
	if appID == "" {
		user, err := b.dg.User("@me")
		if err != nil {
			return err
		}
		appID = user.ID
	}

	_, err := b.dg.ApplicationCommandBulkOverwrite(appID, guildID, commandDefinitions())
	return err
}
