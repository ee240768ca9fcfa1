package discord

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"jukebird/internal/music/track"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	integerOption := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        name,
			Description: desc,
			Required:    true,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a track, playlist or search query",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "YouTube/Spotify link or search text",
					Required:    true,
				},
			},
		},
		{Name: "pause", Description: "Pause playback"},
		{Name: "resume", Description: "Resume playback"},
		{Name: "skip", Description: "Skip the current track"},
		{Name: "stop", Description: "Stop playback and leave the voice channel"},
		{Name: "now", Description: "Show the current track and queue"},
		{Name: "shuffle", Description: "Shuffle the queue"},
		{Name: "loop", Description: "Cycle the loop mode (None, All, One)"},
		{Name: "history", Description: "Show recently played tracks"},
		{
			Name:        "remove",
			Description: "Remove a track from the queue",
			Options:     []*discordgo.ApplicationCommandOption{integerOption("index", "Queue position, starting at 1")},
		},
		{
			Name:        "move",
			Description: "Move a track to another queue position",
			Options: []*discordgo.ApplicationCommandOption{
				integerOption("from", "Current position, starting at 1"),
				integerOption("to", "Target position, starting at 1"),
			},
		},
		{
			Name:        "jumpto",
			Description: "Jump to a track in the queue",
			Options:     []*discordgo.ApplicationCommandOption{integerOption("index", "Queue position, starting at 1")},
		},
		{
			Name:        "seek",
			Description: "Seek within the current track",
			Options:     []*discordgo.ApplicationCommandOption{integerOption("seconds", "Offset from the track start in seconds")},
		},
		{
			Name:        "djrole",
			Description: "Set the role that bypasses playback votes",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "The DJ role",
					Required:    true,
				},
			},
		},
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		// votes can hold a command open well past the interaction
		// acknowledge window
		go b.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Member == nil || i.Member.User == nil {
		return
	}
	name := i.ApplicationCommandData().Name
	userID := i.Member.User.ID
	guildID := i.GuildID

	deferResponse(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.VoteDeadline+time.Minute)
	defer cancel()

	msg, err := b.dispatch(ctx, s, i, name, guildID, userID)
	if err != nil {
		editResponse(s, i, "❌ "+err.Error())
		return
	}
	editResponse(s, i, msg)
}

func (b *Bot) dispatch(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, name, guildID, userID string) (string, error) {
	if name == "djrole" {
		return b.handleDJRole(i, guildID)
	}
	if name == "history" {
		return b.handleHistory(guildID)
	}
	if name == "now" {
		return b.handleNowPlaying(guildID)
	}

	actor, voiceChannelID, err := b.actorFor(guildID, userID)
	if err != nil {
		return "", err
	}
	if !actor.Exempt() {
		b.announceVote(s, i.ChannelID, userID, name)
	}

	switch name {
	case "play":
		query := i.ApplicationCommandData().Options[0].StringValue()
		res, err := b.svc.Play(ctx, guildID, voiceChannelID, i.ChannelID, query, actor)
		if err != nil {
			return "", err
		}
		if len(res.Search) > 0 {
			return formatSearchResults(res.Search), nil
		}
		if len(res.Queued) == 1 {
			return fmt.Sprintf("🎶 Queued **%s**", res.Queued[0].Title), nil
		}
		return fmt.Sprintf("🎶 Queued **%d** tracks", len(res.Queued)), nil
	case "pause":
		return "⏸ Paused", b.svc.Pause(ctx, guildID, actor)
	case "resume":
		return "▶️ Resumed", b.svc.Resume(ctx, guildID, actor)
	case "skip":
		return "⏭ Skipped", b.svc.Skip(ctx, guildID, actor)
	case "stop":
		return "👋 Stopped and left the voice channel", b.svc.Leave(ctx, guildID, actor)
	case "shuffle":
		return "🔀 Queue shuffled", b.svc.Shuffle(ctx, guildID, actor)
	case "loop":
		mode, err := b.svc.CycleLoopMode(ctx, guildID, actor)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("🔁 Loop mode: **%s**", mode), nil
	case "remove":
		index := int(i.ApplicationCommandData().Options[0].IntValue()) - 1
		removed, err := b.svc.Remove(ctx, guildID, index, actor)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("🗑 Removed **%s**", removed.Title), nil
	case "move":
		opts := i.ApplicationCommandData().Options
		from := int(opts[0].IntValue()) - 1
		to := int(opts[1].IntValue()) - 1
		return "↕️ Track moved", b.svc.Move(ctx, guildID, from, to, actor)
	case "jumpto":
		index := int(i.ApplicationCommandData().Options[0].IntValue()) - 1
		return "⏭ Jumped", b.svc.SkipTo(ctx, guildID, index, actor)
	case "seek":
		seconds := int(i.ApplicationCommandData().Options[0].IntValue())
		return fmt.Sprintf("⏩ Seeked to %s", formatDuration(seconds)), b.svc.Seek(ctx, guildID, seconds, actor)
	default:
		return "", fmt.Errorf("unknown command: %s", name)
	}
}

func (b *Bot) handleDJRole(i *discordgo.InteractionCreate, guildID string) (string, error) {
	perms := i.Member.Permissions
	if perms&discordgo.PermissionManageServer == 0 {
		return "", fmt.Errorf("managing the DJ role needs the Manage Server permission")
	}
	role := i.ApplicationCommandData().Options[0].RoleValue(b.dg, guildID)
	if role == nil {
		return "", fmt.Errorf("role not found")
	}
	if err := b.storage.SetDJRole(guildID, role.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("🎧 DJ role set to **%s**", role.Name), nil
}

func (b *Bot) handleHistory(guildID string) (string, error) {
	entries, err := b.svc.History(guildID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No tracks played yet.", nil
	}
	var sb strings.Builder
	sb.WriteString("**Recently played:**\n")
	for idx := len(entries) - 1; idx >= 0; idx-- {
		e := entries[idx]
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", len(entries)-idx, e.Track.Title, formatDuration(e.Track.DurationSeconds)))
	}
	return sb.String(), nil
}

func (b *Bot) handleNowPlaying(guildID string) (string, error) {
	current, progress, queue, err := b.svc.NowPlaying(guildID)
	if err != nil {
		if len(queue) == 0 {
			return "", err
		}
		return formatQueue(queue, -1), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🎵 **%s** [%s / %s]\n", current.Title, formatDuration(progress), formatDuration(current.DurationSeconds)))
	sb.WriteString(formatQueue(queue, indexOf(queue, current)))
	return sb.String(), nil
}

// announceVote posts the approval prompt with yes/no buttons.
func (b *Bot) announceVote(s *discordgo.Session, channelID, requesterID, action string) {
	_, err := s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("🗳 <@%s> wants to **%s**. Vote now!", requesterID, action),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Yes", Style: discordgo.SuccessButton, CustomID: "vote_yes"},
					discordgo.Button{Label: "No", Style: discordgo.DangerButton, CustomID: "vote_no"},
				},
			},
		},
	})
	if err != nil {
		log.Printf("[ERR] Failed to post vote prompt in channel %s: %v", channelID, err)
	}
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Member == nil || i.Member.User == nil {
		return
	}
	customID := i.MessageComponentData().CustomID
	if customID != "vote_yes" && customID != "vote_no" {
		log.Printf("[WARN] No matching component for customID: %s", customID)
		return
	}

	err := b.svc.CastVote(i.GuildID, i.Member.User.ID, customID == "vote_yes")
	content := "✅ Vote counted"
	if err != nil {
		content = "❌ " + err.Error()
	}
	respondEphemeral(s, i, content)
}

func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		log.Printf("[ERR] Failed to defer interaction: %v", err)
	}
}

func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	if err != nil {
		log.Printf("[ERR] Failed to edit interaction response: %v", err)
	}
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("[ERR] Failed to respond to interaction: %v", err)
	}
}

func formatSearchResults(results []track.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("🔍 Top matches, run `/play` with a link to queue one:\n")
	for n, r := range results {
		sb.WriteString(fmt.Sprintf("%d. [%s](%s) by %s (%s)\n", n+1, r.Title, r.URL, r.ChannelName, formatDuration(r.Duration)))
	}
	return sb.String()
}

func formatQueue(queue []track.Track, current int) string {
	if len(queue) == 0 {
		return "The queue is empty."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Queue (%d):**\n", len(queue)))
	for n, t := range queue {
		marker := "  "
		if n == current {
			marker = "▶ "
		}
		sb.WriteString(fmt.Sprintf("%s%d. %s (%s)\n", marker, n+1, t.Title, formatDuration(t.DurationSeconds)))
	}
	return sb.String()
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "live"
	}
	d := time.Duration(seconds) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func indexOf(queue []track.Track, t track.Track) int {
	for n, q := range queue {
		if q.SourceURL == t.SourceURL {
			return n
		}
	}
	return -1
}
