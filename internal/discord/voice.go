package discord

import (
	"errors"
	"fmt"

	"jukebird/internal/music"
)

var ErrNotInVoice = errors.New("you need to be in a voice channel first")

// FindUserVoiceState returns the voice channel a user currently sits in.
func (b *Bot) FindUserVoiceState(guildID, userID string) (string, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("guild %s not in state: %w", guildID, err)
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, nil
		}
	}
	return "", ErrNotInVoice
}

// ChannelHasListeners reports whether any non-bot user sits in the given
// voice channel. Recovery uses this to decide whether a snapshot is still
// worth resuming.
func (b *Bot) ChannelHasListeners(guildID, channelID string) bool {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return false
	}
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		member, err := b.dg.State.Member(guildID, vs.UserID)
		if err != nil || member.User == nil || member.User.Bot {
			continue
		}
		return true
	}
	return false
}

// eligibleVoters lists the non-bot users in a voice channel.
func (b *Bot) eligibleVoters(guildID, channelID string) []string {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return nil
	}
	var voters []string
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		member, err := b.dg.State.Member(guildID, vs.UserID)
		if err != nil || member.User == nil || member.User.Bot {
			continue
		}
		voters = append(voters, vs.UserID)
	}
	return voters
}

// actorFor builds the vote-gating context for the interaction's invoker.
// The returned channel ID is the voice channel the actor sits in.
func (b *Bot) actorFor(guildID, userID string) (music.Actor, string, error) {
	channelID, err := b.FindUserVoiceState(guildID, userID)
	if err != nil {
		return music.Actor{}, "", err
	}

	actor := music.Actor{
		UserID:         userID,
		EligibleVoters: b.eligibleVoters(guildID, channelID),
	}

	if guild, err := b.dg.State.Guild(guildID); err == nil {
		actor.IsOwner = guild.OwnerID == userID
	}

	if djRole, err := b.storage.DJRole(guildID); err == nil && djRole != "" {
		if member, err := b.dg.State.Member(guildID, userID); err == nil {
			for _, roleID := range member.Roles {
				if roleID == djRole {
					actor.IsDJ = true
					break
				}
			}
		}
	}

	return actor, channelID, nil
}
