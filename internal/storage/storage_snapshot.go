package storage

import (
	"time"

	"jukebird/internal/music/track"
)

// SnapshotRecord is one guild's saved playback state, written periodically
// and on shutdown so a restart can pick up where it stopped.
type SnapshotRecord struct {
	GuildID         string        `json:"guild_id"`
	VoiceChannelID  string        `json:"voice_channel_id"`
	TextChannelID   string        `json:"text_channel_id"`
	Queue           []track.Track `json:"queue"`
	CurrentIndex    int           `json:"current_index"`
	LoopMode        string        `json:"loop_mode"`
	Paused          bool          `json:"paused"`
	ProgressSeconds int           `json:"progress_seconds"`
	SavedAt         time.Time     `json:"saved_at"`
}

func (s *Storage) SaveSnapshot(rec SnapshotRecord) error {
	record, err := s.getOrCreateGuildRecord(rec.GuildID)
	if err != nil {
		return err
	}

	record.Snapshot = &rec
	s.ds.Set(rec.GuildID, record)
	return nil
}

// LoadSnapshots returns every saved snapshot across all guilds.
func (s *Storage) LoadSnapshots() ([]SnapshotRecord, error) {
	var out []SnapshotRecord
	for _, guildID := range s.ds.Keys() {
		record, err := s.getOrCreateGuildRecord(guildID)
		if err != nil {
			return nil, err
		}
		if record.Snapshot != nil {
			out = append(out, *record.Snapshot)
		}
	}
	return out, nil
}

// ClearSnapshot drops one guild's snapshot, keeping its history and roles.
func (s *Storage) ClearSnapshot(guildID string) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	if record.Snapshot == nil {
		return nil
	}
	record.Snapshot = nil
	s.ds.Set(guildID, record)
	return nil
}

// ClearSnapshots drops every guild's snapshot. Called once recovery has
// consumed them, so a crash during recovery does not replay stale state.
func (s *Storage) ClearSnapshots() error {
	for _, guildID := range s.ds.Keys() {
		if err := s.ClearSnapshot(guildID); err != nil {
			return err
		}
	}
	return nil
}
