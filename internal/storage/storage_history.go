package storage

import (
	"time"

	"jukebird/internal/music/track"
)

const tracksHistoryLimit int = 12

type HistoryRecord struct {
	Track    track.Track `json:"track"`
	PlayedAt time.Time   `json:"played_at"`
}

// AddHistoryEntry appends a consumed track to the guild's play history,
// keeping only the most recent entries.
func (s *Storage) AddHistoryEntry(guildID string, t track.Track) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	record.TracksHistory = append(record.TracksHistory, HistoryRecord{
		Track:    t,
		PlayedAt: time.Now(),
	})
	if len(record.TracksHistory) > tracksHistoryLimit {
		record.TracksHistory = record.TracksHistory[len(record.TracksHistory)-tracksHistoryLimit:]
	}
	s.ds.Set(guildID, record)
	return nil
}

// History returns the guild's play history, newest last.
func (s *Storage) History(guildID string) ([]HistoryRecord, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return nil, err
	}

	return record.TracksHistory, nil
}
