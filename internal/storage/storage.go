package storage

import (
	"encoding/json"
	"fmt"

	"jukebird/datastore"
)

// Storage is the persistence layer: one JSON-backed record per guild
// holding the playback snapshot, the play history and guild settings.
type Storage struct {
	ds *datastore.DataStore
}

type Record struct {
	Snapshot      *SnapshotRecord `json:"snapshot,omitempty"`
	TracksHistory []HistoryRecord `json:"tracks_history"`
	Roles         map[string]string `json:"roles"`
}

func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

func (s *Storage) getOrCreateGuildRecord(guildID string) (*Record, error) {
	data, exists := s.ds.Get(guildID)
	if !exists {
		newRecord := &Record{
			TracksHistory: []HistoryRecord{},
			Roles:         map[string]string{},
		}
		s.ds.Set(guildID, newRecord)
		return newRecord, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error marshalling data: %w", err)
	}

	var record Record
	err = json.Unmarshal(jsonData, &record)
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling to *Record: %w", err)
	}

	if record.Roles == nil {
		record.Roles = map[string]string{}
	}

	if len(record.TracksHistory) > tracksHistoryLimit {
		record.TracksHistory = record.TracksHistory[len(record.TracksHistory)-tracksHistoryLimit:]
	}

	return &record, nil
}

// SetDJRole stores the role whose members bypass playback votes.
func (s *Storage) SetDJRole(guildID string, roleID string) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	record.Roles["dj"] = roleID
	s.ds.Set(guildID, record)
	return nil
}

func (s *Storage) DJRole(guildID string) (string, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return "", err
	}

	roleID, exists := record.Roles["dj"]
	if !exists {
		return "", fmt.Errorf("dj role not set for this guild")
	}

	return roleID, nil
}
