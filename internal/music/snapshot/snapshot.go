// Package snapshot persists live session state and brings it back after a
// restart.
package snapshot

import (
	"context"
	"log"
	"time"

	"jukebird/internal/music/session"
	"jukebird/internal/music/track"
	"jukebird/internal/storage"
)

// MembershipCheck reports whether the bot can still resume in the given
// voice channel, that is the channel exists and somebody is listening.
type MembershipCheck func(guildID, voiceChannelID string) bool

type Keeper struct {
	registry *session.Registry
	store    *storage.Storage
}

func NewKeeper(registry *session.Registry, store *storage.Storage) *Keeper {
	return &Keeper{registry: registry, store: store}
}

// SaveAll snapshots every connected session. Sessions that went quiet have
// their stale snapshot cleared instead, so a restart does not resurrect a
// queue the guild already finished.
func (k *Keeper) SaveAll() error {
	var firstErr error
	for _, s := range k.registry.Active() {
		if s.State() == session.StateDisconnected {
			continue
		}
		queue := s.Queue()
		if len(queue) == 0 {
			if err := k.store.ClearSnapshot(s.GuildID); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		rec := storage.SnapshotRecord{
			GuildID:         s.GuildID,
			VoiceChannelID:  s.VoiceChannelID(),
			TextChannelID:   s.TextChannelID(),
			Queue:           queue,
			CurrentIndex:    s.CurrentIndex(),
			LoopMode:        s.LoopMode().String(),
			Paused:          s.Paused(),
			ProgressSeconds: s.Progress(),
			SavedAt:         time.Now(),
		}
		if err := k.store.SaveSnapshot(rec); err != nil {
			log.Printf("[Snapshot] Save failed for guild %s: %v", s.GuildID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run snapshots on a fixed cadence until the context ends, then takes one
// final snapshot on the way out.
func (k *Keeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := k.SaveAll(); err != nil {
				log.Printf("[Snapshot] Final save failed: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := k.SaveAll(); err != nil {
				log.Printf("[Snapshot] Periodic save failed: %v", err)
			}
		}
	}
}

// Recover rebuilds sessions from saved snapshots. Guilds whose voice
// channel is gone or empty are skipped. Expired stream URLs are blanked so
// the worker re-resolves them on first play. Snapshots are cleared only
// after the whole pass succeeds; a crash mid-recovery replays the same
// snapshot next start.
func (k *Keeper) Recover(ctx context.Context, stillValid MembershipCheck) error {
	snapshots, err := k.store.LoadSnapshots()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	restored := 0
	for _, rec := range snapshots {
		if stillValid != nil && !stillValid(rec.GuildID, rec.VoiceChannelID) {
			log.Printf("[Snapshot] Skipping guild %s, voice channel %s no longer valid", rec.GuildID, rec.VoiceChannelID)
			continue
		}

		queue := make([]track.Track, 0, len(rec.Queue))
		now := time.Now()
		for _, t := range rec.Queue {
			if t.Expired(now) {
				t.AudioStreamURL = ""
				t.AudioExpiry = 0
			}
			queue = append(queue, t)
		}

		_, err := k.registry.Restore(ctx, session.RestoreState{
			GuildID:        rec.GuildID,
			VoiceChannelID: rec.VoiceChannelID,
			TextChannelID:  rec.TextChannelID,
			Queue:          queue,
			CurrentIndex:   rec.CurrentIndex,
			Loop:           parseLoopMode(rec.LoopMode),
			Paused:         rec.Paused,
			Progress:       rec.ProgressSeconds,
		})
		if err != nil {
			log.Printf("[Snapshot] Restore failed for guild %s: %v", rec.GuildID, err)
			continue
		}
		restored++
	}

	log.Printf("[Snapshot] Recovered %d of %d snapshot(s)", restored, len(snapshots))
	return k.store.ClearSnapshots()
}

func parseLoopMode(s string) session.LoopMode {
	switch s {
	case session.LoopAll.String():
		return session.LoopAll
	case session.LoopOne.String():
		return session.LoopOne
	default:
		return session.LoopNone
	}
}
