package session

import (
	"log"
	"time"

	"jukebird/internal/music/track"
	"jukebird/internal/music/voice"
)

// runWorker is the playback loop. One worker per session, started through
// EnsureWorkerRunning. Each iteration streams the track under the cursor,
// then consults the pending action to decide where the cursor goes next.
// The worker exits when the queue is exhausted or the session closes; the
// session itself stays alive so new tracks can revive it.
func (s *Session) runWorker() {
	log.Printf("[Session] Worker started for guild %s", s.GuildID)

	defer func() {
		s.mu.Lock()
		s.workerRunning = false
		done := s.workerDone
		s.workerDone = nil
		s.mu.Unlock()
		if done != nil {
			close(done)
		}
		log.Printf("[Session] Worker stopped for guild %s", s.GuildID)
	}()

	for {
		s.mu.Lock()
		if s.closing || s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		if s.current < 0 {
			s.current = 0
		}
		if s.current >= len(s.queue) {
			// exhausted: the cursor stays one past the end so the
			// next Enqueue lands right under it
			s.state = StateConnected
			s.progress = 0
			s.startIdleTimerLocked()
			s.mu.Unlock()
			return
		}
		s.stopIdleTimerLocked()

		t := s.queue[s.current]
		gen := s.generation
		stop := make(chan struct{})
		s.streamStop = stop
		s.streamStopped = false
		s.pending = actionNone
		startSec := s.progress
		if s.paused.Load() {
			s.state = StatePaused
		} else {
			s.state = StatePlaying
		}
		s.mu.Unlock()

		if t.Expired(time.Now()) {
			fresh, err := s.deps.Tracks.Refresh(s.ctx, t)
			if err != nil {
				log.Printf("[Session] Refresh failed for %q in guild %s: %v", t.Title, s.GuildID, err)
				s.mu.Lock()
				s.emitStatus(StatusError)
				if s.generation == gen {
					s.progress = 0
					s.advanceSkippedLocked()
					s.generation++
				}
				s.mu.Unlock()
				continue
			}
			s.mu.Lock()
			if s.generation == gen && s.current < len(s.queue) {
				s.queue[s.current] = fresh
			}
			s.mu.Unlock()
			t = fresh
		}

		src := voice.Source{URL: t.AudioStreamURL, StartSec: startSec}
		if s.deps.Local != nil {
			if path, ok := s.deps.Local.LocalPath(t.SourceURL); ok {
				src = voice.Source{LocalPath: path, StartSec: startSec}
			}
		}

		s.mu.Lock()
		s.emitStatus(StatusPlaying)
		handle := s.handle
		s.mu.Unlock()

		log.Printf("[Session] Now playing %q in guild %s", t.Title, s.GuildID)
		err := s.deps.Transport.Stream(s.ctx, handle, src, voice.StreamOptions{
			Stop:     stop,
			Paused:   s.paused.Load,
			Progress: s.setProgress,
		})
		if err != nil && s.ctx.Err() == nil {
			log.Printf("[Session] Stream failed for %q in guild %s: %v", t.Title, s.GuildID, err)
		}

		s.mu.Lock()
		s.interruptLocked()
		switch s.pending {
		case actionStop:
			s.mu.Unlock()
			return
		case actionJump, actionSeek:
			// the mutation already positioned the cursor and progress
			s.pending = actionNone
			s.mu.Unlock()
			continue
		case actionSkip:
			s.recordHistoryLocked(t)
			s.progress = 0
			s.advanceSkippedLocked()
		default:
			if err == nil {
				s.recordHistoryLocked(t)
			}
			s.progress = 0
			if err == nil {
				s.advanceNaturalLocked()
			} else {
				// a broken track must not loop forever under One
				s.advanceSkippedLocked()
			}
		}
		s.generation++
		s.mu.Unlock()
	}
}

// advanceNaturalLocked moves the cursor after a track finished on its own.
func (s *Session) advanceNaturalLocked() {
	switch s.loopMode {
	case LoopOne:
		// stay
	case LoopAll:
		if len(s.queue) > 0 {
			s.current = (s.current + 1) % len(s.queue)
		}
	default:
		s.current++
	}
}

// advanceSkippedLocked moves the cursor after an explicit skip or a failed
// track. LoopOne does not pin a skipped track.
func (s *Session) advanceSkippedLocked() {
	if s.loopMode == LoopAll && len(s.queue) > 0 {
		s.current = (s.current + 1) % len(s.queue)
		return
	}
	s.current++
}

func (s *Session) setProgress(seconds int) {
	s.mu.Lock()
	s.progress = seconds
	s.mu.Unlock()
}

func (s *Session) recordHistoryLocked(t track.Track) {
	if s.deps.History == nil {
		return
	}
	if err := s.deps.History.AddHistoryEntry(s.GuildID, t); err != nil {
		log.Printf("[Session] History write failed for guild %s: %v", s.GuildID, err)
	}
}
