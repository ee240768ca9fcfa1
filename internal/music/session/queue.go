package session

import (
	"fmt"
	"math/rand"

	"jukebird/internal/music/track"
)

// Enqueue appends tracks to the end of the queue. When the queue was
// exhausted, the playback cursor already points one past the old end, so
// the first appended track becomes the next one played.
func (s *Session) Enqueue(tracks ...track.Track) {
	if len(tracks) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, tracks...)
	s.generation++
	s.emitStatus(StatusAdded)
	s.mu.Unlock()
}

// EnqueueAt inserts a track at the given position, clamped to the queue
// bounds. Inserting at or before the playing track shifts it forward; the
// cursor follows so the same track keeps playing.
func (s *Session) EnqueueAt(pos int, t track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos < 0 {
		pos = 0
	}
	if pos > len(s.queue) {
		pos = len(s.queue)
	}
	s.queue = append(s.queue, track.Track{})
	copy(s.queue[pos+1:], s.queue[pos:])
	s.queue[pos] = t
	if pos <= s.current && s.current < len(s.queue)-1 && s.hasActiveTrackLocked() {
		s.current++
	}
	s.generation++
	s.emitStatus(StatusAdded)
}

// Remove drops the track at index i. Removing the playing track is refused;
// skip it instead.
func (s *Session) Remove(i int) (track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.queue) {
		return track.Track{}, fmt.Errorf("%w: index %d", ErrTrackNotFound, i)
	}
	if i == s.current && s.hasActiveTrackLocked() {
		return track.Track{}, fmt.Errorf("%w: cannot remove index %d, skip it instead", ErrTrackPlaying, i)
	}
	removed := s.queue[i]
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	if i < s.current {
		s.current--
	}
	s.generation++
	return removed, nil
}

// Move relocates the track at from to position to. Neither end may be the
// playing track; the cursor shifts so the playing track stays the same.
func (s *Session) Move(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from < 0 || from >= len(s.queue) {
		return fmt.Errorf("%w: index %d", ErrTrackNotFound, from)
	}
	if to < 0 || to >= len(s.queue) {
		return fmt.Errorf("%w: index %d", ErrTrackNotFound, to)
	}
	if s.hasActiveTrackLocked() && (from == s.current || to == s.current) {
		return fmt.Errorf("%w: cannot move through index %d", ErrTrackPlaying, s.current)
	}
	if from == to {
		return nil
	}

	t := s.queue[from]
	s.queue = append(s.queue[:from], s.queue[from+1:]...)
	s.queue = append(s.queue, track.Track{})
	copy(s.queue[to+1:], s.queue[to:])
	s.queue[to] = t

	if s.hasActiveTrackLocked() {
		switch {
		case from < s.current && to >= s.current:
			s.current--
		case from > s.current && to <= s.current:
			s.current++
		}
	}
	s.generation++
	return nil
}

// Shuffle randomizes the queue around the playing track, which keeps its
// position.
func (s *Session) Shuffle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) < 2 {
		return
	}

	if !s.hasActiveTrackLocked() {
		rand.Shuffle(len(s.queue), func(i, j int) {
			s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
		})
		s.generation++
		return
	}

	rest := make([]track.Track, 0, len(s.queue)-1)
	rest = append(rest, s.queue[:s.current]...)
	rest = append(rest, s.queue[s.current+1:]...)
	rand.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})

	shuffled := make([]track.Track, 0, len(s.queue))
	shuffled = append(shuffled, rest[:s.current]...)
	shuffled = append(shuffled, s.queue[s.current])
	shuffled = append(shuffled, rest[s.current:]...)
	s.queue = shuffled
	s.generation++
}

// SkipTo jumps directly to the track at index i.
func (s *Session) SkipTo(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.queue) {
		return fmt.Errorf("%w: index %d", ErrTrackNotFound, i)
	}
	if i == s.current && s.hasActiveTrackLocked() {
		return fmt.Errorf("%w: index %d is already playing", ErrTrackPlaying, i)
	}
	s.current = i
	s.progress = 0
	s.generation++
	if s.hasActiveTrackLocked() {
		s.pending = actionJump
		s.interruptLocked()
	}
	return nil
}

// Seek restarts the current track at the given offset in seconds.
func (s *Session) Seek(seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasActiveTrackLocked() {
		return ErrNoTrackPlaying
	}
	t := s.queue[s.current]
	if seconds < 0 || (t.DurationSeconds > 0 && seconds >= t.DurationSeconds) {
		return fmt.Errorf("%w: %ds of %ds", ErrSeekOutOfRange, seconds, t.DurationSeconds)
	}
	s.progress = seconds
	s.generation++
	s.pending = actionSeek
	s.interruptLocked()
	return nil
}

// SetLoopMode switches the loop mode. Takes effect at the next track
// boundary; it never interrupts what is playing.
func (s *Session) SetLoopMode(m LoopMode) {
	s.mu.Lock()
	s.loopMode = m
	s.generation++
	s.mu.Unlock()
}

// CycleLoopMode advances None -> All -> One -> None and returns the new mode.
func (s *Session) CycleLoopMode() LoopMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopMode = s.loopMode.Next()
	s.generation++
	return s.loopMode
}

func (s *Session) hasActiveTrackLocked() bool {
	return (s.state == StatePlaying || s.state == StatePaused) &&
		s.current >= 0 && s.current < len(s.queue)
}
