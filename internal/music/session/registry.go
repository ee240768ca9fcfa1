package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"jukebird/internal/music/track"
)

// Registry maps guild IDs to their live sessions. Session lifetime equals
// voice connection lifetime: creating a session joins voice, and a session
// that leaves voice deregisters itself.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	deps     Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		deps:     deps,
	}
}

// GetOrCreate returns the guild's session, joining the voice channel first
// when none exists. An existing session is returned as-is even if it sits
// in a different voice channel.
func (r *Registry) GetOrCreate(ctx context.Context, guildID, voiceChannelID, textChannelID string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[guildID]; ok {
		r.mu.Unlock()
		s.SetTextChannelID(textChannelID)
		return s, nil
	}
	r.mu.Unlock()

	// voice join happens outside the registry lock; it is a network call
	handle, err := r.deps.Transport.Connect(ctx, guildID, voiceChannelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVoiceJoinFailed, err)
	}

	r.mu.Lock()
	if existing, ok := r.sessions[guildID]; ok {
		// lost the race to another caller, keep theirs
		r.mu.Unlock()
		r.deps.Transport.Disconnect(handle)
		existing.SetTextChannelID(textChannelID)
		return existing, nil
	}
	s := newSession(guildID, voiceChannelID, textChannelID, handle, r.deps)
	s.onTerminate = func() { r.Remove(guildID) }
	r.sessions[guildID] = s
	r.mu.Unlock()

	s.mu.Lock()
	s.startIdleTimerLocked()
	s.mu.Unlock()

	log.Printf("[Session] Guild %s joined voice channel %s", guildID, voiceChannelID)
	return s, nil
}

// Get returns the guild's session or ErrSessionNotFound.
func (r *Registry) Get(guildID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove deregisters a guild's session without touching its state.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	delete(r.sessions, guildID)
	r.mu.Unlock()
}

// Active returns every live session.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown leaves voice in every guild. Used on process exit after the
// final snapshot is taken.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, s := range r.Active() {
		if err := s.Leave(ctx); err != nil {
			log.Printf("[Session] Shutdown leave failed for guild %s: %v", s.GuildID, err)
		}
	}
}

// RestoreState is a saved session to bring back after a restart.
type RestoreState struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	Queue          []track.Track
	CurrentIndex   int
	Loop           LoopMode
	Paused         bool
	Progress       int
}

// Restore recreates a session from a snapshot and starts its worker.
func (r *Registry) Restore(ctx context.Context, st RestoreState) (*Session, error) {
	s, err := r.GetOrCreate(ctx, st.GuildID, st.VoiceChannelID, st.TextChannelID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.queue = append([]track.Track(nil), st.Queue...)
	s.current = st.CurrentIndex
	if s.current < 0 || s.current > len(s.queue) {
		s.current = 0
	}
	s.loopMode = st.Loop
	s.progress = st.Progress
	s.paused.Store(st.Paused)
	s.generation++
	s.mu.Unlock()

	s.EnsureWorkerRunning()
	log.Printf("[Session] Restored guild %s with %d track(s) at index %d", st.GuildID, len(st.Queue), st.CurrentIndex)
	return s, nil
}
