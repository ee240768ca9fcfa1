// Package session owns the per-guild playback state machine: the queue, the
// loop mode, the worker that advances playback, and the registry that ties
// session lifetime to a voice connection.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"jukebird/internal/music/track"
	"jukebird/internal/music/voice"
)

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Disconnected"
	}
}

type LoopMode int

const (
	LoopNone LoopMode = iota
	LoopAll
	LoopOne
)

// Next cycles None -> All -> One -> None.
func (m LoopMode) Next() LoopMode {
	switch m {
	case LoopNone:
		return LoopAll
	case LoopAll:
		return LoopOne
	default:
		return LoopNone
	}
}

func (m LoopMode) String() string {
	switch m {
	case LoopAll:
		return "All"
	case LoopOne:
		return "One"
	default:
		return "None"
	}
}

type Status string

const (
	StatusPlaying Status = "Playing"
	StatusAdded   Status = "Track(s) Added"
	StatusStopped Status = "Playback Stopped"
	StatusPaused  Status = "Playback Paused"
	StatusResumed Status = "Playback Resumed"
	StatusError   Status = "Error"
)

var (
	ErrSessionNotFound = errors.New("no active session for this guild")
	ErrTrackNotFound   = errors.New("no track at that queue position")
	ErrTrackPlaying    = errors.New("that track is currently playing")
	ErrVoiceJoinFailed = errors.New("could not join voice channel")
	ErrNoTrackPlaying  = errors.New("no track is currently playing")
	ErrSeekOutOfRange  = errors.New("seek target is outside the track")
)

// TrackSource re-resolves tracks whose signed stream URL has expired.
type TrackSource interface {
	Refresh(ctx context.Context, t track.Track) (track.Track, error)
}

// LocalFiles reports pre-downloaded audio copies.
type LocalFiles interface {
	LocalPath(sourceURL string) (string, bool)
}

// HistoryRecorder receives every consumed track.
type HistoryRecorder interface {
	AddHistoryEntry(guildID string, t track.Track) error
}

// Deps is everything a session needs from the outside world.
type Deps struct {
	Transport voice.Transport
	Tracks    TrackSource
	Local     LocalFiles
	History   HistoryRecorder

	// IdleDisconnect is how long a Connected session with nothing playing
	// stays around before leaving voice. Zero disables the timer.
	IdleDisconnect time.Duration
}

// pending tells the worker what to do after the current stream is cut.
type pendingAction int

const (
	actionNone pendingAction = iota
	actionSkip
	actionJump
	actionSeek
	actionStop
)

// Session is the live playback context for one guild. All state is guarded
// by mu; the worker and every operation re-read under the lock, so a
// vote-delayed mutation is re-validated against whatever the queue looks
// like at apply time.
type Session struct {
	GuildID string

	deps Deps

	mu             sync.Mutex
	state          State
	queue          []track.Track
	current        int
	loopMode       LoopMode
	progress       int
	paused         atomic.Bool
	generation     uint64
	voiceChannelID string
	textChannelID  string
	handle         voice.Handle
	workerRunning  bool
	workerDone     chan struct{}
	streamStop     chan struct{}
	streamStopped  bool
	pending        pendingAction
	closing        bool
	idleTimer      *time.Timer
	onTerminate    func()

	ctx    context.Context
	cancel context.CancelFunc

	// Status receives playback events; buffered so a slow listener only
	// loses notifications, never blocks playback.
	Status chan Status
}

func newSession(guildID, voiceChannelID, textChannelID string, handle voice.Handle, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		GuildID:        guildID,
		deps:           deps,
		state:          StateConnected,
		voiceChannelID: voiceChannelID,
		textChannelID:  textChannelID,
		handle:         handle,
		ctx:            ctx,
		cancel:         cancel,
		Status:         make(chan Status, 10),
	}
	return s
}

// EnsureWorkerRunning starts the playback worker if none is running.
// Idempotent: a second call while a worker lives is a no-op and returns
// false.
func (s *Session) EnsureWorkerRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workerRunning || s.closing || s.state == StateDisconnected {
		return false
	}
	s.workerRunning = true
	s.workerDone = make(chan struct{})
	go s.runWorker()
	return true
}

// Pause suspends playback without touching the queue.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return ErrNoTrackPlaying
	}
	s.paused.Store(true)
	s.state = StatePaused
	s.emitStatus(StatusPaused)
	return nil
}

// Resume continues a paused session.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return ErrNoTrackPlaying
	}
	s.paused.Store(false)
	s.state = StatePlaying
	s.emitStatus(StatusResumed)
	return nil
}

// Skip cuts the current track and advances. Under LoopOne a skip still moves
// forward; looping one track means replay on natural completion, not a
// trap the user cannot leave.
func (s *Session) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying && s.state != StatePaused {
		return ErrNoTrackPlaying
	}
	s.pending = actionSkip
	s.interruptLocked()
	return nil
}

// Leave tears the session down: stops the worker, disconnects voice and
// deregisters. Safe to call more than once.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.pending = actionStop
	s.interruptLocked()
	s.stopIdleTimerLocked()
	done := s.workerDone
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			log.Printf("[Session] Gave up waiting for worker on guild %s: %v", s.GuildID, ctx.Err())
		}
	}

	// in-flight resolver calls for this session get cancelled; their
	// results are discarded with the session
	s.cancel()

	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.state = StateDisconnected
	terminate := s.onTerminate
	s.mu.Unlock()

	if h != nil {
		if err := s.deps.Transport.Disconnect(h); err != nil {
			log.Printf("[Session] Voice disconnect failed for guild %s: %v", s.GuildID, err)
		}
	}
	s.emitStatusUnlocked(StatusStopped)
	if terminate != nil {
		terminate()
	}
	log.Printf("[Session] Guild %s session closed", s.GuildID)
	return nil
}

// NowPlaying returns the active track, playback progress and a copy of the
// queue.
func (s *Session) NowPlaying() (track.Track, int, []track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := append([]track.Track(nil), s.queue...)
	if s.state != StatePlaying && s.state != StatePaused {
		return track.Track{}, 0, queue, ErrNoTrackPlaying
	}
	if s.current < 0 || s.current >= len(s.queue) {
		return track.Track{}, 0, queue, ErrNoTrackPlaying
	}
	return s.queue[s.current], s.progress, queue, nil
}

// Generation increments on every queue mutation and track advance. Votes
// capture it when they open and compare at close, so approval of a context
// that no longer exists is worthless.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LoopMode() LoopMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopMode
}

func (s *Session) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) Queue() []track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]track.Track(nil), s.queue...)
}

func (s *Session) Paused() bool {
	return s.paused.Load()
}

func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Session) VoiceChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceChannelID
}

func (s *Session) TextChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textChannelID
}

func (s *Session) SetTextChannelID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textChannelID = id
}

// interruptLocked closes the current stream's stop channel exactly once.
func (s *Session) interruptLocked() {
	if s.streamStop != nil && !s.streamStopped {
		close(s.streamStop)
		s.streamStopped = true
	}
}

func (s *Session) startIdleTimerLocked() {
	if s.deps.IdleDisconnect <= 0 || s.closing {
		return
	}
	s.stopIdleTimerLocked()
	s.idleTimer = time.AfterFunc(s.deps.IdleDisconnect, s.idleLeave)
}

func (s *Session) stopIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Session) idleLeave() {
	s.mu.Lock()
	idle := s.state == StateConnected && !s.workerRunning && !s.closing
	s.mu.Unlock()
	if !idle {
		return
	}
	log.Printf("[Session] Guild %s idle for %v, leaving voice", s.GuildID, s.deps.IdleDisconnect)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Leave(ctx)
}

// emitStatus requires s.mu held; it never blocks.
func (s *Session) emitStatus(status Status) {
	select {
	case s.Status <- status:
	default:
		log.Printf("[Session] Status signal dropped (channel full) - %s", status)
	}
}

func (s *Session) emitStatusUnlocked(status Status) {
	select {
	case s.Status <- status:
	default:
	}
}
