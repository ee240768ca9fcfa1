// Package music is the front door for the command layer: it resolves user
// input into tracks, runs approval votes, and applies the outcome to the
// guild's session.
package music

import (
	"context"
	"fmt"
	"log"
	"time"

	"jukebird/internal/music/resolver"
	"jukebird/internal/music/session"
	"jukebird/internal/music/track"
	"jukebird/internal/music/vote"
	"jukebird/internal/storage"
)

// Actor is the caller of an operation together with the voice-channel
// context that decides whether a vote is needed.
type Actor struct {
	UserID  string
	IsDJ    bool
	IsOwner bool

	// EligibleVoters are the non-bot members of the actor's voice
	// channel, actor included.
	EligibleVoters []string
}

// Exempt callers bypass vote gating entirely.
func (a Actor) Exempt() bool {
	return a.IsDJ || a.IsOwner || len(a.EligibleVoters) <= 1
}

type Service struct {
	registry *session.Registry
	resolver *resolver.Resolver
	votes    *vote.Controller
	store    *storage.Storage

	voteDeadline time.Duration
}

func NewService(registry *session.Registry, res *resolver.Resolver, votes *vote.Controller, store *storage.Storage, voteDeadline time.Duration) *Service {
	return &Service{
		registry:     registry,
		resolver:     res,
		votes:        votes,
		store:        store,
		voteDeadline: voteDeadline,
	}
}

// PlayResult is either queued tracks or search hits the user must choose
// from, never both.
type PlayResult struct {
	Queued []track.Track
	Search []track.SearchResult
}

// Play resolves input and enqueues the result, joining the actor's voice
// channel if the guild has no session yet. Free-text input returns search
// hits instead; the command layer calls Play again with the chosen URL.
func (s *Service) Play(ctx context.Context, guildID, voiceChannelID, textChannelID, input string, actor Actor) (*PlayResult, error) {
	res, err := s.resolver.Resolve(ctx, input, actor.UserID)
	if err != nil {
		return nil, err
	}
	if len(res.Search) > 0 {
		return &PlayResult{Search: res.Search}, nil
	}
	if len(res.Tracks) == 0 {
		return nil, resolver.ErrNotFound
	}

	sess, err := s.registry.GetOrCreate(ctx, guildID, voiceChannelID, textChannelID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, sess, actor, fmt.Sprintf("add %d track(s)", len(res.Tracks))); err != nil {
		return nil, err
	}

	sess.Enqueue(res.Tracks...)
	sess.EnsureWorkerRunning()
	return &PlayResult{Queued: res.Tracks}, nil
}

func (s *Service) Pause(ctx context.Context, guildID string, actor Actor) error {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, actor, "pause playback"); err != nil {
		return err
	}
	return sess.Pause()
}

func (s *Service) Resume(ctx context.Context, guildID string, actor Actor) error {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, actor, "resume playback"); err != nil {
		return err
	}
	return sess.Resume()
}

func (s *Service) Skip(ctx context.Context, guildID string, actor Actor) error {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, actor, "skip the current track"); err != nil {
		return err
	}
	return sess.Skip()
}

func (s *Service) Leave(ctx context.Context, guildID string, actor Actor) error {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, actor, "stop playback and leave"); err != nil {
		return err
	}
	s.votes.Cancel(guildID)
	return sess.Leave(ctx)
}

func (s *Service) Remove(ctx context.Context, guildID string, index int, actor Actor) (track.Track, error) {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return track.Track{}, err
	}
	if err := s.authorize(ctx, sess, actor, fmt.Sprintf("remove track %d", index)); err != nil {
		return track.Track{}, err
	}
	// bounds are re-checked under the session lock at apply time; a vote
	// that outlived the index it targeted fails here, not silently
	return sess.Remove(index)
}

func (s *Service) Move(ctx context.Context, guildID string, from, to int, actor Actor) error {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, actor, fmt.Sprintf("move track %d to %d", from, to)); err != nil {
		return err
	}
	return sess.Move(from, to)
}

func (s *Service) Shuffle(ctx context.Context, guildID string, actor Actor) error {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, actor, "shuffle the queue"); err != nil {
		return err
	}
	sess.Shuffle()
	return nil
}

func (s *Service) SkipTo(ctx context.Context, guildID string, index int, actor Actor) error {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, actor, fmt.Sprintf("jump to track %d", index)); err != nil {
		return err
	}
	return sess.SkipTo(index)
}

func (s *Service) Seek(ctx context.Context, guildID string, seconds int, actor Actor) error {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, actor, fmt.Sprintf("seek to %ds", seconds)); err != nil {
		return err
	}
	return sess.Seek(seconds)
}

func (s *Service) CycleLoopMode(ctx context.Context, guildID string, actor Actor) (session.LoopMode, error) {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return session.LoopNone, err
	}
	if err := s.authorize(ctx, sess, actor, "change the loop mode"); err != nil {
		return session.LoopNone, err
	}
	return sess.CycleLoopMode(), nil
}

// NowPlaying is read-only and never gated.
func (s *Service) NowPlaying(guildID string) (track.Track, int, []track.Track, error) {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return track.Track{}, 0, nil, err
	}
	return sess.NowPlaying()
}

func (s *Service) History(guildID string) ([]storage.HistoryRecord, error) {
	return s.store.History(guildID)
}

// CastVote feeds a listener's vote into the guild's running ballot.
func (s *Service) CastVote(guildID, userID string, approve bool) error {
	b, err := s.votes.Get(guildID)
	if err != nil {
		return err
	}
	return s.votes.Cast(b.ID, userID, approve)
}

// RequestVote runs a standalone approval vote without applying anything.
// timedOut distinguishes a deadline miss from an explicit rejection.
func (s *Service) RequestVote(ctx context.Context, guildID, question string, actor Actor) (approved bool, timedOut bool, err error) {
	sess, err := s.registry.Get(guildID)
	if err != nil {
		return false, false, err
	}
	if actor.Exempt() {
		return true, false, nil
	}
	outcome, err := s.runBallot(ctx, sess, actor, question)
	if err != nil {
		return false, false, err
	}
	return outcome == vote.OutcomePassed, outcome == vote.OutcomeExpired, nil
}

// authorize blocks until the actor is allowed to perform the action, either
// through an exemption or a passed vote.
func (s *Service) authorize(ctx context.Context, sess *session.Session, actor Actor, action string) error {
	if actor.Exempt() {
		return nil
	}
	outcome, err := s.runBallot(ctx, sess, actor, action)
	if err != nil {
		return err
	}
	switch outcome {
	case vote.OutcomePassed:
		return nil
	case vote.OutcomeExpired:
		return fmt.Errorf("%w: vote timed out", vote.ErrNotAuthorized)
	case vote.OutcomeInvalidated:
		return fmt.Errorf("%w: the queue changed while the vote was running", vote.ErrNotAuthorized)
	default:
		return vote.ErrNotAuthorized
	}
}

func (s *Service) runBallot(ctx context.Context, sess *session.Session, actor Actor, action string) (vote.Outcome, error) {
	b, err := s.votes.Start(vote.Request{
		GuildID:           sess.GuildID,
		Action:            action,
		RequesterID:       actor.UserID,
		Eligible:          actor.EligibleVoters,
		Generation:        sess.Generation(),
		CurrentGeneration: sess.Generation,
		Deadline:          s.voteDeadline,
	})
	if err != nil {
		return vote.OutcomeFailed, err
	}

	select {
	case outcome := <-b.Result():
		return outcome, nil
	case <-ctx.Done():
		s.votes.Cancel(sess.GuildID)
		log.Printf("[Music] Vote for %q in guild %s abandoned: %v", action, sess.GuildID, ctx.Err())
		return vote.OutcomeFailed, ctx.Err()
	}
}
