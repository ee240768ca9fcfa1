package music

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"jukebird/internal/music/session"
	"jukebird/internal/music/track"
	"jukebird/internal/music/voice"
	"jukebird/internal/music/vote"
)

type fakeHandle struct{ channelID string }

func (h fakeHandle) ChannelID() string { return h.channelID }

type fakeTransport struct {
	mu    sync.Mutex
	plays []voice.Source
}

func (f *fakeTransport) Connect(ctx context.Context, guildID, channelID string) (voice.Handle, error) {
	return fakeHandle{channelID: channelID}, nil
}

func (f *fakeTransport) Stream(ctx context.Context, h voice.Handle, src voice.Source, opts voice.StreamOptions) error {
	f.mu.Lock()
	f.plays = append(f.plays, src)
	f.mu.Unlock()
	select {
	case <-opts.Stop:
	case <-ctx.Done():
	}
	return nil
}

func (f *fakeTransport) Disconnect(h voice.Handle) error { return nil }

type fakeSource struct{}

func (fakeSource) Refresh(ctx context.Context, t track.Track) (track.Track, error) {
	return t, nil
}

func mkTrack(n int) track.Track {
	return track.Track{
		SourceURL:       fmt.Sprintf("https://www.youtube.com/watch?v=%011d", n),
		Title:           fmt.Sprintf("Track %d", n),
		DurationSeconds: 180,
		AudioStreamURL:  fmt.Sprintf("stream://%d", n),
		AudioExpiry:     time.Now().Add(time.Hour).Unix(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newPlayingService builds a service around a fake voice transport with a
// three-track session already playing track 0.
func newPlayingService(t *testing.T, voteDeadline time.Duration) (*Service, *session.Session) {
	t.Helper()
	reg := session.NewRegistry(session.Deps{
		Transport: &fakeTransport{},
		Tracks:    fakeSource{},
	})
	svc := NewService(reg, nil, vote.NewController(), nil, voteDeadline)

	ctx := context.Background()
	sess, err := reg.GetOrCreate(ctx, "guild-1", "vc-1", "tc-1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Leave(context.Background()) })

	sess.Enqueue(mkTrack(0), mkTrack(1), mkTrack(2))
	sess.EnsureWorkerRunning()
	waitFor(t, "playback to start", func() bool { return sess.State() == session.StatePlaying })
	return svc, sess
}

// castWhenOpen retries until the guild's ballot exists, then casts.
func castWhenOpen(t *testing.T, svc *Service, userID string, approve bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		err := svc.CastVote("guild-1", userID, approve)
		if err == nil {
			return
		}
		if !errors.Is(err, vote.ErrVoteNotFound) {
			t.Fatalf("cast by %s: %v", userID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no ballot opened for %s to vote on", userID)
}

func TestExemptActors(t *testing.T) {
	crowd := []string{"u1", "u2", "u3", "u4", "u5"}
	cases := []struct {
		name  string
		actor Actor
	}{
		{"dj skips without a vote", Actor{UserID: "u1", IsDJ: true, EligibleVoters: crowd}},
		{"owner skips without a vote", Actor{UserID: "u1", IsOwner: true, EligibleVoters: crowd}},
		{"lone listener skips without a vote", Actor{UserID: "u1", EligibleVoters: []string{"u1"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, sess := newPlayingService(t, time.Minute)
			if err := svc.Skip(context.Background(), "guild-1", tc.actor); err != nil {
				t.Fatalf("Skip: %v", err)
			}
			waitFor(t, "cursor to advance", func() bool { return sess.CurrentIndex() == 1 })
		})
	}
}

func TestVoteGatedSkip(t *testing.T) {
	crowd := []string{"u1", "u2", "u3", "u4", "u5"}
	actor := Actor{UserID: "u1", EligibleVoters: crowd}

	t.Run("majority approval applies the skip", func(t *testing.T) {
		svc, sess := newPlayingService(t, time.Minute)

		errCh := make(chan error, 1)
		go func() { errCh <- svc.Skip(context.Background(), "guild-1", actor) }()

		// requester opened with one approval; five listeners need three
		castWhenOpen(t, svc, "u2", true)
		castWhenOpen(t, svc, "u3", true)

		if err := <-errCh; err != nil {
			t.Fatalf("Skip after passed vote: %v", err)
		}
		waitFor(t, "cursor to advance", func() bool { return sess.CurrentIndex() == 1 })
	})

	t.Run("rejection leaves playback untouched", func(t *testing.T) {
		svc, sess := newPlayingService(t, time.Minute)

		errCh := make(chan error, 1)
		go func() { errCh <- svc.Skip(context.Background(), "guild-1", actor) }()

		castWhenOpen(t, svc, "u2", false)
		castWhenOpen(t, svc, "u3", false)
		castWhenOpen(t, svc, "u4", false)

		if err := <-errCh; !errors.Is(err, vote.ErrNotAuthorized) {
			t.Fatalf("Skip after rejected vote: %v, want ErrNotAuthorized", err)
		}
		if got := sess.CurrentIndex(); got != 0 {
			t.Errorf("cursor moved to %d on a rejected vote", got)
		}
	})

	t.Run("silence until the deadline denies", func(t *testing.T) {
		svc, sess := newPlayingService(t, 80*time.Millisecond)

		err := svc.Skip(context.Background(), "guild-1", actor)
		if !errors.Is(err, vote.ErrNotAuthorized) {
			t.Fatalf("Skip after expired vote: %v, want ErrNotAuthorized", err)
		}
		if got := sess.CurrentIndex(); got != 0 {
			t.Errorf("cursor moved to %d on an expired vote", got)
		}
	})

	t.Run("queue change mid-vote invalidates the result", func(t *testing.T) {
		svc, sess := newPlayingService(t, time.Minute)

		errCh := make(chan error, 1)
		go func() { errCh <- svc.Skip(context.Background(), "guild-1", actor) }()

		castWhenOpen(t, svc, "u2", true)
		sess.Enqueue(mkTrack(9))
		castWhenOpen(t, svc, "u3", true)

		if err := <-errCh; !errors.Is(err, vote.ErrNotAuthorized) {
			t.Fatalf("Skip after invalidated vote: %v, want ErrNotAuthorized", err)
		}
		if got := sess.CurrentIndex(); got != 0 {
			t.Errorf("cursor moved to %d on an invalidated vote", got)
		}
	})

	t.Run("second concurrent vote is refused", func(t *testing.T) {
		svc, _ := newPlayingService(t, time.Minute)

		errCh := make(chan error, 1)
		go func() { errCh <- svc.Skip(context.Background(), "guild-1", actor) }()
		castWhenOpen(t, svc, "u2", true)

		other := Actor{UserID: "u4", EligibleVoters: crowd}
		if err := svc.Pause(context.Background(), "guild-1", other); !errors.Is(err, vote.ErrVoteActive) {
			t.Fatalf("second vote: %v, want ErrVoteActive", err)
		}

		castWhenOpen(t, svc, "u3", true)
		if err := <-errCh; err != nil {
			t.Fatalf("first vote: %v", err)
		}
	})
}

func TestRequestVote(t *testing.T) {
	svc, _ := newPlayingService(t, 80*time.Millisecond)

	t.Run("exempt actor auto-approves", func(t *testing.T) {
		approved, timedOut, err := svc.RequestVote(context.Background(), "guild-1", "restart the set", Actor{UserID: "u1", IsDJ: true})
		if err != nil || !approved || timedOut {
			t.Fatalf("got approved=%v timedOut=%v err=%v", approved, timedOut, err)
		}
	})

	t.Run("deadline miss reports a timeout", func(t *testing.T) {
		actor := Actor{UserID: "u1", EligibleVoters: []string{"u1", "u2", "u3"}}
		approved, timedOut, err := svc.RequestVote(context.Background(), "guild-1", "restart the set", actor)
		if err != nil {
			t.Fatal(err)
		}
		if approved || !timedOut {
			t.Fatalf("got approved=%v timedOut=%v, want timeout", approved, timedOut)
		}
	})
}
