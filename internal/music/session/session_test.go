package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"jukebird/internal/music/track"
	"jukebird/internal/music/voice"
)

type fakeHandle struct{ channelID string }

func (h fakeHandle) ChannelID() string { return h.channelID }

// fakeTransport streams instantly, or holds each stream open until its stop
// channel closes when block is set.
type fakeTransport struct {
	mu          sync.Mutex
	plays       []voice.Source
	disconnects int
	block       bool
}

func (f *fakeTransport) Connect(ctx context.Context, guildID, channelID string) (voice.Handle, error) {
	return fakeHandle{channelID: channelID}, nil
}

func (f *fakeTransport) Stream(ctx context.Context, h voice.Handle, src voice.Source, opts voice.StreamOptions) error {
	f.mu.Lock()
	f.plays = append(f.plays, src)
	f.mu.Unlock()
	if f.block {
		select {
		case <-opts.Stop:
		case <-ctx.Done():
		}
	}
	return nil
}

func (f *fakeTransport) Disconnect(h voice.Handle) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

func (f *fakeTransport) play(i int) voice.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays[i]
}

type fakeSource struct {
	mu        sync.Mutex
	refreshed int
}

func (f *fakeSource) Refresh(ctx context.Context, t track.Track) (track.Track, error) {
	f.mu.Lock()
	f.refreshed++
	f.mu.Unlock()
	t.AudioStreamURL = "refreshed://" + t.SourceURL
	t.AudioExpiry = time.Now().Add(time.Hour).Unix()
	return t, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []track.Track
}

func (f *fakeHistory) AddHistoryEntry(guildID string, t track.Track) error {
	f.mu.Lock()
	f.entries = append(f.entries, t)
	f.mu.Unlock()
	return nil
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
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

func mkTracks(n int) []track.Track {
	out := make([]track.Track, n)
	for i := range out {
		out[i] = mkTrack(i)
	}
	return out
}

func newTestSession(t *testing.T, ft *fakeTransport) *Session {
	t.Helper()
	r := NewRegistry(Deps{
		Transport: ft,
		Tracks:    &fakeSource{},
		History:   &fakeHistory{},
	})
	s, err := r.GetOrCreate(context.Background(), "guild-1", "vc-1", "tc-1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Leave(ctx)
	})
	return s
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

func checkInvariant(t *testing.T, s *Session) {
	t.Helper()
	q := s.Queue()
	cur := s.CurrentIndex()
	if len(q) > 0 && s.State() != StateConnected && (cur < 0 || cur >= len(q)) {
		t.Fatalf("cursor %d out of range for queue of %d", cur, len(q))
	}
}

func TestQueueOperations(t *testing.T) {
	t.Run("Enqueue And Remove", func(t *testing.T) {
		s := newTestSession(t, &fakeTransport{block: true})
		s.Enqueue(mkTracks(3)...)

		if _, err := s.Remove(5); !errors.Is(err, ErrTrackNotFound) {
			t.Errorf("expected ErrTrackNotFound, got %v", err)
		}

		removed, err := s.Remove(1)
		if err != nil {
			t.Fatal(err)
		}
		if removed.Title != "Track 1" {
			t.Errorf("removed %q, want Track 1", removed.Title)
		}
		if got := s.Queue(); len(got) != 2 {
			t.Errorf("queue length %d, want 2", len(got))
		}
		checkInvariant(t, s)
	})

	t.Run("Move", func(t *testing.T) {
		s := newTestSession(t, &fakeTransport{block: true})
		s.Enqueue(mkTracks(4)...)

		if err := s.Move(0, 3); err != nil {
			t.Fatal(err)
		}
		q := s.Queue()
		want := []string{"Track 1", "Track 2", "Track 3", "Track 0"}
		for i, w := range want {
			if q[i].Title != w {
				t.Errorf("queue[%d] = %q, want %q", i, q[i].Title, w)
			}
		}

		if err := s.Move(9, 0); !errors.Is(err, ErrTrackNotFound) {
			t.Errorf("expected ErrTrackNotFound, got %v", err)
		}
	})

	t.Run("EnqueueAt Clamps Position", func(t *testing.T) {
		s := newTestSession(t, &fakeTransport{block: true})
		s.Enqueue(mkTracks(2)...)

		s.EnqueueAt(99, mkTrack(7))
		q := s.Queue()
		if q[len(q)-1].Title != "Track 7" {
			t.Error("out-of-range insert should land at the end")
		}

		s.EnqueueAt(0, mkTrack(8))
		if s.Queue()[0].Title != "Track 8" {
			t.Error("insert at zero should land first")
		}
	})

	t.Run("Shuffle Keeps Contents", func(t *testing.T) {
		s := newTestSession(t, &fakeTransport{block: true})
		s.Enqueue(mkTracks(10)...)

		before := s.Queue()
		s.Shuffle()
		after := s.Queue()
		if len(after) != len(before) {
			t.Fatalf("shuffle changed queue length: %d -> %d", len(before), len(after))
		}
		seen := map[string]int{}
		for _, tr := range before {
			seen[tr.SourceURL]++
		}
		for _, tr := range after {
			seen[tr.SourceURL]--
		}
		for url, n := range seen {
			if n != 0 {
				t.Errorf("shuffle lost or duplicated %s", url)
			}
		}
	})

	t.Run("Mutations Bump The Generation", func(t *testing.T) {
		s := newTestSession(t, &fakeTransport{block: true})
		gen := s.Generation()
		s.Enqueue(mkTracks(2)...)
		if s.Generation() == gen {
			t.Error("Enqueue must bump the generation")
		}

		gen = s.Generation()
		s.CycleLoopMode()
		if s.Generation() == gen {
			t.Error("loop change must bump the generation")
		}
	})
}

func TestWorker(t *testing.T) {
	t.Run("Connected To Playing At Index Zero", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		s := newTestSession(t, ft)

		if s.State() != StateConnected {
			t.Fatalf("fresh session state %s, want Connected", s.State())
		}

		s.Enqueue(mkTrack(0))
		if !s.EnsureWorkerRunning() {
			t.Fatal("expected worker to start")
		}

		waitFor(t, "playback to start", func() bool { return s.State() == StatePlaying })
		if s.CurrentIndex() != 0 {
			t.Errorf("cursor %d, want 0", s.CurrentIndex())
		}
	})

	t.Run("Idempotent Start", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		s := newTestSession(t, ft)
		s.Enqueue(mkTrack(0))

		s.EnsureWorkerRunning()
		waitFor(t, "playback to start", func() bool { return s.State() == StatePlaying })

		before := s.Generation()
		if s.EnsureWorkerRunning() {
			t.Error("second start must be a no-op")
		}
		if s.Generation() != before || ft.playCount() != 1 {
			t.Error("second start must not disturb playback")
		}
	})

	t.Run("Loop All Wraps Around", func(t *testing.T) {
		ft := &fakeTransport{}
		s := newTestSession(t, ft)
		s.SetLoopMode(LoopAll)
		s.Enqueue(mkTracks(3)...)
		s.EnsureWorkerRunning()

		waitFor(t, "a full cycle", func() bool { return ft.playCount() >= 4 })

		// three advances from index 0 land back on index 0
		want := []string{"stream://0", "stream://1", "stream://2", "stream://0"}
		for i, w := range want {
			if got := ft.play(i).URL; got != w {
				t.Errorf("play %d = %s, want %s", i, got, w)
			}
		}
	})

	t.Run("Exhausted Queue Parks The Session", func(t *testing.T) {
		ft := &fakeTransport{}
		s := newTestSession(t, ft)
		s.Enqueue(mkTracks(2)...)
		s.EnsureWorkerRunning()

		waitFor(t, "queue to drain", func() bool {
			return ft.playCount() == 2 && s.State() == StateConnected
		})

		// the next enqueue lands under the cursor and plays immediately
		s.Enqueue(mkTrack(2))
		s.EnsureWorkerRunning()
		waitFor(t, "revived playback", func() bool { return ft.playCount() == 3 })
		if got := ft.play(2).URL; got != "stream://2" {
			t.Errorf("third play = %s, want stream://2", got)
		}
	})

	t.Run("Skip Advances", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		s := newTestSession(t, ft)
		s.Enqueue(mkTracks(3)...)
		s.EnsureWorkerRunning()
		waitFor(t, "playback to start", func() bool { return ft.playCount() == 1 })

		if err := s.Skip(); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "next track", func() bool { return ft.playCount() == 2 })
		if s.CurrentIndex() != 1 {
			t.Errorf("cursor %d after skip, want 1", s.CurrentIndex())
		}
	})

	t.Run("Remove Around The Playing Track", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		s := newTestSession(t, ft)
		s.Enqueue(mkTracks(3)...)
		s.EnsureWorkerRunning()
		waitFor(t, "playback to start", func() bool { return ft.playCount() == 1 })

		// advance so index 1 is playing
		if err := s.Skip(); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "second track", func() bool { return ft.playCount() == 2 && s.CurrentIndex() == 1 })

		if _, err := s.Remove(1); !errors.Is(err, ErrTrackPlaying) {
			t.Errorf("removing the playing track: got %v, want ErrTrackPlaying", err)
		}
		if len(s.Queue()) != 3 {
			t.Error("refused removal must leave the queue unchanged")
		}
		if err := s.Move(1, 2); !errors.Is(err, ErrTrackPlaying) {
			t.Errorf("moving the playing track: got %v, want ErrTrackPlaying", err)
		}
		if err := s.Move(2, 1); !errors.Is(err, ErrTrackPlaying) {
			t.Errorf("moving onto the playing track: got %v, want ErrTrackPlaying", err)
		}

		if _, err := s.Remove(2); err != nil {
			t.Fatal(err)
		}
		if len(s.Queue()) != 2 || s.CurrentIndex() != 1 {
			t.Errorf("queue %d cursor %d, want 2 and 1", len(s.Queue()), s.CurrentIndex())
		}

		if _, err := s.Remove(0); err != nil {
			t.Fatal(err)
		}
		if s.CurrentIndex() != 0 {
			t.Errorf("cursor %d after removing ahead of it, want 0", s.CurrentIndex())
		}
		checkInvariant(t, s)
	})

	t.Run("SkipTo Jumps", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		s := newTestSession(t, ft)
		s.Enqueue(mkTracks(4)...)
		s.EnsureWorkerRunning()
		waitFor(t, "playback to start", func() bool { return ft.playCount() == 1 })

		if err := s.SkipTo(9); !errors.Is(err, ErrTrackNotFound) {
			t.Errorf("expected ErrTrackNotFound, got %v", err)
		}
		if err := s.SkipTo(0); !errors.Is(err, ErrTrackPlaying) {
			t.Errorf("jumping to the playing track: got %v, want ErrTrackPlaying", err)
		}

		if err := s.SkipTo(3); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "jump target", func() bool {
			return ft.playCount() == 2 && ft.play(1).URL == "stream://3"
		})
	})

	t.Run("Seek Restarts At Offset", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		s := newTestSession(t, ft)
		s.Enqueue(mkTrack(0))
		s.EnsureWorkerRunning()
		waitFor(t, "playback to start", func() bool { return ft.playCount() == 1 })

		if err := s.Seek(500); !errors.Is(err, ErrSeekOutOfRange) {
			t.Errorf("expected ErrSeekOutOfRange, got %v", err)
		}
		if err := s.Seek(-1); !errors.Is(err, ErrSeekOutOfRange) {
			t.Errorf("expected ErrSeekOutOfRange, got %v", err)
		}

		if err := s.Seek(50); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "restarted stream", func() bool { return ft.playCount() == 2 })
		if got := ft.play(1); got.URL != "stream://0" || got.StartSec != 50 {
			t.Errorf("second play %+v, want same track at 50s", got)
		}
	})

	t.Run("Pause And Resume", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		s := newTestSession(t, ft)

		if err := s.Pause(); !errors.Is(err, ErrNoTrackPlaying) {
			t.Errorf("expected ErrNoTrackPlaying, got %v", err)
		}

		s.Enqueue(mkTrack(0))
		s.EnsureWorkerRunning()
		waitFor(t, "playback to start", func() bool { return s.State() == StatePlaying })

		if err := s.Pause(); err != nil {
			t.Fatal(err)
		}
		if s.State() != StatePaused || !s.Paused() {
			t.Error("expected paused state")
		}
		if err := s.Pause(); !errors.Is(err, ErrNoTrackPlaying) {
			t.Error("pausing twice must fail")
		}

		if err := s.Resume(); err != nil {
			t.Fatal(err)
		}
		if s.State() != StatePlaying {
			t.Error("expected playing state after resume")
		}
	})

	t.Run("Expired Track Is Refreshed Before Playback", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		src := &fakeSource{}
		r := NewRegistry(Deps{Transport: ft, Tracks: src, History: &fakeHistory{}})
		s, err := r.GetOrCreate(context.Background(), "guild-1", "vc-1", "tc-1")
		if err != nil {
			t.Fatal(err)
		}
		defer s.Leave(context.Background())

		stale := mkTrack(0)
		stale.AudioStreamURL = ""
		stale.AudioExpiry = 0
		s.Enqueue(stale)
		s.EnsureWorkerRunning()

		waitFor(t, "refreshed stream", func() bool {
			return ft.playCount() == 1 && ft.play(0).URL == "refreshed://"+stale.SourceURL
		})
	})

	t.Run("History Records Consumed Tracks", func(t *testing.T) {
		ft := &fakeTransport{}
		hist := &fakeHistory{}
		r := NewRegistry(Deps{Transport: ft, Tracks: &fakeSource{}, History: hist})
		s, err := r.GetOrCreate(context.Background(), "guild-1", "vc-1", "tc-1")
		if err != nil {
			t.Fatal(err)
		}
		defer s.Leave(context.Background())

		s.Enqueue(mkTracks(2)...)
		s.EnsureWorkerRunning()
		waitFor(t, "history entries", func() bool { return hist.count() == 2 })
	})

	t.Run("Leave Disconnects And Stops The Worker", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		s := newTestSession(t, ft)
		s.Enqueue(mkTracks(2)...)
		s.EnsureWorkerRunning()
		waitFor(t, "playback to start", func() bool { return ft.playCount() == 1 })

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.Leave(ctx); err != nil {
			t.Fatal(err)
		}
		if s.State() != StateDisconnected {
			t.Errorf("state %s after leave, want Disconnected", s.State())
		}
		if ft.disconnects != 1 {
			t.Errorf("disconnects %d, want 1", ft.disconnects)
		}
		if ft.playCount() != 1 {
			t.Error("leave must not advance playback")
		}
	})
}

func TestRegistry(t *testing.T) {
	t.Run("GetOrCreate Is Stable", func(t *testing.T) {
		r := NewRegistry(Deps{Transport: &fakeTransport{block: true}, Tracks: &fakeSource{}})
		a, err := r.GetOrCreate(context.Background(), "guild-1", "vc-1", "tc-1")
		if err != nil {
			t.Fatal(err)
		}
		b, err := r.GetOrCreate(context.Background(), "guild-1", "vc-2", "tc-2")
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Error("expected the same session for the same guild")
		}
	})

	t.Run("Get Unknown Guild", func(t *testing.T) {
		r := NewRegistry(Deps{Transport: &fakeTransport{}, Tracks: &fakeSource{}})
		if _, err := r.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("Leave Deregisters", func(t *testing.T) {
		r := NewRegistry(Deps{Transport: &fakeTransport{block: true}, Tracks: &fakeSource{}})
		s, err := r.GetOrCreate(context.Background(), "guild-1", "vc-1", "tc-1")
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Leave(context.Background()); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Get("guild-1"); !errors.Is(err, ErrSessionNotFound) {
			t.Error("left session must be deregistered")
		}
	})

	t.Run("Restore Rebuilds A Session", func(t *testing.T) {
		ft := &fakeTransport{block: true}
		r := NewRegistry(Deps{Transport: ft, Tracks: &fakeSource{}})

		s, err := r.Restore(context.Background(), RestoreState{
			GuildID:        "guild-1",
			VoiceChannelID: "vc-1",
			Queue:          mkTracks(7),
			CurrentIndex:   3,
			Loop:           LoopOne,
			Progress:       42,
		})
		if err != nil {
			t.Fatal(err)
		}
		defer s.Leave(context.Background())

		waitFor(t, "resumed playback", func() bool { return ft.playCount() == 1 })
		got := ft.play(0)
		if got.URL != "stream://3" || got.StartSec != 42 {
			t.Errorf("resumed with %+v, want track 3 at 42s", got)
		}
		if s.LoopMode() != LoopOne || len(s.Queue()) != 7 {
			t.Error("restored session lost queue or loop mode")
		}
	})
}
