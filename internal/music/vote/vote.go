// Package vote gates disruptive playback actions behind a majority vote of
// the listeners in the voice channel.
package vote

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotAuthorized = errors.New("action was not approved by vote")
	ErrVoteNotFound  = errors.New("no such vote in progress")
	ErrVoteActive    = errors.New("another vote is already running in this guild")
	ErrNotEligible   = errors.New("user is not in the voice channel for this vote")
	ErrAlreadyVoted  = errors.New("user already cast a vote")
	ErrVoteClosed    = errors.New("vote already closed")
)

type Outcome int

const (
	OutcomePassed Outcome = iota
	OutcomeFailed
	OutcomeExpired
	OutcomeInvalidated
)

func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeFailed:
		return "failed"
	case OutcomeExpired:
		return "expired"
	default:
		return "invalidated"
	}
}

// Required is the approval threshold for n eligible voters: a strict
// majority of the channel, requester included. For n=1 one vote is enough,
// so the requester approves their own action instantly.
func Required(n int) int {
	if n < 1 {
		return 1
	}
	return (n + 1) / 2
}

// Request describes the action a ballot is asked to approve.
type Request struct {
	GuildID     string
	Action      string
	RequesterID string

	// Eligible are the user IDs in the voice channel, requester included.
	Eligible []string

	// Generation pins the ballot to the queue state it was opened
	// against; CurrentGeneration re-reads it at close. A ballot that
	// passes after the queue changed underneath resolves to
	// OutcomeInvalidated.
	Generation        uint64
	CurrentGeneration func() uint64

	Deadline time.Duration
}

// Ballot is one running vote.
type Ballot struct {
	ID          string
	GuildID     string
	Action      string
	RequesterID string
	Deadline    time.Time
	RequiredFor int

	mu       sync.Mutex
	eligible map[string]struct{}
	votes    map[string]bool
	closed   bool
	gen      uint64
	genFn    func() uint64
	timer    *time.Timer
	result   chan Outcome
}

// For returns the current number of approving votes.
func (b *Ballot) For() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, approve := range b.votes {
		if approve {
			n++
		}
	}
	return n
}

// Result delivers exactly one Outcome when the ballot closes.
func (b *Ballot) Result() <-chan Outcome {
	return b.result
}

// Controller runs at most one ballot per guild at a time.
type Controller struct {
	mu      sync.Mutex
	ballots map[string]*Ballot // by ballot ID
	byGuild map[string]string  // guild ID -> ballot ID
}

func NewController() *Controller {
	return &Controller{
		ballots: make(map[string]*Ballot),
		byGuild: make(map[string]string),
	}
}

// Start opens a ballot. The requester's approval is counted up front, so a
// ballot that only needs one vote closes before Start returns.
func (c *Controller) Start(req Request) (*Ballot, error) {
	if len(req.Eligible) == 0 {
		return nil, fmt.Errorf("vote with no eligible voters for guild %s", req.GuildID)
	}

	c.mu.Lock()
	if _, ok := c.byGuild[req.GuildID]; ok {
		c.mu.Unlock()
		return nil, ErrVoteActive
	}

	b := &Ballot{
		ID:          uuid.NewString(),
		GuildID:     req.GuildID,
		Action:      req.Action,
		RequesterID: req.RequesterID,
		Deadline:    time.Now().Add(req.Deadline),
		RequiredFor: Required(len(req.Eligible)),
		eligible:    make(map[string]struct{}, len(req.Eligible)),
		votes:       make(map[string]bool, len(req.Eligible)),
		gen:         req.Generation,
		genFn:       req.CurrentGeneration,
		result:      make(chan Outcome, 1),
	}
	for _, id := range req.Eligible {
		b.eligible[id] = struct{}{}
	}
	// the timer is set before the ballot is reachable through the maps, so
	// close always sees it; a fire during this critical section blocks on
	// c.mu until the ballot is registered
	b.timer = time.AfterFunc(req.Deadline, func() {
		c.close(b, OutcomeExpired)
	})
	c.ballots[b.ID] = b
	c.byGuild[b.GuildID] = b.ID
	c.mu.Unlock()

	log.Printf("[Vote] Ballot %s opened in guild %s: %q needs %d/%d", b.ID, b.GuildID, b.Action, b.RequiredFor, len(b.eligible))

	// requester votes yes by opening the ballot
	if err := c.Cast(b.ID, req.RequesterID, true); err != nil && !errors.Is(err, ErrVoteClosed) {
		c.close(b, OutcomeFailed)
		return nil, err
	}
	return b, nil
}

// Cast records one user's vote and closes the ballot when the outcome is
// decided either way.
func (c *Controller) Cast(ballotID, userID string, approve bool) error {
	c.mu.Lock()
	b, ok := c.ballots[ballotID]
	c.mu.Unlock()
	if !ok {
		return ErrVoteNotFound
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrVoteClosed
	}
	if _, ok := b.eligible[userID]; !ok {
		b.mu.Unlock()
		return ErrNotEligible
	}
	if _, ok := b.votes[userID]; ok {
		b.mu.Unlock()
		return ErrAlreadyVoted
	}
	b.votes[userID] = approve

	votesFor, votesAgainst := 0, 0
	for _, a := range b.votes {
		if a {
			votesFor++
		} else {
			votesAgainst++
		}
	}
	total := len(b.eligible)
	b.mu.Unlock()

	if votesFor >= b.RequiredFor {
		c.close(b, OutcomePassed)
	} else if total-votesAgainst < b.RequiredFor {
		// approval can no longer be reached
		c.close(b, OutcomeFailed)
	}
	return nil
}

// Get returns a running ballot by guild, for showing vote progress.
func (c *Controller) Get(guildID string) (*Ballot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byGuild[guildID]
	if !ok {
		return nil, ErrVoteNotFound
	}
	return c.ballots[id], nil
}

// Cancel aborts a guild's running ballot, if any.
func (c *Controller) Cancel(guildID string) {
	c.mu.Lock()
	id, ok := c.byGuild[guildID]
	var b *Ballot
	if ok {
		b = c.ballots[id]
	}
	c.mu.Unlock()
	if b != nil {
		c.close(b, OutcomeFailed)
	}
}

func (c *Controller) close(b *Ballot, outcome Outcome) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	genFn := b.genFn
	gen := b.gen
	b.mu.Unlock()

	// a pass is only worth something against the queue it was opened on
	if outcome == OutcomePassed && genFn != nil && genFn() != gen {
		outcome = OutcomeInvalidated
	}

	c.mu.Lock()
	delete(c.ballots, b.ID)
	if c.byGuild[b.GuildID] == b.ID {
		delete(c.byGuild, b.GuildID)
	}
	c.mu.Unlock()

	log.Printf("[Vote] Ballot %s in guild %s %s", b.ID, b.GuildID, outcome)
	b.result <- outcome
}
