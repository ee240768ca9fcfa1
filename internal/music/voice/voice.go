// Package voice abstracts the voice-channel transport so the session layer
// never touches discordgo directly and tests can run against a fake.
package voice

import "context"

// Handle is an opaque reference to one live voice connection.
type Handle interface {
	ChannelID() string
}

// Source names the audio to stream. LocalPath wins over URL when both are
// set; StartSec seeks into the material.
type Source struct {
	LocalPath string
	URL       string
	StartSec  int
}

// StreamOptions carries the control surface for one streaming run.
type StreamOptions struct {
	// Stop aborts the stream when closed. Stream returns nil in that case;
	// the caller knows why it stopped.
	Stop <-chan struct{}

	// Paused is polled between frames; while true no audio is consumed.
	Paused func() bool

	// Progress is called with the playback position in whole seconds.
	Progress func(seconds int)
}

type Transport interface {
	Connect(ctx context.Context, guildID, channelID string) (Handle, error)

	// Stream plays src into the connection and blocks until natural
	// completion, stop, or error.
	Stream(ctx context.Context, h Handle, src Source, opts StreamOptions) error

	Disconnect(h Handle) error
}
