package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz
)

// DiscordTransport streams PCM decoded by ffmpeg into a discordgo voice
// connection, opus-encoded frame by frame.
type DiscordTransport struct {
	dg *discordgo.Session
}

func NewDiscordTransport(dg *discordgo.Session) *DiscordTransport {
	return &DiscordTransport{dg: dg}
}

type discordHandle struct {
	vc *discordgo.VoiceConnection
}

func (h *discordHandle) ChannelID() string { return h.vc.ChannelID }

func (t *DiscordTransport) Connect(ctx context.Context, guildID, channelID string) (Handle, error) {
	type joined struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan joined, 1)
	go func() {
		vc, err := t.dg.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- joined{vc, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case j := <-ch:
		if j.err != nil {
			return nil, fmt.Errorf("failed to join voice channel: %w", j.err)
		}
		log.Printf("[Voice] Joined channel %s on guild %s", channelID, guildID)
		return &discordHandle{vc: j.vc}, nil
	}
}

func (t *DiscordTransport) Disconnect(h Handle) error {
	dh, ok := h.(*discordHandle)
	if !ok || dh.vc == nil {
		return nil
	}
	return dh.vc.Disconnect()
}

func (t *DiscordTransport) Stream(ctx context.Context, h Handle, src Source, opts StreamOptions) error {
	dh, ok := h.(*discordHandle)
	if !ok {
		return errors.New("not a discord voice handle")
	}

	pcm, cleanup, err := openPCM(src)
	if err != nil {
		return err
	}
	defer cleanup()
	defer pcm.Close()

	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encoder error: %w", err)
	}

	dh.vc.Speaking(true)
	defer dh.vc.Speaking(false)

	pcmBuf := make([]byte, frameSize*channels*2)
	intBuf := make([]int16, frameSize*channels)

	frames := 0
	baseSec := src.StartSec

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-opts.Stop:
			return nil
		default:
		}

		if opts.Paused != nil && opts.Paused() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-opts.Stop:
				return nil
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		_, err := io.ReadFull(pcm, pcmBuf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil // track finished
		}
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		for i := range intBuf {
			intBuf[i] = int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
		}

		opus, err := encoder.Encode(intBuf, frameSize, len(pcmBuf))
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}

		select {
		case dh.vc.OpusSend <- opus:
		case <-opts.Stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		frames++
		if frames%50 == 0 && opts.Progress != nil {
			opts.Progress(baseSec + frames/50)
		}
	}
}

// openPCM decodes the source to s16le PCM through ffmpeg, reconnecting on
// flaky remote links.
func openPCM(src Source) (io.ReadCloser, func(), error) {
	input := src.LocalPath
	args := []string{}
	if input == "" {
		input = src.URL
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	if input == "" {
		return nil, nil, errors.New("stream source has neither local path nor URL")
	}
	if src.StartSec > 0 {
		args = append(args, "-ss", fmt.Sprintf("%d", src.StartSec))
	}
	args = append(args,
		"-i", input,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	cmd := exec.Command("ffmpeg", args...)
	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("command start error: %w", err)
	}

	cleanup := func() {
		cmd.Process.Kill()
		cmd.Wait()
	}
	return reader, cleanup, nil
}
