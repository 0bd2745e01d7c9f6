//go:build linux && cgo

package media

import (
	"errors"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	selectorOnce sync.Once
	selector     *mediadevices.CodecSelector
	selectorErr  error
)

// codecSelector is shared between engine registration and capture so the
// negotiated codecs are exactly what the encoders produce.
func codecSelector() (*mediadevices.CodecSelector, error) {
	selectorOnce.Do(func() {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			selectorErr = err
			return
		}
		vpxParams.BitRate = 1_500_000

		opusParams, err := opus.NewParams()
		if err != nil {
			selectorErr = err
			return
		}

		selector = mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		)
	})
	return selector, selectorErr
}

// ConfigureEngine registers the capture codecs on a pion MediaEngine.
func ConfigureEngine(me *webrtc.MediaEngine) error {
	sel, err := codecSelector()
	if err != nil {
		return err
	}
	sel.Populate(me)
	return nil
}

// openCapture acquires camera/microphone through pion/mediadevices
// (V4L2 + malgo). Microphone is always requested; the camera only when
// voiceOnly is false.
func openCapture(voiceOnly bool) (*capture, error) {
	sel, err := codecSelector()
	if err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: sel}
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if !voiceOnly {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG: some cameras expose an MJPEG V4L2 node that
			// produces malformed JPEG frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil && !voiceOnly {
		// A missing/busy camera should not take the microphone down with it.
		log.Warn().Err(err).Str("module", "media").Msg("audio+video capture failed, retrying audio-only")
		constraints.Video = nil
		stream, err = mediadevices.GetUserMedia(constraints)
	}
	if err != nil {
		return nil, err
	}

	tracks := stream.GetTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no media devices available")
	}

	c := &capture{}
	pcm := make(chan []int16, 16)
	c.pcm = pcm

	for _, track := range tracks {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("local track ended")
			}
		})
		c.tracks = append(c.tracks, track)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			c.hasVideo = true
		}
		if at, ok := track.(*mediadevices.AudioTrack); ok {
			go tapPCM(at, pcm)
		}
	}

	captured := tracks
	c.stop = func() {
		for _, t := range captured {
			t.Close()
		}
	}
	return c, nil
}

// tapPCM feeds raw audio chunks to the level meter. mediadevices
// broadcasts chunks to multiple consumers, so this reader runs alongside
// the opus encoder without stealing samples.
func tapPCM(track *mediadevices.AudioTrack, out chan<- []int16) {
	defer close(out)
	reader := track.NewReader(false)
	for {
		chunk, _, err := reader.Read()
		if err != nil {
			return
		}
		samples := flattenChunk(chunk)
		if samples == nil {
			continue
		}
		select {
		case out <- samples:
		default:
		}
	}
}

func flattenChunk(chunk wave.Audio) []int16 {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		out := make([]int16, len(c.Data))
		copy(out, c.Data)
		return out
	case *wave.Float32Interleaved:
		out := make([]int16, len(c.Data))
		for i, f := range c.Data {
			out[i] = int16(f * 32767)
		}
		return out
	default:
		return nil
	}
}
