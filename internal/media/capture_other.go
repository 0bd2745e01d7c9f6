//go:build !linux || !cgo

package media

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ConfigureEngine registers pion's default codecs; no capture encoders
// exist on this platform.
func ConfigureEngine(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

// openCapture returns placeholder sample tracks on platforms without a
// mediadevices driver build. Negotiation still produces valid m-lines, so
// remote media flows; local capture needs the Linux build.
func openCapture(voiceOnly bool) (*capture, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "studycall",
	)
	if err != nil {
		return nil, err
	}

	c := &capture{tracks: []webrtc.TrackLocal{audio}, stop: func() {}}

	if !voiceOnly {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "studycall",
		)
		if err != nil {
			return nil, err
		}
		c.tracks = append(c.tracks, video)
		c.hasVideo = true
	}

	log.Warn().Str("module", "media").Msg("no capture driver on this platform, sending silence")
	return c, nil
}
