package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycall/internal/adapters/rtc"
	wssignal "github.com/studycircle/studycall/internal/adapters/signal"
	"github.com/studycircle/studycall/internal/call"
	"github.com/studycircle/studycall/internal/config"
	"github.com/studycircle/studycall/internal/core"
	"github.com/studycircle/studycall/internal/domain"
	"github.com/studycircle/studycall/internal/media"
)

func main() {
	room := flag.String("room", "study-hall", "room to join")
	name := flag.String("name", "guest", "display name")
	voiceOnly := flag.Bool("voice-only", false, "skip the camera, audio only")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	local := domain.ParticipantID(uuid.NewString())
	rtcConfig := rtc.BuildConfiguration(cfg.Call)
	api, err := rtc.NewAPI(media.ConfigureEngine)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api setup failed")
	}

	sess := call.NewSession(call.Deps{
		Local:       local,
		DisplayName: *name,
		Media:       media.NewSource(),
		Channels: func(room domain.RoomID) core.SignalChannel {
			return wssignal.NewChannel(cfg.SignalURL, room, local)
		},
		Connector:     rtc.Connector(api, rtcConfig),
		MaxReconnects: cfg.Call.MaxReconnects,
		OnPeerJoined: func(id domain.ParticipantID) {
			log.Info().Str("peer", string(id)).Msg("participant joined")
		},
		OnPeerLeft: func(id domain.ParticipantID) {
			log.Info().Str("peer", string(id)).Msg("participant left")
		},
	})

	if err := sess.Join(ctx, domain.RoomID(*room), *voiceOnly || cfg.Call.VoiceOnly); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	defer sess.Leave()

	log.Info().Str("room", *room).Str("local", string(local)).Msg("in the room, Ctrl-C to leave")

	levels := sess.AudioLevels()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var level int
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-sess.Notices():
			switch n.Kind {
			case call.NoticePeerFailed:
				log.Warn().Str("peer", string(n.Peer)).Msg("connection failed permanently")
			default:
				log.Error().Err(n.Err).Msg("call error")
			}
		case l, ok := <-levels:
			if ok {
				level = l
			} else {
				levels = nil
			}
		case <-ticker.C:
			for _, p := range sess.Participants() {
				log.Info().
					Str("peer", string(p.ID)).
					Str("name", p.DisplayName).
					Bool("audio", p.AudioEnabled).
					Bool("video", p.VideoEnabled).
					Bool("stream", p.Stream != nil).
					Msg("participant")
			}
			log.Info().Int("mic_level", level).Msg("local audio")
		}
	}
}
