// Command voicebridge runs an interactive voice session against the realtime
// speech service: microphone in, speaker out, transcripts on the terminal.
// Typed lines on stdin are sent as text turns.
package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gordonklaus/portaudio"

	"voicebridge/internal/auth"
	"voicebridge/internal/capture"
	"voicebridge/internal/channel"
	"voicebridge/internal/config"
	"voicebridge/internal/playback"
	"voicebridge/internal/session"
	"voicebridge/internal/sink"
	"voicebridge/internal/wire"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("portaudio init: %v", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	ch := channel.New(channel.Options{
		Endpoint:    cfg.Endpoint,
		APIVersion:  cfg.APIVersion,
		ProjectName: cfg.ProjectName,
		AgentID:     cfg.AgentID,
		ModelID:     cfg.ModelID,
		Credentials: credentials(cfg),
	})

	speaker, err := playback.OpenSpeaker(cfg.SampleRate)
	if err != nil {
		log.Fatalf("open speaker: %v", err)
	}
	dec, err := fragmentDecoder(cfg)
	if err != nil {
		log.Fatalf("audio decoder: %v", err)
	}
	player := playback.NewScheduler(dec, speaker, 0)
	defer func() { _ = player.Close() }()

	term := sink.NewTerminal(os.Stdout)
	ctrl := session.New(ch, player, term, session.Options{
		Config:   sessionConfig(cfg),
		Cooldown: cfg.MicCooldown,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("session start: %v", err)
	}

	mic := capture.NewPipeline(func() (capture.Source, error) {
		return capture.OpenMic(cfg.SampleRate)
	}, ctrl.Gate(), ctrl)
	if err := mic.Start(); err != nil {
		// Voice input is optional; typed input still works.
		term.OnError(sink.ErrorDeviceUnavailable, err.Error())
	} else {
		defer mic.Stop()
	}

	go readStdin(ctrl)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
		ctrl.Stop()
		<-ctrl.Done()
	case <-ctrl.Done():
	}
}

// readStdin forwards typed lines as text turns until stdin closes or the
// session ends.
func readStdin(ctrl *session.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := ctrl.SendText(line); err != nil {
			return
		}
	}
}

func credentials(cfg config.Config) auth.TokenProvider {
	if cfg.APIKey != "" {
		return auth.StaticKey{Key: cfg.APIKey}
	}
	return auth.NewClientCredentials(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret)
}

func fragmentDecoder(cfg config.Config) (playback.Decoder, error) {
	if cfg.AudioFormat == "opus" {
		return playback.NewOpusFragmentDecoder(cfg.SampleRate)
	}
	return playback.PCMPassthrough{}, nil
}

func sessionConfig(cfg config.Config) wire.SessionConfig {
	var vad *wire.TurnDetection
	if cfg.TurnDetection == wire.TurnDetectionServerVAD {
		vad = wire.ServerVADPreset()
	} else {
		vad = wire.SemanticVADPreset()
	}
	return wire.SessionConfig{
		InputAudioSamplingRate: cfg.SampleRate,
		InputAudioFormat:       "pcm16",
		OutputAudioFormat:      cfg.AudioFormat,
		Instructions:           cfg.Instructions,
		Voice: &wire.VoiceConfig{
			Name:        cfg.VoiceName,
			Type:        cfg.VoiceType,
			Temperature: 0.8,
		},
		TurnDetection:      vad,
		NoiseReduction:     &wire.ProcessingMode{Type: "azure_deep_noise_suppression"},
		EchoCancellation:   &wire.ProcessingMode{Type: "server_echo_cancellation"},
		InputTranscription: &wire.TranscriptionModel{Model: "whisper-1"},
	}
}
