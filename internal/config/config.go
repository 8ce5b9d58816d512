package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// service connection
	Endpoint    string
	APIVersion  string
	APIKey      string
	ProjectName string
	AgentID     string
	ModelID     string

	// OAuth token endpoint (used when APIKey is empty)
	TokenURL     string
	ClientID     string
	ClientSecret string

	// session behaviour
	Instructions  string
	VoiceName     string
	VoiceType     string
	TurnDetection string // "server_vad" or "semantic_vad"
	AudioFormat   string // "pcm16" or "opus"
	SampleRate    int
	MicCooldown   time.Duration

	// relay server
	HTTPAddress string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	endpoint := os.Getenv("VOICELIVE_ENDPOINT")
	if endpoint == "" {
		log.Println("Warning: VOICELIVE_ENDPOINT not set - sessions cannot connect")
	}

	apiVersion := os.Getenv("VOICELIVE_API_VERSION")
	if apiVersion == "" {
		apiVersion = "2025-05-01-preview"
	}

	apiKey := os.Getenv("VOICELIVE_API_KEY")
	tokenURL := os.Getenv("TOKEN_URL")
	if apiKey == "" && tokenURL == "" {
		log.Println("Warning: neither VOICELIVE_API_KEY nor TOKEN_URL set - authentication will fail")
	}

	voiceName := os.Getenv("VOICE_NAME")
	if voiceName == "" {
		voiceName = "en-US-Ava:DragonHDLatestNeural"
	}
	voiceType := os.Getenv("VOICE_TYPE")
	if voiceType == "" {
		voiceType = "azure-standard"
	}

	turnDetection := os.Getenv("TURN_DETECTION")
	if turnDetection == "" {
		turnDetection = "semantic_vad"
	}

	audioFormat := os.Getenv("OUTPUT_AUDIO_FORMAT")
	if audioFormat == "" {
		audioFormat = "pcm16"
	}

	sampleRate := intEnv("SAMPLE_RATE", 24000)
	cooldownMs := intEnv("MIC_COOLDOWN_MS", 300)

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8765"
	}

	log.Printf("config: endpoint=%s api_version=%s turn_detection=%s", endpoint, apiVersion, turnDetection)
	return Config{
		Endpoint:      endpoint,
		APIVersion:    apiVersion,
		APIKey:        apiKey,
		ProjectName:   os.Getenv("PROJECT_NAME"),
		AgentID:       os.Getenv("AGENT_ID"),
		ModelID:       os.Getenv("MODEL_ID"),
		TokenURL:      tokenURL,
		ClientID:      os.Getenv("CLIENT_ID"),
		ClientSecret:  os.Getenv("CLIENT_SECRET"),
		Instructions:  os.Getenv("INSTRUCTIONS"),
		VoiceName:     voiceName,
		VoiceType:     voiceType,
		TurnDetection: turnDetection,
		AudioFormat:   audioFormat,
		SampleRate:    sampleRate,
		MicCooldown:   time.Duration(cooldownMs) * time.Millisecond,
		HTTPAddress:   addr,
	}
}

func intEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Warning: invalid %s=%q, using %d", name, v, def)
		return def
	}
	return n
}
