package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"basedbot/stt"
)

var ErrMissingToken = errors.New("missing DISCORD_TOKEN or --discord-token=")

type Config struct {
	DiscordToken string
	Prefixes     []string
	TextKeyword  string
	VoiceKeyword string
	ClipPath     string

	Engine       stt.Engine
	Language     string
	WhisperModel string
	GeminiAPIKey string
	GeminiModel  string

	TranscriptionWorkers int
	UtteranceSilence     time.Duration
	UtteranceMax         time.Duration
	RecordDir            string

	LogLevel log.Level
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("prefixes", []string{"!"})
	v.SetDefault("text_keyword", "based")
	v.SetDefault("voice_keyword", "based")
	v.SetDefault("clip_path", "based.mp3")
	v.SetDefault("engine", string(stt.Google))
	v.SetDefault("language", "en")
	v.SetDefault("whisper_model", "models/ggml-base.en.bin")
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("transcription_workers", 4)
	v.SetDefault("utterance_silence", 800*time.Millisecond)
	v.SetDefault("utterance_max", 10*time.Second)
	v.SetDefault("log_level", "info")
}

// Load reads and validates the configuration held by v, token included.
func Load(v *viper.Viper) (*Config, error) {
	if strings.TrimSpace(v.GetString("discord_token")) == "" {
		return nil, ErrMissingToken
	}
	return Parse(v)
}

// Parse is Load without the token check, for commands that never talk to
// Discord. Engine credentials are not checked here: a bot without a working
// engine still answers in text, and doctor reports what is missing.
func Parse(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DiscordToken: strings.TrimSpace(v.GetString("discord_token")),
		Prefixes:     nonEmpty(v.GetStringSlice("prefixes")),
		TextKeyword:  strings.ToLower(strings.TrimSpace(v.GetString("text_keyword"))),
		VoiceKeyword: strings.ToLower(strings.TrimSpace(v.GetString("voice_keyword"))),
		ClipPath:     v.GetString("clip_path"),

		Language:     v.GetString("language"),
		WhisperModel: v.GetString("whisper_model"),
		GeminiAPIKey: v.GetString("gemini_api_key"),
		GeminiModel:  v.GetString("gemini_model"),

		TranscriptionWorkers: v.GetInt("transcription_workers"),
		UtteranceSilence:     v.GetDuration("utterance_silence"),
		UtteranceMax:         v.GetDuration("utterance_max"),
		RecordDir:            v.GetString("record_dir"),
	}

	if len(cfg.Prefixes) == 0 {
		return nil, errors.New("at least one command prefix is required")
	}
	if cfg.TextKeyword == "" || cfg.VoiceKeyword == "" {
		return nil, errors.New("keywords must not be empty")
	}

	engine, err := stt.ParseEngine(v.GetString("engine"))
	if err != nil {
		return nil, err
	}
	cfg.Engine = engine

	if cfg.TranscriptionWorkers < 1 {
		return nil, fmt.Errorf("transcription_workers must be at least 1, got %d", cfg.TranscriptionWorkers)
	}
	if cfg.UtteranceSilence <= 0 || cfg.UtteranceMax <= cfg.UtteranceSilence {
		return nil, fmt.Errorf(
			"need 0 < utterance_silence < utterance_max, got %v and %v",
			cfg.UtteranceSilence, cfg.UtteranceMax,
		)
	}

	level, err := log.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

func nonEmpty(ss []string) []string {
	var out []string
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
