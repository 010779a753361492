package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"basedbot/stt"
)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(map[string]any{
		"discord_token":  "token",
		"gemini_api_key": "key",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine != stt.Google {
		t.Errorf("Engine = %q, want google", cfg.Engine)
	}
	if len(cfg.Prefixes) != 1 || cfg.Prefixes[0] != "!" {
		t.Errorf("Prefixes = %v, want [!]", cfg.Prefixes)
	}
	if cfg.TextKeyword != "based" || cfg.VoiceKeyword != "based" {
		t.Errorf("keywords = %q/%q, want based/based", cfg.TextKeyword, cfg.VoiceKeyword)
	}
	if cfg.ClipPath != "based.mp3" {
		t.Errorf("ClipPath = %q", cfg.ClipPath)
	}
	if cfg.TranscriptionWorkers != 4 {
		t.Errorf("TranscriptionWorkers = %d, want 4", cfg.TranscriptionWorkers)
	}
	if cfg.UtteranceSilence != 800*time.Millisecond || cfg.UtteranceMax != 10*time.Second {
		t.Errorf("utterance window = %v/%v", cfg.UtteranceSilence, cfg.UtteranceMax)
	}
	if cfg.LogLevel != log.InfoLevel {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(newViper(map[string]any{
		"discord_token":     "token",
		"engine":            "Whisper",
		"text_keyword":      " BASED ",
		"prefixes":          []string{"!", "?", ""},
		"utterance_silence": "1s",
		"log_level":         "debug",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine != stt.Whisper {
		t.Errorf("Engine = %q, want whisper", cfg.Engine)
	}
	if cfg.TextKeyword != "based" {
		t.Errorf("TextKeyword = %q, want based", cfg.TextKeyword)
	}
	if len(cfg.Prefixes) != 2 {
		t.Errorf("Prefixes = %v, want [! ?]", cfg.Prefixes)
	}
	if cfg.UtteranceSilence != time.Second {
		t.Errorf("UtteranceSilence = %v, want 1s", cfg.UtteranceSilence)
	}
	if cfg.LogLevel != log.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		wantErr string
	}{
		{
			name:    "missing token",
			values:  map[string]any{"gemini_api_key": "key"},
			wantErr: "DISCORD_TOKEN",
		},
		{
			name:    "unknown engine",
			values:  map[string]any{"discord_token": "t", "engine": "vosk"},
			wantErr: "unknown engine",
		},
		{
			name: "no workers",
			values: map[string]any{
				"discord_token":         "t",
				"engine":                "whisper",
				"transcription_workers": 0,
			},
			wantErr: "transcription_workers",
		},
		{
			name: "silence longer than max",
			values: map[string]any{
				"discord_token":     "t",
				"engine":            "whisper",
				"utterance_silence": "20s",
			},
			wantErr: "utterance_silence",
		},
		{
			name: "empty keyword",
			values: map[string]any{
				"discord_token": "t",
				"engine":        "whisper",
				"voice_keyword": " ",
			},
			wantErr: "keywords",
		},
		{
			name: "bad log level",
			values: map[string]any{
				"discord_token": "t",
				"engine":        "whisper",
				"log_level":     "loud",
			},
			wantErr: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(tt.values))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}

	_, err := Load(newViper(nil))
	if !errors.Is(err, ErrMissingToken) {
		t.Errorf("err = %v, want ErrMissingToken", err)
	}
}

func TestParseWithoutToken(t *testing.T) {
	cfg, err := Parse(newViper(map[string]any{"engine": "whisper"}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DiscordToken != "" {
		t.Errorf("DiscordToken = %q, want empty", cfg.DiscordToken)
	}
	if cfg.Engine != stt.Whisper {
		t.Errorf("Engine = %q, want whisper", cfg.Engine)
	}
}

func TestLoadWithOnlyToken(t *testing.T) {
	cfg, err := Load(newViper(map[string]any{"discord_token": "t"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine != stt.Google || cfg.GeminiAPIKey != "" {
		t.Errorf("engine = %s, key = %q; want google without a key", cfg.Engine, cfg.GeminiAPIKey)
	}
	if cfg.TextKeyword != "based" {
		t.Errorf("TextKeyword = %q, want based", cfg.TextKeyword)
	}
}
