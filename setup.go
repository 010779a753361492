package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"basedbot/stt"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write config.yaml interactively",
	Run: func(cmd *cobra.Command, args []string) {
		RunSetup("config.yaml")
	},
}

type setupAnswers struct {
	DiscordToken string
	Engine       string
	GeminiAPIKey string
	WhisperModel string
	ClipPath     string
	Keyword      string
}

func RunSetup(path string) {
	log.Info("Starting setup...")

	if _, err := os.Stat(path); err == nil {
		overwrite := false
		huh.NewConfirm().
			Title(fmt.Sprintf("%s exists. Overwrite it?", path)).
			Value(&overwrite).
			Run()
		if !overwrite {
			log.Info("Keeping existing config", "file", path)
			return
		}
	}

	answers := setupAnswers{
		Engine:       viper.GetString("engine"),
		WhisperModel: viper.GetString("whisper_model"),
		ClipPath:     viper.GetString("clip_path"),
		Keyword:      viper.GetString("voice_keyword"),
	}

	engineOptions := make([]huh.Option[string], len(stt.Engines))
	for i, e := range stt.Engines {
		engineOptions[i] = huh.NewOption(string(e), string(e))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your Discord Bot Token").
				Value(&answers.DiscordToken).
				Validate(required("token")),
			huh.NewInput().
				Title("Keyword").
				Value(&answers.Keyword).
				Validate(required("keyword")),
			huh.NewInput().
				Title("Clip to play").
				Value(&answers.ClipPath),
			huh.NewSelect[string]().
				Title("Speech engine").
				Options(engineOptions...).
				Value(&answers.Engine),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your Google Cloud (Gemini) API Key").
				Value(&answers.GeminiAPIKey),
		).WithHideFunc(func() bool { return answers.Engine != string(stt.Google) }),
		huh.NewGroup(
			huh.NewInput().
				Title("Path to the whisper.cpp model").
				Value(&answers.WhisperModel),
		).WithHideFunc(func() bool { return answers.Engine != string(stt.Whisper) }),
	)

	if err := form.Run(); err != nil {
		log.Fatal("Error during setup", "error", err)
	}

	if err := writeSetup(path, answers); err != nil {
		log.Fatal("Error saving configuration", "error", err)
	}

	log.Info("Setup completed successfully!", "file", path)
}

func required(what string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func writeSetup(path string, a setupAnswers) error {
	if a.DiscordToken == "" {
		return errors.New("no token given")
	}

	v := viper.New()
	v.Set("discord_token", a.DiscordToken)
	v.Set("text_keyword", a.Keyword)
	v.Set("voice_keyword", a.Keyword)
	v.Set("clip_path", a.ClipPath)
	v.Set("engine", a.Engine)
	switch stt.Engine(a.Engine) {
	case stt.Google:
		v.Set("gemini_api_key", a.GeminiAPIKey)
	case stt.Whisper:
		v.Set("whisper_model", a.WhisperModel)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
