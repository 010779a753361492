package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	dis "github.com/bwmarrin/discordgo"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"basedbot/audio"
	"basedbot/config"
	"basedbot/stt"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the bot can run in this environment",
	Run:   runDoctor,
}

type check struct {
	Name     string
	Detail   string
	Err      error
	Required bool
}

func (c check) status() string {
	switch {
	case c.Err == nil:
		return "ok"
	case c.Required:
		return "FAIL"
	}
	return "warn"
}

func runDoctor(cmd *cobra.Command, args []string) {
	checks := doctorChecks(viper.GetViper())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Check", "Status", "Detail"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	failed := false
	for _, c := range checks {
		detail := c.Detail
		if c.Err != nil {
			detail = c.Err.Error()
			failed = failed || c.Required
		}
		table.Append([]string{c.Name, c.status(), detail})
	}
	table.Render()

	if failed {
		os.Exit(1)
	}
}

func doctorChecks(v *viper.Viper) []check {
	checks := []check{
		{Name: "go", Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)},
		{Name: "discordgo", Detail: dis.VERSION},
	}

	if _, err := audio.NewOpusEncoder(); err != nil {
		checks = append(checks, check{Name: "opus", Err: err, Required: true})
	} else {
		checks = append(checks, check{Name: "opus", Detail: "encoder available"})
	}

	cfg, err := config.Parse(v)
	if err != nil {
		return append(checks, check{Name: "config", Err: err, Required: true})
	}

	if cfg.DiscordToken == "" {
		checks = append(checks, check{Name: "token", Err: config.ErrMissingToken, Required: true})
	} else {
		checks = append(checks, check{Name: "token", Detail: "set"})
	}

	checks = append(checks, clipCheck(cfg.ClipPath))
	checks = append(checks, engineCheck(cfg))
	return checks
}

func clipCheck(path string) check {
	clip, err := audio.OpenClip(path)
	if err != nil {
		return check{Name: "clip", Err: err, Required: true}
	}
	defer clip.Close()
	return check{Name: "clip", Detail: fmt.Sprintf("%s (%d Hz)", path, clip.SourceRate())}
}

// engineCheck fails when the bot would start text only.
func engineCheck(cfg *config.Config) check {
	c := check{Name: "engine " + string(cfg.Engine), Required: true}
	if cfg.WhisperModel == "" && cfg.Engine == stt.Whisper {
		c.Err = errors.New("missing whisper_model")
		return c
	}
	switch cfg.Engine {
	case stt.Whisper:
		info, err := os.Stat(cfg.WhisperModel)
		switch {
		case err != nil:
			c.Err = fmt.Errorf("model: %w", err)
		case info.IsDir():
			c.Err = errors.New("model path is a directory")
		default:
			c.Detail = fmt.Sprintf("%s (%d MB)", cfg.WhisperModel, info.Size()>>20)
		}
	case stt.Google:
		if cfg.GeminiAPIKey == "" {
			c.Err = errors.New("missing GEMINI_API_KEY")
		} else {
			c.Detail = fmt.Sprintf("%s, api key set", cfg.GeminiModel)
		}
	}
	return c
}
