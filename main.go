package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"basedbot/audio"
	"basedbot/config"
	"basedbot/discordbot"
	"basedbot/keyword"
	"basedbot/stt"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(discordCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(hearCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("discord-token", "", "Discord bot token")
	rootCmd.PersistentFlags().String("engine", "", "Speech engine: whisper or google")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")

	viper.BindPFlag(
		"discord_token",
		rootCmd.PersistentFlags().Lookup("discord-token"),
	)
	viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Error reading .env: %s\n", err)
	}

	config.SetDefaults(viper.GetViper())

	if file, _ := rootCmd.PersistentFlags().GetString("config"); file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:   "based",
	Short: "based is a Discord bot that says based",
	Long: `based replies "based" when someone types it, and plays a clip when
someone says it in a voice channel it has joined.`,
}

var discordCmd = &cobra.Command{
	Use:   "discord",
	Short: "Start the Discord bot",
	Run:   runDiscord,
}

var hearCmd = &cobra.Command{
	Use:   "hear <file>",
	Short: "Transcribe an audio file and check it for the voice keyword",
	Args:  cobra.ExactArgs(1),
	Run:   runHear,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func sttOptions(cfg *config.Config) stt.Options {
	return stt.Options{
		Engine:       cfg.Engine,
		Language:     cfg.Language,
		WhisperModel: cfg.WhisperModel,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
		Hint:         cfg.VoiceKeyword,
	}
}

func botOptions(cfg *config.Config) discordbot.Options {
	segmenter := audio.DefaultSegmenterConfig()
	segmenter.Silence = cfg.UtteranceSilence
	segmenter.MaxLength = cfg.UtteranceMax

	return discordbot.Options{
		Prefixes:     cfg.Prefixes,
		TextKeyword:  cfg.TextKeyword,
		VoiceKeyword: cfg.VoiceKeyword,
		ClipPath:     cfg.ClipPath,
		Engine:       cfg.Engine,
		Workers:      cfg.TranscriptionWorkers,
		Segmenter:    segmenter,
		RecordDir:    cfg.RecordDir,
	}
}

func runDiscord(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.Fatal("configuration", "error", err)
	}

	logs := createLoggers(cfg.LogLevel)

	if cfg.RecordDir != "" {
		if err := os.MkdirAll(cfg.RecordDir, 0o755); err != nil {
			logs.voice.Warn("recording disabled", "dir", cfg.RecordDir, "error", err)
			cfg.RecordDir = ""
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recognizer := startRecognizer(ctx, cfg, logs.hear)
	if recognizer != nil {
		defer recognizer.Close()
	}

	discord, err := dis.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logs.main.Fatal("error creating Discord session", "error", err.Error())
	}
	discord.Identify.Intents = dis.IntentsGuilds |
		dis.IntentsGuildMessages |
		dis.IntentMessageContent |
		dis.IntentsGuildVoiceStates

	bot, err := discordbot.NewBot(
		&discordbot.DiscordSession{Session: discord},
		recognizer,
		botOptions(cfg),
		logs.chat,
		logs.voice,
	)
	if err != nil {
		logs.main.Fatal("start discord bot", "error", err.Error())
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	sig := <-sc

	logs.main.Info("shutting down", "signal", sig)
	if err := bot.Close(); err != nil {
		logs.main.Error("close discord session", "error", err)
	}
}

// startRecognizer loads the configured engine. Failure is not fatal: the
// bot keeps answering in text and refuses to join voice.
func startRecognizer(ctx context.Context, cfg *config.Config, logger *log.Logger) stt.Recognizer {
	logger.Info("loading speech engine", "engine", cfg.Engine)
	recognizer, err := stt.New(ctx, sttOptions(cfg))
	if err != nil {
		logger.Warn("speech engine unavailable, running text only", "engine", cfg.Engine, "error", err)
		return nil
	}
	return recognizer
}

func runHear(cmd *cobra.Command, args []string) {
	cfg, err := config.Parse(viper.GetViper())
	if err != nil {
		log.Fatal("configuration", "error", err)
	}
	logs := createLoggers(cfg.LogLevel)

	samples, err := audio.LoadSpeech(args[0])
	if err != nil {
		logs.main.Fatal("load audio", "file", args[0], "error", err.Error())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	recognizer, err := stt.New(ctx, sttOptions(cfg))
	if err != nil {
		logs.main.Fatal("create speech engine", "engine", cfg.Engine, "error", err.Error())
	}
	defer recognizer.Close()

	text, err := recognizer.Transcribe(ctx, samples)
	if errors.Is(err, stt.ErrNoSpeech) {
		logs.hear.Warn("no speech recognized", "file", args[0])
		return
	}
	if err != nil {
		logs.main.Fatal("transcribe", "engine", cfg.Engine, "error", err.Error())
	}

	logs.hear.Info("recognized", "file", args[0], "text", text)
	fmt.Println(hearVerdict(text, cfg.VoiceKeyword))
}

var (
	matchStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00cc66"))
	missStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func hearVerdict(text, kw string) string {
	if keyword.Contains(text, kw) {
		return matchStyle.Render(fmt.Sprintf("%q would trigger the clip", kw))
	}
	return missStyle.Render(fmt.Sprintf("no %q in %q", kw, text))
}

type loggers struct {
	main  *log.Logger
	chat  *log.Logger
	voice *log.Logger
	hear  *log.Logger
}

// prefixColors tints each subsystem's prefix so chat and voice lines are
// easy to tell apart when both are busy.
var prefixColors = map[string]lipgloss.Color{
	"main":  "#ff8800",
	"chat":  "#5fafff",
	"voice": "#af87ff",
	"hear":  "#00cc66",
}

func createLoggers(level log.Level) loggers {
	logger.SetLevel(level)
	logger.SetReportCaller(level <= log.DebugLevel)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	return loggers{
		main:  subsystemLogger("main"),
		chat:  subsystemLogger("chat"),
		voice: subsystemLogger("voice"),
		hear:  subsystemLogger("hear"),
	}
}

func subsystemLogger(prefix string) *log.Logger {
	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.
		Bold(true).
		Foreground(prefixColors[prefix]).
		Transform(func(s string) string {
			return strings.TrimSuffix(s, ":")
		})
	for _, level := range []log.Level{log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel} {
		styles.Levels[level] = styles.Levels[level].
			MaxWidth(5).
			MarginRight(1).
			Bold(false)
	}
	styles.Message = styles.Message.Width(28)
	styles.Key = styles.Key.MarginLeft(1).Faint(true)

	l := logger.With().WithPrefix(prefix)
	l.SetStyles(styles)
	return l
}
