package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"limone/internal/audio"
	"limone/internal/config"
	"limone/internal/controller"
	"limone/internal/duck"
	"limone/internal/events"
	"limone/internal/gateway"
	"limone/internal/history"
	"limone/internal/ipc"
	"limone/internal/notify"
	"limone/internal/proxy"
	"limone/internal/speech"
	"limone/internal/storage"
	"limone/internal/tts"
	"limone/pkg/stt"
)

const version = "0.1.0"

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	configPath := cli.StringP("config", "c", "limone.yaml", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	socket := cli.StringP("socket", "s", "", "Control socket path (overrides config)")
	inputFile := cli.StringP("input-file", "i", "", "Transcribe this audio file instead of the microphone")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:   logLevelMap[*logLevel],
		NoColor: !isatty.IsTerminal(os.Stdout.Fd()),
	})))

	log.Info("Booting up", "version", version)

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug("No env file loaded", "path", *envFile, "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("Failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if *socket != "" {
		cfg.Socket = *socket
	}

	if err := run(cfg, *configPath, *inputFile); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}

	log.Info("Bye")
}

func run(cfg config.Config, configPath, inputFile string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Default()

	remote, err := newRemote(cfg, logger)
	if err != nil {
		return err
	}

	if backend, ok := remote.(*gateway.Backend); ok {
		watchConfig(ctx, configPath, backend, logger)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Debug("Opened store", "path", cfg.DBPath)

	hist := history.New(db.Slot(storage.HistoryBucket, history.SlotKey), cfg.HistoryCap, logger)
	hist.Load()

	gw := gateway.New(remote, gateway.Config{
		HealthTimeout:   cfg.HealthTimeout,
		CommandTimeout:  cfg.CommandTimeout,
		UserAgent:       "LimoneIDE-Go/" + version,
		ProbeBeforeSend: cfg.ProbeBeforeSend,
	}, logger)
	if cfg.OfflineQueue.Enabled {
		gw.SetQueue(gateway.NewOfflineQueue(
			db.Queue(storage.QueueBucket),
			cfg.OfflineQueue.MaxAttempts,
			cfg.OfflineQueue.Backoff,
			logger,
		))
	}

	views := []controller.View{controller.LogView{Log: logger}}
	if cfg.BusURL != "" {
		bus := events.New(cfg.BusURL, events.DefaultReconnect, logger)
		go bus.Run(ctx)
		views = append(views, bus)
	}
	if cfg.DesktopNotify {
		desk := notify.NewDesktop(logger)
		go desk.Run(ctx)
		views = append(views, desk)
	}
	view := controller.Views(views...)
	gw.OnStatus(view.Connection)

	if gw.CheckConnection(ctx) {
		seedHistory(ctx, gw, hist)
		go func() {
			if n, err := gw.Drain(ctx); err != nil {
				log.Warn("Offline queue drain interrupted", "replayed", n, "err", err)
			}
		}()
	}
	go gw.Monitor(ctx, cfg.PollInterval)

	var output speech.Output
	if engine, err := tts.NewEspeak(cfg.Voice, 0, logger); err != nil {
		log.Warn("Speech output disabled", "err", err)
	} else {
		defer engine.Close()

		policy, _ := speech.ParsePolicy(cfg.SpeechPolicy)
		spk := speech.NewSpeaker(engine, policy, logger)
		defer spk.Close()
		output = spk
	}

	input, closeInput := newInput(cfg, inputFile, logger)
	defer closeInput()

	var cue controller.Cue
	if b, err := notify.NewBeep(cfg.BeepPath, logger); err != nil {
		log.Warn("Listening cue disabled", "err", err)
	} else {
		cue = b
	}

	ctrl := controller.New(controller.Deps{
		Input:   input,
		Output:  output,
		Gateway: gw,
		History: hist,
		View:    view,
		Cue:     cue,
		Logger:  logger,
	})

	srv, err := ipc.StartServer(cfg.Socket, ipc.NewHandler(ctx, ctrl, gw), logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	log.Info("Boot up - successful", "connected", gw.Connected(), "tasks", hist.Len())

	<-ctx.Done()

	log.Info("Shutting down")
	if err := srv.Close(); err != nil {
		log.Warn("Failed to close control socket", "err", err)
	}
	ctrl.Shutdown()
	return nil
}

func newRemote(cfg config.Config, logger *log.Logger) (gateway.Remote, error) {
	httpClient, err := proxy.NewHTTPClient(cfg.Proxy, 0)
	if err != nil {
		return nil, err
	}

	switch cfg.Interpreter {
	case config.InterpreterOpenAI:
		client := openai.NewClient(
			option.WithAPIKey(cfg.OpenAIKey),
			option.WithHTTPClient(httpClient),
		)
		log.Info("Using OpenAI interpreter", "model", cfg.OpenAIModel)
		return gateway.NewOpenAIInterpreter(client, cfg.OpenAIModel, logger), nil

	default:
		log.Info("Using backend interpreter", "url", cfg.APIURL)
		return gateway.NewBackend(cfg.APIURL, httpClient, "LimoneIDE-Go/"+version, logger), nil
	}
}

// watchConfig keeps the backend URL in sync with the config file.
func watchConfig(ctx context.Context, path string, backend *gateway.Backend, logger *log.Logger) {
	w, err := config.NewWatcher(path, logger)
	if err != nil {
		log.Warn("Config reload disabled", "err", err)
		return
	}

	go w.Run(ctx, func(cfg config.Config) {
		if cfg.APIURL != backend.BaseURL() {
			backend.SetBaseURL(cfg.APIURL)
		}
	})
}

// seedHistory replaces the local history with the backend's when it has one.
func seedHistory(ctx context.Context, gw *gateway.Gateway, hist *history.Store) {
	tasks, err := gw.RecentTasks(ctx)
	switch {
	case errors.Is(err, gateway.ErrUnsupported):
		return
	case err != nil:
		log.Warn("Keeping local history", "err", err)
		return
	case len(tasks) == 0:
		return
	}

	hist.Replace(tasks)
	log.Info("History loaded from backend", "tasks", hist.Len())
}

// newInput picks the speech source. Any setup failure yields an input that
// reports permission denied, so the daemon still serves quick commands.
func newInput(cfg config.Config, inputFile string, logger *log.Logger) (speech.Input, func()) {
	nop := func() {}

	tr, err := stt.NewTranscriber(cfg.WhisperModel)
	if err != nil {
		log.Error("Speech recognition unavailable", "err", err)
		return speech.Unavailable{Err: err}, nop
	}

	opts := stt.Options{Language: cfg.Language}
	inputLog := logger.With("component", "input")

	if inputFile != "" {
		log.Info("Reading speech from file", "path", inputFile)
		return &audio.FileInput{
			Path:        inputFile,
			Transcriber: tr,
			Options:     opts,
			MaxRecord:   cfg.MaxRecord,
			Log:         inputLog,
		}, func() { tr.Close() }
	}

	rec := audio.NewRecorder()
	if err := rec.Init(); err != nil {
		log.Error("Microphone unavailable", "err", err)
		tr.Close()
		return speech.Unavailable{Err: err}, nop
	}

	mic := &audio.MicInput{
		Recorder:    rec,
		Transcriber: tr,
		Options:     opts,
		MaxRecord:   cfg.MaxRecord,
		Log:         inputLog,
	}
	if cfg.DuckFactor > 0 {
		self := []string{"limone-daemon", "eSpeak"}
		mic.Ducker = duck.New(duck.Pactl, self, cfg.DuckFactor, cfg.DuckFloor, 300*time.Millisecond, logger)
	}

	return mic, func() {
		rec.Close()
		tr.Close()
	}
}
