package main

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/kdimtricp/spectator/internal/api"
	"github.com/kdimtricp/spectator/internal/database"
	"github.com/kdimtricp/spectator/internal/evidence"
	"github.com/kdimtricp/spectator/internal/gemini"
	"github.com/kdimtricp/spectator/internal/resolver"
	"github.com/kdimtricp/spectator/internal/session"
	"github.com/kdimtricp/spectator/internal/storage"
)

func main() {
	godotenv.Load()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel(),
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	port := getEnv("PORT", "8080")
	uploadDir := getEnv("UPLOAD_DIR", "./uploads")

	maxSize, err := strconv.ParseInt(getEnv("MAX_UPLOAD_SIZE", "2147483648"), 10, 64)
	if err != nil {
		logger.Error("invalid MAX_UPLOAD_SIZE", "err", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		logger.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}

	localStorage, err := storage.NewLocalStorage(uploadDir)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}

	db, err := database.NewDB()
	if err != nil {
		logger.Error("failed to initialize transcript store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var clientOpts []gemini.Option
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		clientOpts = append(clientOpts, gemini.WithModel(model))
	}
	if baseURL := os.Getenv("GEMINI_BASE_URL"); baseURL != "" {
		clientOpts = append(clientOpts, gemini.WithBaseURL(baseURL))
	}
	inference := gemini.NewClient(apiKey, clientOpts...)

	engine, err := evidence.NewEngine()
	if err != nil {
		logger.Error("failed to initialize capture engine", "err", err)
		os.Exit(1)
	}
	defer engine.Cleanup()

	warnBytes, _ := strconv.ParseInt(getEnv("FETCH_WARN_BYTES", "0"), 10, 64)
	mediaResolver := resolver.New(resolver.Config{
		DelegateURL: os.Getenv("DELEGATE_RESOLVER_URL"),
		WarnBytes:   warnBytes,
	})

	var pollInterval time.Duration
	if seconds, err := strconv.Atoi(getEnv("POLL_INTERVAL_SECONDS", "0")); err == nil && seconds > 0 {
		pollInterval = time.Duration(seconds) * time.Second
	}

	manager := session.NewManager(inference, engine, localStorage, database.NewTranscriptRepo(db),
		session.ManagerConfig{PollInterval: pollInterval}, logger)

	app := &api.App{
		Sessions:      manager,
		Resolver:      mediaResolver,
		MaxUploadSize: maxSize,
		HTTPClient:    &http.Client{Timeout: 10 * time.Minute},
		Logger:        logger,
	}

	router := api.NewRouter(app)

	logger.Info("server starting",
		"port", port,
		"upload_dir", uploadDir,
		"max_upload_size", maxSize,
		"delegate_resolver", getEnv("DELEGATE_RESOLVER_URL", resolver.DefaultDelegateEndpoint))

	if err := http.ListenAndServe(":"+port, router); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	switch getEnv("LOG_LEVEL", "info") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
