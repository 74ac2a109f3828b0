package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ScreenPipe/internal/api"
	"github.com/BTreeMap/ScreenPipe/internal/engine"
	"github.com/BTreeMap/ScreenPipe/internal/genai"
	"github.com/BTreeMap/ScreenPipe/internal/lockfile"
	"github.com/BTreeMap/ScreenPipe/internal/store"
	"github.com/BTreeMap/ScreenPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ScreenPipe state data
	DefaultStateDir = "/var/lib/screenpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "screenpipe.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	// One instance per state directory; the lock is released on exit.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	oracle, err := buildOracle(flags)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(st, oracle, buildEngineOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize interview engine", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(eng, buildAPIOptions(flags)...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping ScreenPipe", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "")
	if err := server.Run(ctx); err != nil {
		slog.Error("ScreenPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ScreenPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	OpenAIModel   string
	APIAddr       string
	ContextWindow int
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	openaiModel   *string
	apiAddr       *string
	contextWindow *int
}

// initializeLogger sets up structured logging; SCREENPIPE_DEBUG enables debug level
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("SCREENPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("SCREENPIPE_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		APIAddr:       os.Getenv("API_ADDR"),
		ContextWindow: util.ParseIntEnv("CONTEXT_WINDOW", engine.DefaultContextWindow),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SCREENPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Without a database URL, default to SQLite in the state directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SCREENPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"CONTEXT_WINDOW", config.ContextWindow)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for ScreenPipe data (overrides $SCREENPIPE_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:   flag.String("openai-model", config.OpenAIModel, "OpenAI model for scoring and safety oracles (overrides $OPENAI_MODEL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		contextWindow: flag.Int("context-window", config.ContextWindow, "transcript entries given to the scoring oracle (overrides $CONTEXT_WINDOW)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel,
		"apiAddr", *flags.apiAddr,
		"contextWindow", *flags.contextWindow)

	// Database DSN tracks the state directory when neither was set explicitly.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStore selects and opens the storage backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildOracle constructs the GenAI client backing both oracles.
func buildOracle(flags Flags) (genai.ClientInterface, error) {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		opts = append(opts, genai.WithModel(*flags.openaiModel))
	}
	return genai.NewClient(opts...)
}

// buildEngineOptions constructs engine configuration options
func buildEngineOptions(flags Flags) []engine.Option {
	var opts []engine.Option
	if *flags.contextWindow > 0 {
		opts = append(opts, engine.WithContextWindow(*flags.contextWindow))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	return opts
}
