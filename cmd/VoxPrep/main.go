package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/voxprep/VoxPrep/internal/api"
	"github.com/voxprep/VoxPrep/internal/auth"
	"github.com/voxprep/VoxPrep/internal/entitlement"
	"github.com/voxprep/VoxPrep/internal/genai"
	"github.com/voxprep/VoxPrep/internal/lockfile"
	"github.com/voxprep/VoxPrep/internal/navigation"
	"github.com/voxprep/VoxPrep/internal/notify"
	"github.com/voxprep/VoxPrep/internal/scheduler"
	"github.com/voxprep/VoxPrep/internal/scoring"
	"github.com/voxprep/VoxPrep/internal/session"
	"github.com/voxprep/VoxPrep/internal/store"
	"github.com/voxprep/VoxPrep/internal/util"
	"github.com/voxprep/VoxPrep/internal/voice"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VoxPrep state data
	DefaultStateDir = "/var/lib/voxprep"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "voxprep.db"
	// DefaultSweepSchedule runs the stale-session sweep every ten minutes
	DefaultSweepSchedule = "*/10 * * * *"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// File-backed state needs the single-instance lock; two processes over
	// one SQLite file corrupt each other.
	if store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		lock, err := lockfile.AcquireLock(filepath.Dir(*flags.dbDSN))
		if err != nil {
			slog.Error("Failed to acquire state directory lock", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	slog.Info("Bootstrapping VoxPrep with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := run(flags); err != nil {
		slog.Error("VoxPrep failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VoxPrep exited successfully")
}

// run opens the store and wires the services together, then serves HTTP
// until the listener exits.
func run(flags Flags) error {
	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	gaClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}
	scorer := scoring.NewForwarder(gaClient)

	voiceClient, err := voice.NewClient(buildVoiceOptions(flags)...)
	if err != nil {
		return err
	}
	authClient, err := auth.NewClient(buildAuthOptions(flags)...)
	if err != nil {
		return err
	}

	gateway := entitlement.NewGateway(st)

	controllerOpts := []session.ControllerOption{}
	if notifier, err := notify.NewSMSNotifier(st); err != nil {
		// SMS delivery is optional; missing Twilio credentials only disable it.
		slog.Info("SMS notifications disabled", "reason", err)
	} else {
		controllerOpts = append(controllerOpts, session.WithNotifier(notifier))
	}
	controller := session.NewController(st, gateway, voiceClient, scorer, controllerOpts...)
	defer controller.Stop()

	if err := controller.RecoverSessions(context.Background()); err != nil {
		slog.Error("Failed to recover leftover sessions", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if _, err := sched.AddJob(*flags.sweepCron, func() {
		if err := controller.SweepStale(context.Background(), session.DefaultStaleAfter); err != nil {
			slog.Error("Stale session sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}

	resolver := navigation.NewResolver(st)
	server := api.NewServer(st, authClient, controller, voiceClient, gateway, resolver, scorer, buildAPIOptions(flags)...)
	return server.Run()
}

// openStore picks a backend from the DSN: postgres, sqlite, or in-memory
// when no DSN is configured.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		s, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Config holds environment configuration
type Config struct {
	DatabaseDSN string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	VoiceAPIKey string
	AuthURL     string
	AuthAnonKey string
	SweepCron   string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	apiAddr     *string
	voiceAPIKey *string
	authURL     *string
	authAnonKey *string
	sweepCron   *string
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevelFromEnv()}))
	slog.SetDefault(logger)
}

// logLevelFromEnv selects the log level: debug when VOXPREP_DEBUG is set
// truthy, info otherwise
func logLevelFromEnv() slog.Level {
	if util.ParseBoolEnv("VOXPREP_DEBUG", false) {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		StateDir:    os.Getenv("VOXPREP_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		VoiceAPIKey: os.Getenv("VOICE_AGENT_API_KEY"),
		AuthURL:     os.Getenv("AUTH_PROVIDER_URL"),
		AuthAnonKey: os.Getenv("AUTH_PROVIDER_ANON_KEY"),
		SweepCron:   os.Getenv("SWEEP_SCHEDULE"),
	}

	if config.DatabaseDSN == "" {
		config.DatabaseDSN = os.Getenv("DATABASE_URL")
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VOXPREP_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.SweepCron == "" {
		config.SweepCron = DefaultSweepSchedule
	}

	slog.Debug("environment variables loaded",
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"VOXPREP_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"VOICE_AGENT_API_KEY_SET", config.VoiceAPIKey != "",
		"AUTH_PROVIDER_URL", config.AuthURL,
		"SWEEP_SCHEDULE", config.SweepCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for VoxPrep data (overrides $VOXPREP_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseDSN, "database DSN (overrides $DATABASE_DSN or $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		voiceAPIKey: flag.String("voice-api-key", config.VoiceAPIKey, "voice provider API key (overrides $VOICE_AGENT_API_KEY)"),
		authURL:     flag.String("auth-url", config.AuthURL, "auth provider base URL (overrides $AUTH_PROVIDER_URL)"),
		authAnonKey: flag.String("auth-anon-key", config.AuthAnonKey, "auth provider anon key (overrides $AUTH_PROVIDER_ANON_KEY)"),
		sweepCron:   flag.String("sweep-cron", config.SweepCron, "cron schedule for the stale-session sweep (overrides $SWEEP_SCHEDULE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"voiceKeySet", *flags.voiceAPIKey != "",
		"authURL", *flags.authURL,
		"sweepCron", *flags.sweepCron)

	// Follow a state-dir override when the DSN still points at the default
	// SQLite location.
	if *flags.dbDSN == config.DatabaseDSN && config.DatabaseDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "sqlite3" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	return opts
}

// buildVoiceOptions constructs voice provider configuration options
func buildVoiceOptions(flags Flags) []voice.Option {
	var opts []voice.Option
	if *flags.voiceAPIKey != "" {
		opts = append(opts, voice.WithAPIKey(*flags.voiceAPIKey))
	}
	return opts
}

// buildAuthOptions constructs auth provider configuration options
func buildAuthOptions(flags Flags) []auth.Option {
	var opts []auth.Option
	if *flags.authURL != "" {
		opts = append(opts, auth.WithBaseURL(*flags.authURL))
	}
	if *flags.authAnonKey != "" {
		opts = append(opts, auth.WithAnonKey(*flags.authAnonKey))
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
