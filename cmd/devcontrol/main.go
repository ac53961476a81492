// devcontrol - MQTT device control plane
//
// This is the main entry point for devcontrol. It provisions devices on a
// mosquitto broker, tracks their presence and status, dispatches operator
// commands and keeps each device's stored schedule in step with the one
// held in the registry.
//
// Operator commands are read one per line from standard input; presence
// notices and command output go to standard output.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/devcontrol/internal/auth"
	"github.com/nerrad567/devcontrol/internal/broker"
	"github.com/nerrad567/devcontrol/internal/catalog"
	"github.com/nerrad567/devcontrol/internal/control"
	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/infrastructure/config"
	"github.com/nerrad567/devcontrol/internal/infrastructure/database"
	"github.com/nerrad567/devcontrol/internal/infrastructure/influxdb"
	"github.com/nerrad567/devcontrol/internal/infrastructure/logging"
	"github.com/nerrad567/devcontrol/internal/infrastructure/mqtt"
	"github.com/nerrad567/devcontrol/internal/operator"
	"github.com/nerrad567/devcontrol/internal/session"
	"github.com/nerrad567/devcontrol/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// Default dotenv file holding secrets such as DEVCONTROL_MQTT_PASSWORD
	defaultEnvFile = ".env"
)

// errBrokerGone reports that the managed broker stopped and will not be
// restarted.
var errBrokerGone = errors.New("managed broker stopped")

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command line flags.
type options struct {
	configPath  string
	envFile     string
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}

	flagSet := pflag.NewFlagSet("devcontrol", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default: $DEVCONTROL_CONFIG or "+defaultConfigPath+")")
	flagSet.StringVar(&opts.envFile, "env-file", defaultEnvFile, "dotenv file loaded before the config; a missing file is ignored")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//   - stdin: Operator command stream; EOF shuts devcontrol down
//   - stdout: Operator output and presence notices
//   - stderr: Operator diagnostics
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "devcontrol %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting devcontrol",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadEnvFile(opts.envFile); err != nil {
		return err
	}

	// Load configuration
	configPath := getConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := device.NewSQLiteRepository(db.DB)
	hasher, err := auth.NewHasher(cfg.Auth.HashScheme)
	if err != nil {
		return fmt.Errorf("creating credential hasher: %w", err)
	}

	// The broker authenticates against the auth table, so the superuser
	// must exist before anything connects.
	err = repo.InTx(ctx, func(reg device.Registry) error {
		_, ensureErr := auth.EnsureSuperuser(ctx, reg,
			cfg.MQTT.Auth.Username,
			cfg.Auth.SuperuserDisplayName,
			cfg.MQTT.Auth.Password,
			hasher,
			log.Logger,
		)
		return ensureErr
	})
	if err != nil {
		return fmt.Errorf("provisioning superuser: %w", err)
	}

	checks := map[string]control.HealthChecker{"database": db}

	// Start mosquitto (if managed)
	var brokerManager *broker.Manager
	var brokerLines <-chan string
	var brokerLog io.Writer
	if cfg.Broker.Managed {
		brokerManager, err = startBroker(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("starting broker: %w", err)
		}
		defer func() {
			if stopErr := brokerManager.Stop(); stopErr != nil {
				log.Error("error stopping broker", "error", stopErr)
			}
		}()
		checks["broker"] = brokerManager
		brokerLines = brokerManager.Lines()

		if cfg.Broker.LogPath != "" {
			rl, rlErr := logging.NewRotatingWriter(logging.RotationConfig{
				Path:   cfg.Broker.LogPath,
				MaxAge: time.Duration(cfg.Broker.LogMaxAgeDays) * 24 * time.Hour,
			})
			if rlErr != nil {
				return fmt.Errorf("opening broker log: %w", rlErr)
			}
			defer rl.Close()
			brokerLog = rl
		}
	} else {
		log.Info("broker not managed, expecting an external mosquitto")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	checks["mqtt"] = mqttClient
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var activity session.ActivityRecorder
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		activity = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	coord := session.New(session.Config{
		KickPSK: cfg.Auth.KickPSK,
	}, session.Deps{
		Catalog:  catalog.Default(),
		Bus:      mqttClient,
		Kicker:   mqtt.NewKicker(cfg.MQTT),
		Hasher:   hasher,
		Logger:   log,
		Activity: activity,
		Notices:  stdout,
	})

	loop := control.New(control.Config{
		PollTimeout:  cfg.PollTimeout(),
		ErrorBackoff: cfg.ErrorBackoff(),
	}, control.Deps{
		Coordinator: coord,
		Operator:    operator.New(coord, stdout, stderr),
		Store:       repo,
		Checks:      checks,
		BrokerLog:   brokerLog,
		Diagnostics: stderr,
		Logger:      log,
	})

	lines := make(chan string)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// The reader is not part of the group: a read on a terminal cannot be
	// interrupted, and it exits with the process.
	go readLines(runCtx, stdin, lines, log)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer stop()
		return loop.Run(gctx, control.Inputs{
			Lines:       lines,
			Events:      mqttClient.Events(),
			BrokerLines: brokerLines,
		})
	})
	if brokerManager != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-brokerManager.Done():
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %s", errBrokerGone, brokerManager.Stats().LastError)
			}
		})
	}

	log.Info("initialisation complete, reading operator commands")
	err = g.Wait()

	log.Info("shutting down")
	// Deferred Close() calls will run in reverse order:
	// 1. InfluxDB (if enabled)
	// 2. MQTT
	// 3. Broker log and broker (if managed)
	// 4. Database
	if err != nil {
		return err
	}
	log.Info("devcontrol stopped")
	return nil
}

// getConfigPath returns the configuration file path: the --config flag,
// then the DEVCONTROL_CONFIG environment variable, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("DEVCONTROL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadEnvFile exports the variables in path without overriding ones
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// startBroker renders mosquitto.conf from cfg and starts the broker.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - *broker.Manager: Running broker manager
//   - error: If the broker fails to start
func startBroker(ctx context.Context, cfg *config.Config, log *logging.Logger) (*broker.Manager, error) {
	// The broker runs from the directory of its config file, so the auth
	// plugin needs an absolute database path.
	dbPath, err := filepath.Abs(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}

	manager, err := broker.NewManager(broker.Config{
		Binary:             cfg.Broker.Binary,
		ConfigPath:         cfg.Broker.ConfigPath,
		Port:               cfg.MQTT.Broker.Port,
		CertFile:           cfg.Broker.CertFile,
		KeyFile:            cfg.Broker.KeyFile,
		AuthPlugin:         cfg.Broker.AuthPlugin,
		DBPath:             dbPath,
		Superuser:          cfg.MQTT.Auth.Username,
		GuestSecret:        cfg.Auth.KickPSK,
		RestartOnFailure:   cfg.Broker.RestartOnFailure,
		RestartDelay:       time.Duration(cfg.Broker.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: cfg.Broker.MaxRestartAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("creating broker manager: %w", err)
	}
	manager.SetLogger(log)

	if err := manager.Start(ctx); err != nil {
		return nil, err
	}

	stats := manager.Stats()
	log.Info("broker started", "address", stats.Address, "pid", stats.PID)
	return manager, nil
}

// readLines sends each line of r to lines and closes lines at EOF.
func readLines(ctx context.Context, r io.Reader, lines chan<- string, log *logging.Logger) {
	defer close(lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error("reading operator input failed", "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - checks: Components keyed by name
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]control.HealthChecker) error {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := checks[name].HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
