package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vimrgb-core/internal/api"
	"github.com/nerrad567/vimrgb-core/internal/editor"
	"github.com/nerrad567/vimrgb-core/internal/hardware"
	"github.com/nerrad567/vimrgb-core/internal/history"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/config"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/database"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/logging"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/vimrgb-core/internal/session"
	"github.com/nerrad567/vimrgb-core/internal/theme"
	"github.com/nerrad567/vimrgb-core/internal/updater"
	"github.com/nerrad567/vimrgb-core/migrations"
)

// watchReloadTimeout bounds a reload triggered by a theme file change.
const watchReloadTimeout = 10 * time.Second

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the lighting daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := flags.load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, path)
		},
	}
}

// run wires every component, blocks until ctx is cancelled and tears
// everything down in reverse order.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - cfg: Validated configuration
//   - configPath: File the configuration came from ("" for defaults)
//
// Returns:
//   - error: nil on clean shutdown, or the first startup failure
func run(ctx context.Context, cfg *config.Config, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.New(cfg.Logging, version)
	log.Info("starting vimrgb",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	policy, err := updater.ParsePolicy(cfg.Updater.Policy)
	if err != nil {
		return fmt.Errorf("updater policy: %w", err)
	}

	checks := make(map[string]api.HealthChecker)

	// MQTT carries editor events and, for the mqtt backend, LED frames.
	var mqttClient *mqtt.Client
	if cfg.Editor.Enabled || cfg.Hardware.Backend == config.BackendMQTT {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	var pub hardware.Publisher
	if mqttClient != nil {
		pub = mqttClient
	}
	controller, err := hardware.New(cfg.Hardware, pub)
	if err != nil {
		return fmt.Errorf("creating %s hardware backend: %w", cfg.Hardware.Backend, err)
	}
	defer func() {
		if closeErr := controller.Close(); closeErr != nil {
			log.Error("error closing hardware", "error", closeErr)
		}
	}()
	log.Info("hardware backend ready", "backend", cfg.Hardware.Backend, "devices", len(cfg.Hardware.Devices))

	sess, err := session.New(session.Options{
		Controller: controller,
		LoadTheme: func() (*theme.Theme, error) {
			return theme.LoadFile(cfg.Theme.Path)
		},
		Logger:                 log.With("component", "session"),
		QueueSize:              cfg.Updater.QueueSize,
		Policy:                 policy,
		WriteTimeout:           cfg.WriteTimeout(),
		RetryOnce:              cfg.Updater.RetryOnce,
		MaxConsecutiveFailures: cfg.Updater.MaxConsecutiveFailures,
		Aliases:                cfg.Editor.Aliases,
		InitialMode:            cfg.Editor.InitialMode,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	// Optional apply history in SQLite.
	var historyRepo *history.SQLiteRepository
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", db.Path())

		historyRepo = history.NewSQLiteRepository(db.DB)
		retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		recorder := history.NewRecorder(historyRepo, sess.ID(), retention)
		recorder.SetLogger(log.With("component", "history"))
		recorder.Start(ctx)
		defer recorder.Stop()
		sess.AddObserver(recorder)
		checks["database"] = db
	}

	// Optional telemetry in InfluxDB.
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sess.AddObserver(influxClient)
		checks["influxdb"] = influxClient

		interval := time.Duration(cfg.InfluxDB.FlushInterval) * time.Second
		go reportQueueStats(ctx, sess, influxClient, interval)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	var bridge *editor.Bridge
	if cfg.Editor.Enabled {
		bridge = editor.NewBridge(mqttClient, sess, mqttClient.QoS())
		bridge.SetLogger(log.With("component", "editor"))
		sess.AddObserver(bridge)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log.With("component", "api"),
			Session: sess,
			Checks:  checks,
			Version: version,
		}
		if historyRepo != nil {
			deps.History = historyRepo
			deps.DB = db.DB
		}
		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		sess.AddObserver(apiServer)
	}

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer sess.Stop()

	if bridge != nil {
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting editor bridge: %w", err)
		}
		defer bridge.Stop()
	}

	if apiServer != nil {
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if cfg.Theme.Watch {
		watcher := theme.NewWatcher(cfg.Theme.Path, cfg.DebounceDuration(), func() {
			rctx, cancel := context.WithTimeout(ctx, watchReloadTimeout)
			defer cancel()
			if err := sess.Reload(rctx); err != nil {
				log.Warn("theme reload failed, keeping previous theme", "error", err)
				return
			}
			log.Info("theme reloaded", "path", cfg.Theme.Path)
		})
		watcher.SetLogger(log.With("component", "theme"))
		if err := watcher.Start(); err != nil {
			log.Warn("theme watcher unavailable, hot reload disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// queueStatsSink receives periodic queue counters. Satisfied by
// *influxdb.Client.
type queueStatsSink interface {
	WriteQueueStats(stats updater.QueueStats, length int)
}

// reportQueueStats samples the session queue every interval until ctx
// is cancelled.
func reportQueueStats(ctx context.Context, sess *session.Session, sink queueStatsSink, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := sess.Status()
			sink.WriteQueueStats(st.Queue, st.QueueLength)
		}
	}
}
