package cli

import (
	"context"
	"os"
	"strings"

	"github.com/ignatij/taskflow/internal/config"
	"github.com/ignatij/taskflow/internal/eventbus"
	"github.com/ignatij/taskflow/internal/log"
	internal_storage "github.com/ignatij/taskflow/internal/storage"
	"github.com/ignatij/taskflow/internal/telemetry"
	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/service"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is reported in telemetry resources.
var Version = "dev"

// app holds the flag values and the lazily opened service shared by all
// commands of one invocation.
type app struct {
	configPath  string
	dbConnStr   string
	storeDriver string
	actorID     string
	actorRole   string
	output      string

	cfg      *config.Config
	injected storage.Store
	store    storage.Store
	bus      *eventbus.Bus
	svc      *service.FulfillmentService
}

type Option func(*app)

// WithStore makes every command use s instead of opening a store from
// configuration.
func WithStore(s storage.Store) Option {
	return func(a *app) {
		a.injected = s
	}
}

// SetupCLI registers the taskflow commands and global flags on rootCmd.
func SetupCLI(rootCmd *cobra.Command, opts ...Option) {
	a := &app{}
	for _, opt := range opts {
		opt(a)
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to a taskflow.yaml config file")
	flags.StringVar(&a.dbConnStr, "db", "", "Database connection string (overrides db.url)")
	flags.StringVar(&a.storeDriver, "store", "", "Store driver: postgres or memory (overrides store.driver)")
	flags.StringVar(&a.actorID, "actor", os.Getenv("TASKFLOW_ACTOR"), "ID of the acting user")
	flags.StringVar(&a.actorRole, "role", os.Getenv("TASKFLOW_ROLE"), "Role of the acting user (admin, manager, developer, qa_manager, client)")
	flags.StringVarP(&a.output, "output", "o", "text", "Output format: text, json or yaml")

	rootCmd.SilenceUsage = true
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		a.close(cmd.Context())
	}
	rootCmd.AddCommand(newServeCmd(a), newTaskCmd(a), newBoardCmd(a))
}

// service opens the configured store and builds the fulfillment service on
// first use.
func (a *app) service(ctx context.Context) (*service.FulfillmentService, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	store := a.injected
	if store == nil {
		cfg, err := config.Load(a.configPath, map[string]string{
			"db.url":       a.dbConnStr,
			"store.driver": a.storeDriver,
		})
		if err != nil {
			return nil, err
		}
		a.cfg = cfg
		if err := log.SetLevel(cfg.Log.Level); err != nil {
			return nil, err
		}
		if err := telemetry.Init(ctx, cfg.Telemetry, "taskflow", Version); err != nil {
			return nil, err
		}
		if store, err = openStore(ctx, cfg); err != nil {
			return nil, err
		}
		log.GetLogger().Debugf("Opened %s store", cfg.Store.Driver)
	}

	a.store = telemetry.WrapStore(store)
	a.bus = eventbus.New()
	a.bus.Register(eventbus.HandlerFunc("event-log", 100, logEvent))
	a.svc = service.NewFulfillmentService(a.store, log.GetLogger(), service.WithPublisher(a.bus))
	return a.svc, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Store.Driver == config.DriverMemory {
		return storage.NewMemoryStore(), nil
	}
	store, err := internal_storage.InitStore(ctx, cfg.DB.URL, cfg.DB.ConnectTimeout, cfg.DB.MaxRetries)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize store")
	}
	return store, nil
}

func logEvent(_ context.Context, e models.TaskEvent) error {
	log.GetLogger().WithFields(logrus.Fields{
		"event":   e.Type,
		"task_id": e.TaskID,
		"from":    e.From,
		"to":      e.To,
		"actor":   e.Actor.ID,
	}).Debug("task event")
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil && a.injected == nil {
		if err := a.store.Close(); err != nil {
			log.GetLogger().Errorf("Failed to close store: %v", err)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	telemetry.Shutdown(ctx)
}

// actor returns the caller identity from --actor/--role.
func (a *app) actor() (models.Actor, error) {
	id := strings.TrimSpace(a.actorID)
	role := models.Role(strings.ToLower(strings.TrimSpace(a.actorRole)))
	if id == "" {
		return models.Actor{}, errors.New("--actor (or TASKFLOW_ACTOR) is required")
	}
	if !role.IsValid() {
		return models.Actor{}, errors.Errorf("invalid --role %q (want admin, manager, developer, qa_manager or client)", a.actorRole)
	}
	return models.Actor{ID: id, Role: role}, nil
}

// session resolves the actor and the service in one step.
func (a *app) session(cmd *cobra.Command) (*service.FulfillmentService, models.Actor, error) {
	actor, err := a.actor()
	if err != nil {
		return nil, models.Actor{}, err
	}
	svc, err := a.service(cmd.Context())
	if err != nil {
		return nil, models.Actor{}, err
	}
	return svc, actor, nil
}
