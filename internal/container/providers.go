package container

import (
	"fmt"
	"sort"

	"github.com/garyjia/payapp-engine/internal/application/dispatcher"
	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/application/service"
	"github.com/garyjia/payapp-engine/internal/application/workflow"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	"github.com/garyjia/payapp-engine/internal/infrastructure/export"
	"github.com/garyjia/payapp-engine/internal/infrastructure/identity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/memory"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/payapp-engine/internal/infrastructure/storage"
	"github.com/garyjia/payapp-engine/internal/notification"
	"github.com/garyjia/payapp-engine/pkg/database"
	"github.com/garyjia/payapp-engine/pkg/utils"
	"go.uber.org/zap"
)

// StoreBundle holds the store and, for SQLite, the connection behind it.
type StoreBundle struct {
	Store port.Store
	Conn  *database.DB
}

// ProvideStore opens the configured store. SQLite databases are migrated
// before the store is returned.
func ProvideStore(cfg *DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on exit")
		return &StoreBundle{Store: memory.NewStore()}, nil
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := sqlite.Migrate(conn, logger); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db := sqlite.NewDB(conn.DB, logger)
	return &StoreBundle{
		Store: repository.NewStore(db, logger),
		Conn:  conn,
	}, nil
}

// ProvideDirectory loads the user directory.
func ProvideDirectory(cfg *IdentityConfig) (*identity.Directory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("identity config is required")
	}
	dir, err := identity.LoadDirectory(cfg.UsersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return dir, nil
}

// ProvideDispatcher creates the event dispatcher.
// Returns dispatcher.Dispatcher implementation.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))),
	), nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Store      port.Store
	Authorizer *service.Authorizer
	Publisher  service.Publisher
	Logger     *zap.Logger
}

// ProvideServices creates all application services.
// Returns ServiceBundle containing all service implementations.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := utils.NewKVLogger(deps.Logger)
	ledger := service.NewLedgerService(deps.Store, deps.Authorizer, serviceLogger)

	return &ServiceBundle{
		Ledger:     ledger,
		Expense:    service.NewExpenseService(deps.Store, ledger, deps.Authorizer, deps.Publisher, serviceLogger),
		Settlement: service.NewSettlementService(deps.Store, deps.Authorizer, serviceLogger),
	}, nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Store      port.Store
	Ledger     workflow.LedgerRoller
	Authorizer *service.Authorizer
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the review workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.ReviewWorkflow, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return workflow.NewEngine(deps.Store, deps.Ledger, deps.Authorizer,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(utils.NewKVLogger(deps.Logger.Named("workflow"))),
	), nil
}

// ProvideNotifications subscribes the notice router and the audit log to
// the dispatcher.
func ProvideNotifications(d dispatcher.Dispatcher, projects notification.ProjectLoader, users notification.UserLister, logger *zap.Logger) *notification.Router {
	router := notification.NewRouter(notification.NewLogNotifier(logger.Named("notice")), projects, users, logger)
	router.Register(d)
	d.SubscribeAll("audit-log", notification.AuditLog(logger.Named("audit")))
	return router
}

// ProvideWriters returns the certificate writers keyed by format name.
func ProvideWriters(logger *zap.Logger) map[string]port.CertificateWriter {
	return map[string]port.CertificateWriter{
		"json": export.NewJSONWriter(),
		"xlsx": export.NewXLSXWriter(logger),
	}
}

// ProvideArchive subscribes a certificate archive to finalization events.
// It returns nil when no archive directory is configured.
func ProvideArchive(cfg *ExportConfig, d dispatcher.Dispatcher, source storage.CertificateSource, writers map[string]port.CertificateWriter, logger *zap.Logger) *storage.CertificateArchive {
	if cfg.ArchiveDir == "" {
		return nil
	}

	formats := make([]string, 0, len(writers))
	for name := range writers {
		formats = append(formats, name)
	}
	sort.Strings(formats)
	ordered := make([]port.CertificateWriter, 0, len(formats))
	for _, name := range formats {
		ordered = append(ordered, writers[name])
	}

	archive := storage.NewCertificateArchive(cfg.ArchiveDir, source, ordered, logger.Named("archive"))
	d.SubscribeNamed(event.TypeApplicationFinalized, "archive-certificate", archive.HandleFinalized)
	logger.Info("Certificate archive enabled",
		zap.String("dir", cfg.ArchiveDir),
		zap.Strings("formats", formats))
	return archive
}
