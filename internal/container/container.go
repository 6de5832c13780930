package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/payapp-engine/internal/application/dispatcher"
	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/application/service"
	"github.com/garyjia/payapp-engine/internal/application/workflow"
	"github.com/garyjia/payapp-engine/internal/infrastructure/identity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/storage"
	"github.com/garyjia/payapp-engine/internal/notification"
	"github.com/garyjia/payapp-engine/pkg/database"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure
	conn      *database.DB
	store     port.Store
	directory *identity.Directory
	writers   map[string]port.CertificateWriter

	// Application
	authorizer *service.Authorizer
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle
	workflow   workflow.ReviewWorkflow
	notices    *notification.Router
	archive    *storage.CertificateArchive

	// Lifecycle
	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Ledger     service.LedgerService
	Expense    service.ExpenseService
	Settlement service.SettlementService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Store (database and migrations)
// 2. Identity directory and authorizer
// 3. Event dispatcher and notification handlers
// 4. Application services and workflow engine
// 5. Certificate writers and the optional archive
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	bundle, err := ProvideStore(&c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	c.store = bundle.Store
	c.conn = bundle.Conn
	c.logger.Info("Store initialized", zap.String("driver", c.config.Database.Driver))

	dir, err := ProvideDirectory(&c.config.Identity)
	if err != nil {
		c.closeStore()
		return fmt.Errorf("failed to initialize identity: %w", err)
	}
	c.directory = dir
	c.authorizer = service.NewAuthorizer(dir)
	c.logger.Info("Identity directory loaded", zap.Int("users", len(dir.Users())))

	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		c.closeStore()
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.dispatcher = disp
	c.notices = ProvideNotifications(disp, c.store, dir, c.logger)

	services, err := ProvideServices(&ServiceDeps{
		Store:      c.store,
		Authorizer: c.authorizer,
		Publisher:  c.dispatcher,
		Logger:     c.logger,
	})
	if err != nil {
		c.closeStore()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.services = services

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Store:      c.store,
		Ledger:     services.Ledger,
		Authorizer: c.authorizer,
		Dispatcher: c.dispatcher,
		Logger:     c.logger,
	})
	if err != nil {
		c.closeStore()
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}
	c.workflow = engine
	c.logger.Info("Application services and workflow engine initialized")

	c.writers = ProvideWriters(c.logger)
	c.archive = ProvideArchive(&c.config.Export, c.dispatcher, services.Settlement, c.writers, c.logger)

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Drain async handlers before the store goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if err := c.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) closeStore() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	if err != nil {
		c.logger.Error("Failed to close database", zap.Error(err))
	}
	c.conn = nil
	return err
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	mark := func(name string, ok bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: ok, Message: msg}
		if !ok {
			status.Overall = false
		}
	}

	switch {
	case c.store == nil:
		mark("store", false, "not initialized")
	case c.conn != nil:
		if err := c.conn.Ping(); err != nil {
			mark("store", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			mark("store", true, "sqlite")
		}
	default:
		mark("store", true, "memory")
	}

	if c.directory != nil {
		mark("identity", true, fmt.Sprintf("users: %d", len(c.directory.Users())))
	} else {
		mark("identity", false, "not initialized")
	}

	if c.dispatcher != nil {
		mark("dispatcher", true, "")
	} else {
		mark("dispatcher", false, "not initialized")
	}

	if c.workflow != nil {
		mark("workflow", true, "")
	} else {
		mark("workflow", false, "not initialized")
	}

	return status
}

// Getters for accessing container components

// Store returns the persistence store.
func (c *Container) Store() port.Store {
	return c.store
}

// Directory returns the identity directory.
func (c *Container) Directory() *identity.Directory {
	return c.directory
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workflow returns the review workflow engine.
func (c *Container) Workflow() workflow.ReviewWorkflow {
	return c.workflow
}

// Archive returns the certificate archive, or nil when archiving is off.
func (c *Container) Archive() *storage.CertificateArchive {
	return c.archive
}

// Writer returns the certificate writer for format, falling back to the
// configured default when format is empty.
func (c *Container) Writer(format string) (port.CertificateWriter, bool) {
	if format == "" {
		format = c.config.Export.DefaultFormat
	}
	w, ok := c.writers[format]
	return w, ok
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
