package container

import (
	"context"
	"fmt"

	"github.com/garyjia/disbursement-approvals/internal/application/dispatcher"
	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/application/service"
	"github.com/garyjia/disbursement-approvals/internal/domain/workflow"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/auth"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/notify"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/persistence/repository"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/seed"
	"github.com/garyjia/disbursement-approvals/internal/infrastructure/worker"
	"github.com/garyjia/disbursement-approvals/internal/rules"
	"github.com/garyjia/disbursement-approvals/pkg/database"
	"github.com/garyjia/disbursement-approvals/pkg/utils"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components
type DatabaseBundle struct {
	Raw            *database.DB
	TransactionMgr *sqldb.DB
}

// RepositoryBundle groups all repositories
type RepositoryBundle struct {
	Disbursement     port.DisbursementRepository
	Template         port.TemplateRepository
	DisbursementType port.DisbursementTypeRepository
	Directory        port.DirectoryRepository
}

// ServiceBundle groups all application services
type ServiceBundle struct {
	Template     service.TemplateService
	Gate         service.TransitionGate
	Disbursement service.DisbursementService
	Notification service.NotificationService
}

// ServiceDeps holds dependencies for ProvideServices
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Auth       port.Authenticator
	Rules      workflow.RuleEvaluator
	Dispatcher dispatcher.Dispatcher
	Publisher  *notify.RedisPublisher
	Audit      port.AuditSink
	Logger     *zap.Logger
}

// ProvideDatabase opens the database and applies the embedded migrations
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(database.Schema, database.SchemaDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Raw:            db,
		TransactionMgr: sqldb.NewDB(db, logger),
	}, nil
}

// ProvideRepositories creates all repositories
func ProvideRepositories(db *sqldb.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Disbursement:     repository.NewDisbursementRepository(db, logger),
		Template:         repository.NewTemplateRepository(db, logger),
		DisbursementType: repository.NewDisbursementTypeRepository(db, logger),
		Directory:        repository.NewDirectoryRepository(db, logger),
	}, nil
}

// ProvideAuthenticator creates the JWT authenticator
func ProvideAuthenticator(cfg *AuthConfig) (*auth.JWTManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth config is required")
	}
	return auth.NewJWTManager(auth.Config{
		Secret: cfg.JWTSecret,
		Issuer: cfg.Issuer,
		TTL:    cfg.TokenTTL,
	})
}

// ProvidePublisher connects the Redis publisher. It returns nil when Redis
// is not configured.
func ProvidePublisher(ctx context.Context, cfg *RedisConfig, logger *zap.Logger) (*notify.RedisPublisher, error) {
	if cfg == nil || cfg.Addr == "" {
		logger.Info("Redis not configured, events will not be published")
		return nil, nil
	}
	return notify.NewRedisPublisher(ctx, notify.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Channel:  cfg.Channel,
	}, logger)
}

// ProvideDispatcher creates the event dispatcher
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKVLogger(logger))), nil
}

// ProvideServices creates all application services and registers the
// notification handlers on the dispatcher
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	logger := utils.NewKVLogger(deps.Logger)
	repos := deps.Repos

	templates := service.NewTemplateService(repos.Template, repos.Disbursement, deps.TxManager, deps.Dispatcher, logger)
	gate := service.NewTransitionGate(
		deps.Auth,
		repos.Directory,
		repos.Disbursement,
		repos.DisbursementType,
		repos.Template,
		templates,
		deps.TxManager,
		workflow.NewMachine(deps.Rules),
		deps.Dispatcher,
		logger,
	)
	disbursements := service.NewDisbursementService(gate, repos.Disbursement, repos.DisbursementType, deps.Dispatcher, logger)

	var publisher port.EventPublisher
	if deps.Publisher != nil {
		publisher = deps.Publisher
	}
	notification := service.NewNotificationService(publisher, deps.Audit, logger)
	notification.Register(deps.Dispatcher)

	return &ServiceBundle{
		Template:     templates,
		Gate:         gate,
		Disbursement: disbursements,
		Notification: notification,
	}, nil
}

// ProvideSeed loads the seed file into the stores
func ProvideSeed(ctx context.Context, path string, templates service.TemplateService, repos *RepositoryBundle, compiler *rules.ExprEvaluator, logger *zap.Logger) error {
	if path == "" {
		return nil
	}

	f, err := seed.Load(path)
	if err != nil {
		return err
	}
	if err := seed.NewLoader(templates, repos.DisbursementType, repos.Directory, compiler).Apply(ctx, f); err != nil {
		return fmt.Errorf("failed to apply seed file %s: %w", path, err)
	}

	logger.Info("Seed applied",
		zap.String("file", path),
		zap.Int("templates", len(f.Templates)),
		zap.Int("disbursement_types", len(f.DisbursementTypes)),
		zap.Int("actors", len(f.Actors)))
	return nil
}

// ProvideWorkers creates the background workers
func ProvideWorkers(cfg *WorkflowConfig, repos *RepositoryBundle, disp dispatcher.Dispatcher, logger *zap.Logger) (*worker.Manager, error) {
	if cfg == nil || repos == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}

	manager := worker.NewManager(logger)
	manager.Register(worker.NewStallWorker(worker.StallWorkerConfig{
		PollInterval: cfg.StallPollInterval,
		StallAfter:   cfg.StallAfter,
		BatchSize:    cfg.StallBatchSize,
	}, repos.Disbursement, disp, logger))

	return manager, nil
}
