package config

import (
	"context"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/application"
	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/estimate-workflow-service/handlers"
	"github.com/greenpath/lawn-platform/estimate-workflow-service/infrastructure"
	"github.com/greenpath/lawn-platform/shared/events"
	sharedinfra "github.com/greenpath/lawn-platform/shared/infrastructure"
	"github.com/greenpath/lawn-platform/shared/logging"
	"github.com/greenpath/lawn-platform/shared/saga"
	"github.com/greenpath/lawn-platform/shared/telemetry"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Dependencies struct {
	Logger *zap.Logger

	// Database, nil with the memory storage driver
	DB *sqlx.DB

	// Storage
	WorkflowRepository domain.WorkflowRepository
	Outbox             events.Outbox

	// Use Cases
	ProcessWorkflowEvent  *application.ProcessWorkflowEvent
	RelayOutbox           *application.RelayOutbox
	SweepStalledWorkflows *application.SweepStalledWorkflows
	GetWorkflow           *application.GetWorkflow
	ListWorkflows         *application.ListWorkflows

	// HTTP Handlers
	WorkflowHandlers *handlers.WorkflowHandlers

	// Event Handlers
	EventRouter           *saga.EventRouter
	WorkflowEventHandlers *handlers.WorkflowEventHandlers

	// Infrastructure
	EventPublisher  *sharedinfra.SNSEventPublisher
	DeadLetterQueue *sharedinfra.SQSDeadLetterQueue
	EventSubscriber *sharedinfra.SQSSubscriberAdapter

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func(context.Context) error
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	logger, err := logging.New(config.LogLevel, config.Env)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("service", config.ServiceName))

	deps := &Dependencies{Logger: logger}

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.EstimateWorkflowServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, shutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			// Continue without telemetry rather than failing
			logger.Warn("failed to initialize telemetry", zap.Error(err))
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = shutdown
		}
	}

	if err := deps.buildStorage(ctx, config); err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}

	// Initialize AWS infrastructure
	awsCfg, err := sharedinfra.LoadAWSConfig(ctx, sharedinfra.AWSConfig{Region: config.AWS.Region})
	if err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}

	snsClient := sharedinfra.NewSNSClient(awsCfg, config.AWS.EndpointSNS)
	sqsClient := sharedinfra.NewSQSClient(awsCfg, config.AWS.EndpointSQS)

	deps.EventPublisher = sharedinfra.NewSNSEventPublisher(snsClient, config.AWS.SNSTopicArn)

	dlqURL := config.AWS.DeadLetterQueueURL
	if dlqURL == "" {
		dlqURL = config.AWS.SQSQueueURL + "-dlq"
		logger.Warn("no dead-letter queue configured, using derived URL", zap.String("queue_url", dlqURL))
	}
	deps.DeadLetterQueue = sharedinfra.NewSQSDeadLetterQueue(sqsClient, dlqURL)

	deps.EventSubscriber = sharedinfra.NewSQSSubscriberAdapter(sqsClient, config.AWS.SQSQueueURL,
		sharedinfra.WithWorkers(config.Subscriber.Workers),
		sharedinfra.WithReaders(config.Subscriber.Readers),
		sharedinfra.WithVisibilityTimeout(config.Subscriber.VisibilityTimeout),
		sharedinfra.WithWaitTimeSeconds(config.Subscriber.WaitTimeSeconds),
		sharedinfra.WithDeadLetterQueue(deps.DeadLetterQueue, config.Subscriber.MaxReceiveCount),
		sharedinfra.WithLogger(logger.Named("sqs")),
	)

	// Initialize use cases
	retry := application.RetryConfig{
		MaxAttempts:     config.Workflow.ConflictMaxAttempts,
		InitialInterval: config.Workflow.ConflictInitialBackoff,
		MaxInterval:     config.Workflow.ConflictMaxBackoff,
	}

	deps.ProcessWorkflowEvent = application.NewProcessWorkflowEvent(
		deps.WorkflowRepository,
		deps.Outbox,
		deps.EventPublisher,
		deps.DeadLetterQueue,
		retry,
		logger,
	)
	deps.RelayOutbox = application.NewRelayOutbox(
		deps.Outbox,
		deps.EventPublisher,
		deps.DeadLetterQueue,
		config.Workflow.OutboxBatchSize,
		config.Workflow.OutboxMaxAttempts,
		logger,
	)
	deps.SweepStalledWorkflows = application.NewSweepStalledWorkflows(
		deps.WorkflowRepository,
		deps.ProcessWorkflowEvent,
		config.Workflow.StallTimeout,
		config.Workflow.SweepBatchSize,
		logger,
	)
	deps.GetWorkflow = application.NewGetWorkflow(deps.WorkflowRepository)
	deps.ListWorkflows = application.NewListWorkflows(deps.WorkflowRepository)

	// Initialize handlers
	deps.WorkflowHandlers = handlers.NewWorkflowHandlers(deps.GetWorkflow, deps.ListWorkflows)
	deps.WorkflowEventHandlers = handlers.NewWorkflowEventHandlers(deps.ProcessWorkflowEvent, deps.DeadLetterQueue, logger)

	deps.EventRouter = saga.NewEventRouter("estimate-workflow-orchestrator", logger)
	deps.WorkflowEventHandlers.RegisterRoutes(deps.EventRouter)

	return deps, nil
}

func (d *Dependencies) buildStorage(ctx context.Context, config *Config) error {
	switch config.Storage.Driver {
	case "memory":
		d.Logger.Warn("using in-memory storage, workflows are lost on restart")
		repo := infrastructure.NewMemoryWorkflowRepository()
		d.WorkflowRepository = repo
		d.Outbox = repo
		return nil

	case "postgres":
		db, err := sqlx.ConnectContext(ctx, "postgres", config.GetDatabaseURL())
		if err != nil {
			return errors.Wrap(err, "failed to connect to database")
		}
		d.DB = db

		if config.Database.MaxOpenConns > 0 {
			db.SetMaxOpenConns(config.Database.MaxOpenConns)
		}
		if config.Database.MaxIdleConns > 0 {
			db.SetMaxIdleConns(config.Database.MaxIdleConns)
		}

		if config.Database.AutoMigrate {
			if err := infrastructure.EnsureSchema(ctx, db); err != nil {
				return err
			}
		}

		outbox := sharedinfra.NewPostgresOutbox(db, sharedinfra.WithClaimTTL(config.Workflow.OutboxClaimTTL))
		d.WorkflowRepository = infrastructure.NewPostgresWorkflowRepository(db, outbox)
		d.Outbox = outbox
		return nil

	default:
		return errors.Errorf("unsupported storage driver %q", config.Storage.Driver)
	}
}

// Close stops the subscriber and releases every dependency
func (d *Dependencies) Close(ctx context.Context) error {
	var errs error

	if d.EventSubscriber != nil {
		errs = multierr.Append(errs, errors.Wrap(d.EventSubscriber.Close(ctx), "failed to close event subscriber"))
	}

	if d.DB != nil {
		errs = multierr.Append(errs, errors.Wrap(d.DB.Close(), "failed to close database"))
	}

	if d.TelemetryShutdown != nil {
		errs = multierr.Append(errs, errors.Wrap(d.TelemetryShutdown(ctx), "failed to shut down telemetry"))
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errs
}
