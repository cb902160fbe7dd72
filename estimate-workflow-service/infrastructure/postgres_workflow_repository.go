package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/events"
	sharedInfra "github.com/greenpath/lawn-platform/shared/infrastructure"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var _ domain.WorkflowRepository = (*PostgresWorkflowRepository)(nil)

// WorkflowSchema creates the workflow table and the indexes the query
// surface and the stalled-workflow sweep rely on
const WorkflowSchema = `
CREATE TABLE IF NOT EXISTS estimate_workflows (
	correlation_id     TEXT PRIMARY KEY,
	current_state      TEXT NOT NULL,
	tenant_id          TEXT NOT NULL,
	estimator_id       TEXT NOT NULL DEFAULT '',
	customer_id        TEXT,
	job_id             TEXT,
	customer_snapshot  JSONB NOT NULL,
	job_snapshot       JSONB NOT NULL,
	is_new_customer    BOOLEAN NOT NULL DEFAULT FALSE,
	error_reason       TEXT,
	notification_error TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ,
	version            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_estimate_workflows_state ON estimate_workflows (current_state);
CREATE INDEX IF NOT EXISTS idx_estimate_workflows_tenant ON estimate_workflows (tenant_id);
CREATE INDEX IF NOT EXISTS idx_estimate_workflows_created_at ON estimate_workflows (created_at);
CREATE INDEX IF NOT EXISTS idx_estimate_workflows_state_updated ON estimate_workflows (current_state, updated_at);
`

const workflowColumns = `
	correlation_id, current_state, tenant_id, estimator_id, customer_id, job_id,
	customer_snapshot, job_snapshot, is_new_customer, error_reason, notification_error,
	created_at, updated_at, completed_at, version`

// EnsureSchema creates the workflow and outbox tables if they are missing
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, schema := range []string{WorkflowSchema, sharedInfra.OutboxSchema} {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}

// PostgresWorkflowRepository implements WorkflowRepository using PostgreSQL.
// Workflow rows and their outbox messages are written in one transaction.
type PostgresWorkflowRepository struct {
	db     *sqlx.DB
	outbox *sharedInfra.PostgresOutbox
}

// NewPostgresWorkflowRepository creates a new PostgresWorkflowRepository
func NewPostgresWorkflowRepository(db *sqlx.DB, outbox *sharedInfra.PostgresOutbox) *PostgresWorkflowRepository {
	return &PostgresWorkflowRepository{db: db, outbox: outbox}
}

// postgresWorkflow represents a workflow in database
type postgresWorkflow struct {
	CorrelationID     string     `db:"correlation_id"`
	CurrentState      string     `db:"current_state"`
	TenantID          string     `db:"tenant_id"`
	EstimatorID       string     `db:"estimator_id"`
	CustomerID        *string    `db:"customer_id"`
	JobID             *string    `db:"job_id"`
	CustomerSnapshot  []byte     `db:"customer_snapshot"`
	JobSnapshot       []byte     `db:"job_snapshot"`
	IsNewCustomer     bool       `db:"is_new_customer"`
	ErrorReason       *string    `db:"error_reason"`
	NotificationError *string    `db:"notification_error"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	CompletedAt       *time.Time `db:"completed_at"`
	Version           int        `db:"version"`
}

// Create inserts a new workflow. ErrWorkflowExists is returned when another
// delivery created it first.
func (r *PostgresWorkflowRepository) Create(ctx context.Context, wf domain.WorkflowInstance, outbox []*events.Event) error {
	if err := wf.Validate(); err != nil {
		return errors.Wrap(err, "refusing to persist invalid workflow")
	}

	row, err := r.toPostgres(wf)
	if err != nil {
		return err
	}

	return r.inTx(ctx, outbox, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO estimate_workflows (` + workflowColumns + `
			) VALUES (
				:correlation_id, :current_state, :tenant_id, :estimator_id, :customer_id, :job_id,
				:customer_snapshot, :job_snapshot, :is_new_customer, :error_reason, :notification_error,
				:created_at, :updated_at, :completed_at, :version
			)
			ON CONFLICT (correlation_id) DO NOTHING`

		res, err := tx.NamedExecContext(ctx, query, row)
		if err != nil {
			return errors.Wrap(err, "failed to insert workflow")
		}

		return expectOneRow(res, domain.ErrWorkflowExists)
	})
}

// CompareAndSwap updates the workflow only if the stored version is expected
func (r *PostgresWorkflowRepository) CompareAndSwap(ctx context.Context, expected models.Version, next domain.WorkflowInstance, outbox []*events.Event) error {
	if !next.Version.Follows(expected) {
		return errors.Errorf("next version %d does not follow %d", next.Version.Value, expected.Value)
	}

	if err := next.Validate(); err != nil {
		return errors.Wrap(err, "refusing to persist invalid workflow")
	}

	row, err := r.toPostgres(next)
	if err != nil {
		return err
	}

	return r.inTx(ctx, outbox, func(tx *sqlx.Tx) error {
		query := `
			UPDATE estimate_workflows
			SET current_state = :current_state, customer_id = :customer_id, job_id = :job_id,
				is_new_customer = :is_new_customer, error_reason = :error_reason,
				notification_error = :notification_error, updated_at = :updated_at,
				completed_at = :completed_at, version = :version
			WHERE correlation_id = :correlation_id AND version = :expected_version`

		res, err := tx.NamedExecContext(ctx, query, struct {
			postgresWorkflow
			ExpectedVersion int `db:"expected_version"`
		}{*row, expected.Value})
		if err != nil {
			return errors.Wrap(err, "failed to update workflow")
		}

		return expectOneRow(res, domain.ErrVersionConflict)
	})
}

func (r *PostgresWorkflowRepository) inTx(ctx context.Context, outbox []*events.Event, write func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := write(tx); err != nil {
		return err
	}

	if err := r.outbox.SaveInTx(ctx, tx, outbox); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "failed to commit workflow transaction")
}

func expectOneRow(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return otherwise
	}
	return nil
}

// FindByID finds a workflow by correlation ID
func (r *PostgresWorkflowRepository) FindByID(ctx context.Context, id models.ID) (*domain.WorkflowInstance, error) {
	query := `SELECT ` + workflowColumns + ` FROM estimate_workflows WHERE correlation_id = $1`

	var row postgresWorkflow
	if err := r.db.GetContext(ctx, &row, query, id.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find workflow")
	}

	wf, err := r.toDomain(&row)
	if err != nil {
		return nil, err
	}

	return &wf, nil
}

// FindStalled returns non-terminal workflows not updated since updatedBefore, oldest first
func (r *PostgresWorkflowRepository) FindStalled(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.WorkflowInstance, error) {
	states := make([]string, 0, 3)
	for _, s := range domain.NonTerminalStates() {
		states = append(states, s.String())
	}

	query := `
		SELECT ` + workflowColumns + `
		FROM estimate_workflows
		WHERE current_state = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	return r.selectWorkflows(ctx, query, pq.Array(states), updatedBefore.UTC(), limit)
}

// List returns workflows matching filter, newest first
func (r *PostgresWorkflowRepository) List(ctx context.Context, filter domain.WorkflowFilter) ([]domain.WorkflowInstance, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.State != "" {
		args = append(args, filter.State.String())
		conditions = append(conditions, "current_state = $"+strconv.Itoa(len(args)))
	}

	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		conditions = append(conditions, "tenant_id = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + workflowColumns + ` FROM estimate_workflows`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	args = append(args, filter.Limit, filter.Offset)
	query += ` ORDER BY created_at DESC, correlation_id ASC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	return r.selectWorkflows(ctx, query, args...)
}

func (r *PostgresWorkflowRepository) selectWorkflows(ctx context.Context, query string, args ...interface{}) ([]domain.WorkflowInstance, error) {
	var rows []postgresWorkflow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to select workflows")
	}

	workflows := make([]domain.WorkflowInstance, 0, len(rows))
	for i := range rows {
		wf, err := r.toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}

	return workflows, nil
}

// toPostgres converts domain workflow to postgres model
func (r *PostgresWorkflowRepository) toPostgres(wf domain.WorkflowInstance) (*postgresWorkflow, error) {
	customer, err := json.Marshal(wf.CustomerSnapshot)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal customer snapshot")
	}

	job, err := json.Marshal(wf.JobSnapshot)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal job snapshot")
	}

	return &postgresWorkflow{
		CorrelationID:     wf.CorrelationID.String(),
		CurrentState:      wf.StateName().String(),
		TenantID:          wf.TenantID,
		EstimatorID:       wf.EstimatorID,
		CustomerID:        idToString(wf.CustomerID),
		JobID:             idToString(wf.JobID),
		CustomerSnapshot:  customer,
		JobSnapshot:       job,
		IsNewCustomer:     wf.IsNewCustomer,
		ErrorReason:       wf.ErrorReason,
		NotificationError: wf.NotificationError,
		CreatedAt:         wf.CreatedAt.UTC(),
		UpdatedAt:         wf.UpdatedAt.UTC(),
		CompletedAt:       wf.CompletedAt,
		Version:           wf.Version.Value,
	}, nil
}

// toDomain converts postgres model to domain workflow
func (r *PostgresWorkflowRepository) toDomain(row *postgresWorkflow) (domain.WorkflowInstance, error) {
	state, err := domain.ParseState(row.CurrentState)
	if err != nil {
		return domain.WorkflowInstance{}, errors.Wrapf(err, "workflow %s", row.CorrelationID)
	}

	wf := domain.WorkflowInstance{
		CorrelationID:     models.ID(row.CorrelationID),
		State:             state,
		TenantID:          row.TenantID,
		EstimatorID:       row.EstimatorID,
		CustomerID:        stringToID(row.CustomerID),
		JobID:             stringToID(row.JobID),
		IsNewCustomer:     row.IsNewCustomer,
		ErrorReason:       row.ErrorReason,
		NotificationError: row.NotificationError,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
		Version:           models.Version{Value: row.Version},
	}

	if row.CompletedAt != nil {
		completedAt := row.CompletedAt.UTC()
		wf.CompletedAt = &completedAt
	}

	if err := json.Unmarshal(row.CustomerSnapshot, &wf.CustomerSnapshot); err != nil {
		return domain.WorkflowInstance{}, errors.Wrapf(err, "invalid customer snapshot on workflow %s", row.CorrelationID)
	}

	if err := json.Unmarshal(row.JobSnapshot, &wf.JobSnapshot); err != nil {
		return domain.WorkflowInstance{}, errors.Wrapf(err, "invalid job snapshot on workflow %s", row.CorrelationID)
	}

	return wf, nil
}

func idToString(id *models.ID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func stringToID(s *string) *models.ID {
	if s == nil {
		return nil
	}
	return models.ID(*s).Ptr()
}
