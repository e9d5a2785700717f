package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/infra"
	"github.com/imaginethisprinted/aistudio/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql    infra.SQLExecutor
	logger infra.Logger
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor, logger infra.Logger) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql, logger: logger}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	input, output, err := encodeJobPayloads(job)
	if err != nil {
		return err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob,
		job.ID,
		job.ProductID,
		string(job.Type),
		string(job.Status),
		job.Attempt,
		input,
		output,
		job.Error,
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		if infra.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s attempt %d", domain.ErrConflict, job.Type, job.Attempt)
		}
		return err
	}
	return nil
}

// ClaimNext moves the oldest queued job to running in a single statement. A
// claimed row whose payload cannot be decoded is failed right away and the next
// queued job is claimed instead.
func (r *JobRepositoryPG) ClaimNext(ctx context.Context) (*domain.Job, error) {
	for {
		raw, err := scanJobRow(r.sql.QueryRow(ctx, sqlinline.QClaimNextJob))
		if err != nil {
			if infra.IsNoRows(err) {
				return nil, domain.ErrNoJobAvailable
			}
			return nil, err
		}
		job, err := raw.decode()
		if err == nil {
			return job, nil
		}
		if err := r.failUndecodable(ctx, raw, err); err != nil {
			return nil, err
		}
	}
}

// failUndecodable marks a claimed job failed without touching its stored output.
func (r *JobRepositoryPG) failUndecodable(ctx context.Context, raw *jobRow, cause error) error {
	r.logger.Error().Err(cause).Str("job_id", raw.job.ID).Msg("repo: failing undecodable job")
	output := raw.output
	if len(output) == 0 {
		output = []byte("{}")
	}
	msg := cause.Error()
	var updatedAt time.Time
	err := r.sql.QueryRow(ctx, sqlinline.QUpdateJob,
		raw.job.ID, string(domain.JobStatusFailed), output, &msg, string(domain.JobStatusRunning),
	).Scan(&updatedAt)
	if err != nil && !infra.IsNoRows(err) {
		return fmt.Errorf("fail undecodable job %s: %w", raw.job.ID, err)
	}
	return nil
}

// Update persists the mutable columns when the stored status still equals from.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.Job, from domain.JobStatus) error {
	_, output, err := encodeJobPayloads(job)
	if err != nil {
		return err
	}
	var updatedAt time.Time
	row := r.sql.QueryRow(ctx, sqlinline.QUpdateJob, job.ID, string(job.Status), output, job.Error, string(from))
	if err := row.Scan(&updatedAt); err != nil {
		if infra.IsNoRows(err) {
			return fmt.Errorf("%w: job %s is no longer %s", domain.ErrStaleJob, job.ID, from)
		}
		return err
	}
	job.UpdatedAt = updatedAt
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if !isUUID(jobID) {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListPollable returns running jobs with a processing prediction, least
// recently polled first.
func (r *JobRepositoryPG) ListPollable(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, sqlinline.QListPollableJobs, limit)
}

// MarkPolled stamps polled_at so the next batch starts with other jobs.
func (r *JobRepositoryPG) MarkPolled(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	_, err := r.sql.Exec(ctx, sqlinline.QMarkJobsPolled, jobIDs)
	return err
}

// ListByProduct returns the jobs of a product, newest first.
func (r *JobRepositoryPG) ListByProduct(ctx context.Context, productID string) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QListJobsByProduct, productID)
}

// CountByProductAndType counts every job ever created for the pair.
func (r *JobRepositoryPG) CountByProductAndType(ctx context.Context, productID string, jobType domain.JobType) (int, error) {
	var count int
	if err := r.sql.QueryRow(ctx, sqlinline.QCountJobsByProductType, productID, string(jobType)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *JobRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		raw, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		job, err := raw.decode()
		if err != nil {
			r.logger.Error().Err(err).Str("job_id", raw.job.ID).Msg("repo: skipping undecodable job")
			continue
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// jobRow holds a scanned row before its jsonb payloads are decoded.
type jobRow struct {
	job           domain.Job
	input, output []byte
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	raw, err := scanJobRow(row)
	if err != nil {
		return nil, err
	}
	return raw.decode()
}

func scanJobRow(row pgx.Row) (*jobRow, error) {
	var (
		raw     jobRow
		jobType string
		status  string
	)
	if err := row.Scan(
		&raw.job.ID,
		&raw.job.ProductID,
		&jobType,
		&status,
		&raw.job.Attempt,
		&raw.input,
		&raw.output,
		&raw.job.Error,
		&raw.job.CreatedAt,
		&raw.job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	raw.job.Type = domain.JobType(jobType)
	raw.job.Status = domain.JobStatus(status)
	return &raw, nil
}

func (r *jobRow) decode() (*domain.Job, error) {
	job := r.job
	if len(r.input) > 0 {
		if err := json.Unmarshal(r.input, &job.Input); err != nil {
			return nil, fmt.Errorf("decode job %s input: %w", job.ID, err)
		}
	}
	if len(r.output) > 0 {
		if err := json.Unmarshal(r.output, &job.Output); err != nil {
			return nil, fmt.Errorf("decode job %s output: %w", job.ID, err)
		}
	}
	return &job, nil
}

func encodeJobPayloads(job *domain.Job) ([]byte, []byte, error) {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("encode job input: %w", err)
	}
	output, err := json.Marshal(job.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("encode job output: %w", err)
	}
	return input, output, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
