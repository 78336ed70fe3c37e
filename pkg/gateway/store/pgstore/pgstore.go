// Package pgstore persists interview sessions, jobs and candidates in
// Postgres through a pgx connection pool. The schema is managed by embedded
// goose migrations.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

//go:embed migrations/*.sql
var embedded embed.FS

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies the connection. Call Migrate before
// serving traffic.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrations returns the embedded migration files.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies every pending migration.
func (s *Store) Migrate(ctx context.Context) ([]*goose.MigrationResult, error) {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return nil, fmt.Errorf("migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return results, fmt.Errorf("migrate: %w", err)
	}
	return results, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) CreateSession(ctx context.Context, sess *types.InterviewSession) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO interview_sessions (id, job_id, candidate_id, status, doc) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.JobID, sess.CandidateID, string(sess.Status), doc)
	return classify("session", sess.ID, err)
}

// mutateSession applies fn to the session under a row lock.
func (s *Store) mutateSession(ctx context.Context, id string, fn func(*types.InterviewSession) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `SELECT doc FROM interview_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
		if err != nil {
			return classify("session", id, err)
		}
		var sess types.InterviewSession
		if err := json.Unmarshal(doc, &sess); err != nil {
			return fmt.Errorf("decode session %s: %w", id, err)
		}
		if err := fn(&sess); err != nil {
			return err
		}
		next, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", id, err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE interview_sessions SET status = $2, doc = $3, updated_at = $4 WHERE id = $1`,
			id, string(sess.Status), next, time.Now().UTC())
		return classify("session", id, err)
	})
}

func (s *Store) UpdateStatus(ctx context.Context, id string, u session.StatusUpdate) error {
	return s.mutateSession(ctx, id, func(sess *types.InterviewSession) error {
		return session.ApplyStatusUpdate(sess, u)
	})
}

func (s *Store) AppendResponse(ctx context.Context, id string, r types.InterviewResponse) error {
	return s.mutateSession(ctx, id, func(sess *types.InterviewSession) error {
		return session.ApplyResponse(sess, r)
	})
}

func (s *Store) AppendIncident(ctx context.Context, id string, log types.ProctoringLog) error {
	return s.mutateSession(ctx, id, func(sess *types.InterviewSession) error {
		return session.ApplyIncident(sess, log)
	})
}

func (s *Store) Finalize(ctx context.Context, id string, rec session.FinalRecord) error {
	return s.mutateSession(ctx, id, func(sess *types.InterviewSession) error {
		return session.ApplyFinal(sess, rec)
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.InterviewSession, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx, `SELECT doc FROM interview_sessions WHERE id = $1`, id).Scan(&doc); err != nil {
		return nil, classify("session", id, err)
	}
	var sess types.InterviewSession
	if err := json.Unmarshal(doc, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) SaveJob(ctx context.Context, job *types.JobPosting) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO interview_jobs (id, company_id, doc) VALUES ($1, $2, $3)`,
		job.ID, job.CompanyID, doc)
	return classify("job", job.ID, err)
}

func (s *Store) GetJob(ctx context.Context, id string) (*types.JobPosting, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx, `SELECT doc FROM interview_jobs WHERE id = $1`, id).Scan(&doc); err != nil {
		return nil, classify("job", id, err)
	}
	var job types.JobPosting
	if err := json.Unmarshal(doc, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *Store) CountJobs(ctx context.Context, companyID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM interview_jobs WHERE company_id = $1`, companyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func (s *Store) SaveCandidate(ctx context.Context, c *types.Candidate) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("candidate id is required")
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode candidate %s: %w", c.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO interview_candidates (id, job_id, status, session_id, doc) VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		c.ID, c.JobID, string(c.Status), c.SessionID, doc)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return fmt.Errorf("job %s: %w", c.JobID, session.ErrNotFound)
	}
	return classify("candidate", c.ID, err)
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*types.Candidate, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx, `SELECT doc FROM interview_candidates WHERE id = $1`, id).Scan(&doc); err != nil {
		return nil, classify("candidate", id, err)
	}
	var c types.Candidate
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("decode candidate %s: %w", id, err)
	}
	return &c, nil
}

func (s *Store) CountCandidates(ctx context.Context, jobID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM interview_candidates WHERE job_id = $1`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	return n, nil
}

func (s *Store) UpdateCandidate(ctx context.Context, c *types.Candidate) error {
	if c == nil {
		return fmt.Errorf("candidate is required")
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `SELECT doc FROM interview_candidates WHERE id = $1 FOR UPDATE`, c.ID).Scan(&doc)
		if err != nil {
			return classify("candidate", c.ID, err)
		}
		var existing types.Candidate
		if err := json.Unmarshal(doc, &existing); err != nil {
			return fmt.Errorf("decode candidate %s: %w", c.ID, err)
		}
		if existing.Status != c.Status && !existing.Status.CanTransition(c.Status) {
			return fmt.Errorf("candidate %s %s -> %s: %w", c.ID, existing.Status, c.Status, session.ErrInvalidTransition)
		}
		if existing.SessionID != "" && c.SessionID != existing.SessionID {
			return fmt.Errorf("candidate %s already linked to session %s: %w", c.ID, existing.SessionID, session.ErrDuplicate)
		}

		next := *c
		next.JobID = existing.JobID
		next.CreatedAt = existing.CreatedAt
		out, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("encode candidate %s: %w", c.ID, err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE interview_candidates SET status = $2, session_id = NULLIF($3, ''), doc = $4 WHERE id = $1`,
			c.ID, string(next.Status), next.SessionID, out)
		return classify("candidate", c.ID, err)
	})
}

// classify maps driver errors onto the session package sentinels.
func classify(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, session.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return fmt.Errorf("%s %s: %w", kind, id, session.ErrDuplicate)
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}
