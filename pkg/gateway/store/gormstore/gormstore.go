// Package gormstore persists interview sessions, jobs and candidates through
// gorm. SQLite, Postgres and MySQL are supported.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

type Store struct {
	db      *gorm.DB
	dialect string
	now     func() time.Time
}

// Open connects to dsn with the named dialect and migrates the schema.
func Open(dialect, dsn string) (*Store, error) {
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required for dialect %q", dialect)
	}

	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == "sqlite" {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&jobRow{}, &candidateRow{}, &sessionRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// locked selects rows FOR UPDATE where the dialect has row locks.
func (s *Store) locked(tx *gorm.DB) *gorm.DB {
	if s.dialect == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (s *Store) CreateSession(ctx context.Context, sess *types.InterviewSession) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	row, err := sessionRowFrom(sess, s.now().UTC())
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := exists(tx, &sessionRow{}, sess.ID); err == nil {
			return fmt.Errorf("session %s: %w", sess.ID, session.ErrDuplicate)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("get session: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			return translate("session", sess.ID, err)
		}
		return nil
	})
}

// mutateSession loads the session, applies fn and writes it back in one
// transaction.
func (s *Store) mutateSession(ctx context.Context, id string, fn func(*types.InterviewSession) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		if err := s.locked(tx).Where("id = ?", id).Take(&row).Error; err != nil {
			return translate("session", id, err)
		}
		sess, err := row.toSession()
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		next, err := sessionRowFrom(sess, s.now().UTC())
		if err != nil {
			return err
		}
		res := tx.Model(&sessionRow{}).Where("id = ?", id).Updates(map[string]any{
			"status":     next.Status,
			"doc":        next.Doc,
			"updated_at": next.UpdatedAt,
		})
		if res.Error != nil {
			return fmt.Errorf("update session: %w", res.Error)
		}
		return nil
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
	var row sessionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate("session", id, err)
	}
	return row.toSession()
}

func (s *Store) SaveJob(ctx context.Context, job *types.JobPosting) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	row := jobRowFrom(job)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := exists(tx, &jobRow{}, job.ID); err == nil {
			return fmt.Errorf("job %s: %w", job.ID, session.ErrDuplicate)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("get job: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			return translate("job", job.ID, err)
		}
		return nil
	})
}

func (s *Store) GetJob(ctx context.Context, id string) (*types.JobPosting, error) {
	var row jobRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate("job", id, err)
	}
	return row.toJob()
}

func (s *Store) CountJobs(ctx context.Context, companyID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&jobRow{}).Where("company_id = ?", companyID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return int(n), nil
}

func (s *Store) SaveCandidate(ctx context.Context, c *types.Candidate) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("candidate id is required")
	}
	row := candidateRowFrom(c)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := exists(tx, &jobRow{}, c.JobID); err != nil {
			return translate("job", c.JobID, err)
		}
		if err := exists(tx, &candidateRow{}, c.ID); err == nil {
			return fmt.Errorf("candidate %s: %w", c.ID, session.ErrDuplicate)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("get candidate: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			return translate("candidate", c.ID, err)
		}
		return nil
	})
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*types.Candidate, error) {
	var row candidateRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate("candidate", id, err)
	}
	return row.toCandidate()
}

func (s *Store) CountCandidates(ctx context.Context, jobID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&candidateRow{}).Where("job_id = ?", jobID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	return int(n), nil
}

func (s *Store) UpdateCandidate(ctx context.Context, c *types.Candidate) error {
	if c == nil {
		return fmt.Errorf("candidate is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row candidateRow
		if err := s.locked(tx).Where("id = ?", c.ID).Take(&row).Error; err != nil {
			return translate("candidate", c.ID, err)
		}
		existing, err := row.toCandidate()
		if err != nil {
			return err
		}
		if existing.Status != c.Status && !existing.Status.CanTransition(c.Status) {
			return fmt.Errorf("candidate %s %s -> %s: %w", c.ID, existing.Status, c.Status, session.ErrInvalidTransition)
		}
		if existing.SessionID != "" && c.SessionID != existing.SessionID {
			return fmt.Errorf("candidate %s already linked to session %s: %w", c.ID, existing.SessionID, session.ErrDuplicate)
		}
		res := tx.Model(&candidateRow{}).Where("id = ?", c.ID).Updates(map[string]any{
			"name":        c.Name,
			"email":       c.Email,
			"resume_text": c.ResumeText,
			"status":      string(c.Status),
			"session_id":  c.SessionID,
		})
		if res.Error != nil {
			return fmt.Errorf("update candidate: %w", res.Error)
		}
		return nil
	})
}

func exists(tx *gorm.DB, model any, id string) error {
	var n int64
	if err := tx.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func translate(kind, id string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s %s: %w", kind, id, session.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s %s: %w", kind, id, session.ErrDuplicate)
	default:
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
}

func ensureSQLiteDirectory(dsn string) error {
	lower := strings.ToLower(dsn)
	if lower == ":memory:" || strings.Contains(lower, "mode=memory") || strings.HasPrefix(lower, "file::memory:") {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}
