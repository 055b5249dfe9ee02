// Package mysql implements pkg/repo's interfaces against MySQL, grounded
// on the teacher's pkg/comdb: a context-timeout-wrapped database/sql
// handle behind a narrow interface. The driver is imported by name, for
// its error types; that import also registers it with database/sql.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/clinround/sessioncore/pkg/conf"
	"github.com/clinround/sessioncore/pkg/logger"
	"github.com/clinround/sessioncore/pkg/mode"
	"github.com/clinround/sessioncore/pkg/model"
	"github.com/clinround/sessioncore/pkg/repo"
)

const queryTimeout = 5 * time.Second

// isRetryableError mirrors the teacher's isRetryableErrorPattern, narrowed
// to the connection/lock conditions a MySQL round-trip can actually hit:
// a dropped connection, a network timeout, or a lock wait/deadlock that a
// short backoff and re-issue can plausibly clear.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1205, 1213: // ER_LOCK_WAIT_TIMEOUT, ER_LOCK_DEADLOCK
			return true
		}
	}
	return strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "connection refused")
}

// withRetry runs fn up to mode.RetryMaxAttempts times, backing off by
// mode.RetryBaseDelay with exponential growth between attempts, the same
// attempt/backoff shape as the teacher's Start.AskWithRetry — generalized
// here from a single model call to any repository round-trip.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < mode.RetryMaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}
		if attempt == mode.RetryMaxAttempts-1 {
			break
		}

		delay := mode.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt)))
		logger.Debug("mysql: retrying %s, attempt %d/%d after %v: %v", op, attempt+1, mode.RetryMaxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	logger.Warn("mysql: %s failed after %d attempts: %v", op, mode.RetryMaxAttempts, lastErr)
	return lastErr
}

// DB is a MySQL-backed repo.Repository; it satisfies all four
// sub-interfaces on the same connection.
type DB struct {
	conn *sql.DB
}

// New opens a connection pool from conf.DBConfig, mirroring the teacher's
// pkg/comdb.New(parent, conf) constructor shape.
func New(cfg conf.DBConfig) (*DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Name)
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	return &DB{conn: conn}, nil
}

func (d *DB) Close() error { return d.conn.Close() }

// Repository builds a repo.Repository whose four facets all share this
// connection.
func (d *DB) Repository() repo.Repository {
	return repo.Repository{
		Sessions:     sessionsRepo{d},
		Participants: participantsRepo{d},
		Feedback:     feedbackRepo{d},
		Cases:        casesRepo{d},
	}
}

// --- sessions ---

type sessionsRepo struct{ db *DB }

func (r sessionsRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out *model.Session
	err := withRetry(ctx, "find session by code", func() error {
		row := r.db.conn.QueryRowContext(ctx, `
			SELECT id, code, title, status, phase, reading_minutes, consultation_minutes,
			       timing_type, session_type, selected_topics, recall_from, recall_to,
			       selected_case_id, used_case_ids, phase_start_time, timer_start_timestamp,
			       current_round, created_by_user_id, created_at, started_at, ended_at
			FROM sessions WHERE code = ? AND status <> 'COMPLETED'`, code)
		s, scanErr := scanSession(row)
		if scanErr != nil {
			return scanErr
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r sessionsRepo) Save(ctx context.Context, s *model.Session) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	topics, err := json.Marshal(s.Config.SelectedTopics)
	if err != nil {
		return fmt.Errorf("mysql: marshal topics: %w", err)
	}
	used, err := json.Marshal(s.UsedCaseIDs)
	if err != nil {
		return fmt.Errorf("mysql: marshal used case ids: %w", err)
	}

	var recallFrom, recallTo *time.Time
	if s.Config.RecallDateRange != nil {
		recallFrom = &s.Config.RecallDateRange.From
		recallTo = &s.Config.RecallDateRange.To
	}

	err = withRetry(ctx, "save session", func() error {
		_, execErr := r.db.conn.ExecContext(ctx, `
			INSERT INTO sessions (id, code, title, status, phase, reading_minutes, consultation_minutes,
				timing_type, session_type, selected_topics, recall_from, recall_to,
				selected_case_id, used_case_ids, phase_start_time, timer_start_timestamp,
				current_round, created_by_user_id, created_at, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				title=VALUES(title), status=VALUES(status), phase=VALUES(phase),
				reading_minutes=VALUES(reading_minutes), consultation_minutes=VALUES(consultation_minutes),
				timing_type=VALUES(timing_type), session_type=VALUES(session_type),
				selected_topics=VALUES(selected_topics), recall_from=VALUES(recall_from), recall_to=VALUES(recall_to),
				selected_case_id=VALUES(selected_case_id), used_case_ids=VALUES(used_case_ids),
				phase_start_time=VALUES(phase_start_time), timer_start_timestamp=VALUES(timer_start_timestamp),
				current_round=VALUES(current_round), started_at=VALUES(started_at), ended_at=VALUES(ended_at)`,
			s.ID, s.Code, s.Title, s.Status, s.Phase, s.Config.ReadingMinutes, s.Config.ConsultationMinutes,
			s.Config.TimingType, s.Config.SessionType, topics, recallFrom, recallTo,
			s.SelectedCaseID, used, s.PhaseStartTime, s.TimerStartTimestamp,
			s.CurrentRound, s.CreatedByUserID, s.CreatedAt, s.StartedAt, s.EndedAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("mysql: save session: %w", err)
	}
	return nil
}

func (r sessionsRepo) FindActive(ctx context.Context) ([]*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows *sql.Rows
	err := withRetry(ctx, "find active sessions", func() error {
		var queryErr error
		rows, queryErr = r.db.conn.QueryContext(ctx, `
			SELECT id, code, title, status, phase, reading_minutes, consultation_minutes,
			       timing_type, session_type, selected_topics, recall_from, recall_to,
			       selected_case_id, used_case_ids, phase_start_time, timer_start_timestamp,
			       current_round, created_by_user_id, created_at, started_at, ended_at
			FROM sessions WHERE status <> 'COMPLETED'`)
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: find active sessions: %w", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r sessionsRepo) CountActive(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int
	err := withRetry(ctx, "count active sessions", func() error {
		return r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE status <> 'COMPLETED'`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("mysql: count active sessions: %w", err)
	}
	return n, nil
}

func (r sessionsRepo) CodeInUse(ctx context.Context, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int
	err := withRetry(ctx, "code in use", func() error {
		return r.db.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE code = ? AND status <> 'COMPLETED'`, code).Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("mysql: code in use: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	return scanSessionRows(row)
}

func scanSessionRows(row rowScanner) (*model.Session, error) {
	var s model.Session
	var topics, used []byte
	var timingType, sessionType sql.NullString
	var recallFrom, recallTo sql.NullTime
	var selectedCaseID sql.NullString
	var timerStart sql.NullInt64
	var startedAt, endedAt sql.NullTime

	err := row.Scan(&s.ID, &s.Code, &s.Title, &s.Status, &s.Phase,
		&s.Config.ReadingMinutes, &s.Config.ConsultationMinutes,
		&timingType, &sessionType, &topics, &recallFrom, &recallTo,
		&selectedCaseID, &used, &s.PhaseStartTime, &timerStart,
		&s.CurrentRound, &s.CreatedByUserID, &s.CreatedAt, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: scan session: %w", err)
	}

	s.Config.TimingType = model.TimingType(timingType.String)
	s.Config.SessionType = model.SessionType(sessionType.String)
	if len(topics) > 0 {
		_ = json.Unmarshal(topics, &s.Config.SelectedTopics)
	}
	if len(used) > 0 {
		_ = json.Unmarshal(used, &s.UsedCaseIDs)
	}
	if recallFrom.Valid && recallTo.Valid {
		s.Config.RecallDateRange = &model.RecallDateRange{From: recallFrom.Time, To: recallTo.Time}
	}
	if selectedCaseID.Valid {
		id := selectedCaseID.String
		s.SelectedCaseID = &id
	}
	if timerStart.Valid {
		v := timerStart.Int64
		s.TimerStartTimestamp = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		s.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return &s, nil
}

// --- participants ---

type participantsRepo struct{ db *DB }

func (r participantsRepo) FindBySessionIDAndActive(ctx context.Context, sessionID string, active bool) ([]*model.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows *sql.Rows
	err := withRetry(ctx, "find participants", func() error {
		var queryErr error
		rows, queryErr = r.db.conn.QueryContext(ctx, `
			SELECT session_id, user_id, user_name, role, is_active, has_completed, has_given_feedback, joined_at
			FROM participants WHERE session_id = ? AND is_active = ?`, sessionID, active)
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: find participants: %w", err)
	}
	defer rows.Close()

	var out []*model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.UserName, &p.Role, &p.IsActive,
			&p.HasCompleted, &p.HasGivenFeedback, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("mysql: scan participant: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r participantsRepo) FindBySessionIDAndUserID(ctx context.Context, sessionID string, userID uint32) (*model.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p model.Participant
	err := withRetry(ctx, "find participant", func() error {
		return r.db.conn.QueryRowContext(ctx, `
			SELECT session_id, user_id, user_name, role, is_active, has_completed, has_given_feedback, joined_at
			FROM participants WHERE session_id = ? AND user_id = ?`, sessionID, userID).Scan(
			&p.SessionID, &p.UserID, &p.UserName, &p.Role, &p.IsActive, &p.HasCompleted, &p.HasGivenFeedback, &p.JoinedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: find participant: %w", err)
	}
	return &p, nil
}

func (r participantsRepo) FindByUserIDAndActive(ctx context.Context, userID uint32, active bool) ([]*model.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows *sql.Rows
	err := withRetry(ctx, "find participants by user", func() error {
		var queryErr error
		rows, queryErr = r.db.conn.QueryContext(ctx, `
			SELECT session_id, user_id, user_name, role, is_active, has_completed, has_given_feedback, joined_at
			FROM participants WHERE user_id = ? AND is_active = ?`, userID, active)
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: find participants by user: %w", err)
	}
	defer rows.Close()

	var out []*model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.UserName, &p.Role, &p.IsActive,
			&p.HasCompleted, &p.HasGivenFeedback, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("mysql: scan participant: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r participantsRepo) Save(ctx context.Context, p *model.Participant) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := withRetry(ctx, "save participant", func() error {
		_, execErr := r.db.conn.ExecContext(ctx, `
			INSERT INTO participants (session_id, user_id, user_name, role, is_active, has_completed, has_given_feedback, joined_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				user_name=VALUES(user_name), role=VALUES(role), is_active=VALUES(is_active),
				has_completed=VALUES(has_completed), has_given_feedback=VALUES(has_given_feedback)`,
			p.SessionID, p.UserID, p.UserName, p.Role, p.IsActive, p.HasCompleted, p.HasGivenFeedback, p.JoinedAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("mysql: save participant: %w", err)
	}
	return nil
}

// --- feedback ---

type feedbackRepo struct{ db *DB }

func (r feedbackRepo) FindBySessionIDAndSenderID(ctx context.Context, sessionID string, senderID uint32) ([]*model.Feedback, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows *sql.Rows
	err := withRetry(ctx, "find feedback", func() error {
		var queryErr error
		rows, queryErr = r.db.conn.QueryContext(ctx, `
			SELECT id, session_id, sender_user_id, recipient_user_id, case_id, round_number,
			       comment, criteria_scores, overall_performance, overall_performance_legacy, created_at
			FROM feedback WHERE session_id = ? AND sender_user_id = ?`, sessionID, senderID)
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: find feedback: %w", err)
	}
	defer rows.Close()
	return scanFeedbackRows(rows)
}

func (r feedbackRepo) FindByRound(ctx context.Context, sessionID, caseID string, round int) ([]*model.Feedback, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows *sql.Rows
	err := withRetry(ctx, "find feedback by round", func() error {
		var queryErr error
		rows, queryErr = r.db.conn.QueryContext(ctx, `
			SELECT id, session_id, sender_user_id, recipient_user_id, case_id, round_number,
			       comment, criteria_scores, overall_performance, overall_performance_legacy, created_at
			FROM feedback WHERE session_id = ? AND case_id = ? AND round_number = ?`, sessionID, caseID, round)
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: find feedback by round: %w", err)
	}
	defer rows.Close()
	return scanFeedbackRows(rows)
}

func scanFeedbackRows(rows *sql.Rows) ([]*model.Feedback, error) {
	var out []*model.Feedback
	for rows.Next() {
		var f model.Feedback
		var criteria []byte
		if err := rows.Scan(&f.ID, &f.SessionID, &f.SenderUserID, &f.RecipientUserID, &f.CaseID,
			&f.RoundNumber, &f.Comment, &criteria, &f.OverallPerformance, &f.OverallPerformanceLegacy, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("mysql: scan feedback: %w", err)
		}
		if len(criteria) > 0 {
			_ = json.Unmarshal(criteria, &f.CriteriaScores)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (r feedbackRepo) UpsertOnRound(ctx context.Context, f *model.Feedback) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	criteria, err := json.Marshal(f.CriteriaScores)
	if err != nil {
		return fmt.Errorf("mysql: marshal criteria scores: %w", err)
	}

	err = withRetry(ctx, "upsert feedback", func() error {
		_, execErr := r.db.conn.ExecContext(ctx, `
			INSERT INTO feedback (id, session_id, sender_user_id, recipient_user_id, case_id, round_number,
				comment, criteria_scores, overall_performance, overall_performance_legacy, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				comment=VALUES(comment), criteria_scores=VALUES(criteria_scores),
				overall_performance=VALUES(overall_performance),
				overall_performance_legacy=VALUES(overall_performance_legacy),
				recipient_user_id=VALUES(recipient_user_id)`,
			f.ID, f.SessionID, f.SenderUserID, f.RecipientUserID, f.CaseID, f.RoundNumber,
			f.Comment, criteria, f.OverallPerformance, f.OverallPerformanceLegacy, f.CreatedAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("mysql: upsert feedback: %w", err)
	}
	return nil
}

// --- cases ---

type casesRepo struct{ db *DB }

func (r casesRepo) PickRandomByCategoryNames(ctx context.Context, topics []string, excludeIDs []string) (*model.Case, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if len(topics) == 0 {
		return nil, repo.ErrNotFound
	}

	query, args := buildCaseQuery(topics, excludeIDs)

	var out *model.Case
	err := withRetry(ctx, "pick case by category", func() error {
		row := r.db.conn.QueryRowContext(ctx, query, args...)
		c, scanErr := scanCase(row)
		if scanErr != nil {
			return scanErr
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r casesRepo) PickRandomByDateRange(ctx context.Context, from, to time.Time, excludeIDs []string) (*model.Case, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT id, title, category_names, description, doctor_sections, patient_sections,
	                 notes, image_ref, feedback_criteria, authored_at
	          FROM cases WHERE authored_at BETWEEN ? AND ?`
	args := []any{from, to}
	if len(excludeIDs) > 0 {
		placeholders, exArgs := inClausePlaceholders(excludeIDs)
		query += " AND id NOT IN (" + placeholders + ")"
		args = append(args, exArgs...)
	}
	query += " ORDER BY RAND() LIMIT 1"

	var out *model.Case
	err := withRetry(ctx, "pick case by date range", func() error {
		row := r.db.conn.QueryRowContext(ctx, query, args...)
		c, scanErr := scanCase(row)
		if scanErr != nil {
			return scanErr
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r casesRepo) FindByID(ctx context.Context, id string) (*model.Case, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out *model.Case
	err := withRetry(ctx, "find case by id", func() error {
		row := r.db.conn.QueryRowContext(ctx, `
			SELECT id, title, category_names, description, doctor_sections, patient_sections,
			       notes, image_ref, feedback_criteria, authored_at
			FROM cases WHERE id = ?`, id)
		c, scanErr := scanCase(row)
		if scanErr != nil {
			return scanErr
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func buildCaseQuery(topics, excludeIDs []string) (string, []any) {
	topicPlaceholders, topicArgs := inClausePlaceholders(topics)
	query := `SELECT DISTINCT c.id, c.title, c.category_names, c.description, c.doctor_sections,
	                 c.patient_sections, c.notes, c.image_ref, c.feedback_criteria, c.authored_at
	          FROM cases c
	          JOIN case_categories cc ON cc.case_id = c.id
	          WHERE cc.category_name IN (` + topicPlaceholders + `)`
	args := topicArgs
	if len(excludeIDs) > 0 {
		excPlaceholders, excArgs := inClausePlaceholders(excludeIDs)
		query += " AND c.id NOT IN (" + excPlaceholders + ")"
		args = append(args, excArgs...)
	}
	query += " ORDER BY RAND() LIMIT 1"
	return query, args
}

func inClausePlaceholders(items []string) (string, []any) {
	placeholders := ""
	args := make([]any, 0, len(items))
	for i, it := range items {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, it)
	}
	return placeholders, args
}

func scanCase(row rowScanner) (*model.Case, error) {
	var c model.Case
	var categories, doctorSections, patientSections, criteria []byte

	err := row.Scan(&c.ID, &c.Title, &categories, &c.Description, &doctorSections,
		&patientSections, &c.Notes, &c.ImageRef, &criteria, &c.AuthoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: scan case: %w", err)
	}

	_ = json.Unmarshal(categories, &c.CategoryNames)
	_ = json.Unmarshal(doctorSections, &c.DoctorSections)
	_ = json.Unmarshal(patientSections, &c.PatientSections)
	_ = json.Unmarshal(criteria, &c.FeedbackCriteria)
	return &c, nil
}
