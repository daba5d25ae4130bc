package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-quiz/internal/db"
)

// sqlRepo holds the session and answer-record queries. Every method takes the
// Querier to run on so the engine can keep one transaction per operation.
type sqlRepo struct {
	lock string // row-lock suffix for the session row, empty on SQLite
}

const sessionCols = `s.id, s.session_token, s.user_id, s.bank_id, b.name, s.mode,
	s.total_questions, s.answered_questions, s.correct_answers, s.current_index,
	s.status, s.start_time, s.end_time, s.created_at, s.updated_at`

const sessionFrom = ` FROM quiz_sessions s JOIN question_banks b ON b.id = s.bank_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var s Session
	var mode, status string
	var start, created, updated int64
	var end sql.NullInt64
	if err := sc.Scan(&s.ID, &s.Token, &s.UserID, &s.BankID, &s.BankName, &mode,
		&s.Total, &s.Answered, &s.Correct, &s.CurrentIndex,
		&status, &start, &end, &created, &updated); err != nil {
		return Session{}, err
	}
	s.Mode = Mode(mode)
	s.Status = Status(status)
	s.StartTime = time.Unix(start, 0).UTC()
	s.CreatedAt = time.Unix(created, 0).UTC()
	s.UpdatedAt = time.Unix(updated, 0).UTC()
	if end.Valid {
		t := time.Unix(end.Int64, 0).UTC()
		s.EndTime = &t
	}
	return s, nil
}

func (r sqlRepo) byToken(ctx context.Context, q db.Querier, token string, forUpdate bool) (Session, error) {
	query := `SELECT ` + sessionCols + sessionFrom + ` WHERE s.session_token=$1`
	if forUpdate {
		query += r.lock
	}
	s, err := scanSession(q.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

func (r sqlRepo) findOngoing(ctx context.Context, q db.Querier, userID string, bankID int64, mode Mode, forUpdate bool) (Session, bool, error) {
	query := `SELECT ` + sessionCols + sessionFrom +
		` WHERE s.user_id=$1 AND s.bank_id=$2 AND s.mode=$3 AND s.status=$4`
	if forUpdate {
		query += r.lock
	}
	s, err := scanSession(q.QueryRowContext(ctx, query, userID, bankID, string(mode), string(StatusOngoing)))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

func (r sqlRepo) insert(ctx context.Context, q db.Querier, s *Session) error {
	return q.QueryRowContext(ctx, `INSERT INTO quiz_sessions
		(session_token, user_id, bank_id, mode, total_questions, answered_questions, correct_answers,
		 current_index, status, start_time, end_time, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,$11,$11) RETURNING id`,
		s.Token, s.UserID, s.BankID, string(s.Mode), s.Total, s.Answered, s.Correct,
		s.CurrentIndex, string(s.Status), s.StartTime.Unix(), s.CreatedAt.Unix(),
	).Scan(&s.ID)
}

// save writes progress and lifecycle columns. Counters are clamped first so
// a stored row always satisfies the progress invariants.
func (r sqlRepo) save(ctx context.Context, q db.Querier, s *Session, now time.Time) error {
	s.clamp()
	s.UpdatedAt = now.UTC().Truncate(time.Second)
	var end any
	if s.EndTime != nil {
		end = s.EndTime.Unix()
	}
	_, err := q.ExecContext(ctx, `UPDATE quiz_sessions SET
		total_questions=$1, answered_questions=$2, correct_answers=$3, current_index=$4,
		status=$5, end_time=$6, updated_at=$7
		WHERE id=$8`,
		s.Total, s.Answered, s.Correct, s.CurrentIndex, string(s.Status), end, s.UpdatedAt.Unix(), s.ID)
	return err
}

func (r sqlRepo) list(ctx context.Context, q db.Querier, userID string, opts ListOpts) ([]Session, error) {
	query := `SELECT ` + sessionCols + sessionFrom + ` WHERE s.user_id=$1`
	args := []any{userID}
	if opts.BankID > 0 {
		args = append(args, opts.BankID)
		query += ` AND s.bank_id=` + db.Placeholders(len(args), 1)
	}
	if opts.Mode != "" {
		args = append(args, string(opts.Mode))
		query += ` AND s.mode=` + db.Placeholders(len(args), 1)
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += ` AND s.status=` + db.Placeholders(len(args), 1)
	} else {
		args = append(args, string(StatusDiscarded))
		query += ` AND s.status<>` + db.Placeholders(len(args), 1)
	}
	args = append(args, opts.Limit, opts.Offset)
	query += ` ORDER BY s.created_at DESC, s.id DESC LIMIT ` + db.Placeholders(len(args)-1, 1) +
		` OFFSET ` + db.Placeholders(len(args), 1)
	return querySessions(ctx, q, query, args...)
}

func (r sqlRepo) allOngoing(ctx context.Context, q db.Querier, userID string) ([]Session, error) {
	return querySessions(ctx, q, `SELECT `+sessionCols+sessionFrom+
		` WHERE s.user_id=$1 AND s.status=$2 ORDER BY s.updated_at DESC, s.id DESC`,
		userID, string(StatusOngoing))
}

func querySessions(ctx context.Context, q db.Querier, query string, args ...any) ([]Session, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---- answer records ----

const answerCols = `id, user_id, session_token, question_id, question_index, user_answer, is_correct, created_at, updated_at`

func scanAnswer(sc scanner) (AnswerRecord, error) {
	var a AnswerRecord
	var correct sql.NullInt64
	var created, updated int64
	if err := sc.Scan(&a.ID, &a.UserID, &a.SessionToken, &a.QuestionID, &a.QuestionIndex,
		&a.UserAnswer, &correct, &created, &updated); err != nil {
		return AnswerRecord{}, err
	}
	if correct.Valid {
		v := correct.Int64 == 1
		a.Correct = &v
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	return a, nil
}

func (r sqlRepo) answerFor(ctx context.Context, q db.Querier, token string, questionID int64) (AnswerRecord, bool, error) {
	a, err := scanAnswer(q.QueryRowContext(ctx, `SELECT `+answerCols+` FROM user_answers
		WHERE session_token=$1 AND question_id=$2`, token, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return AnswerRecord{}, false, nil
	}
	if err != nil {
		return AnswerRecord{}, false, err
	}
	return a, true, nil
}

// answers lists a session's records in question-index order.
func (r sqlRepo) answers(ctx context.Context, q db.Querier, token string) ([]AnswerRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+answerCols+` FROM user_answers
		WHERE session_token=$1 ORDER BY question_index, id`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AnswerRecord{}
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// putAnswer inserts a new record (ID == 0) or rewrites an existing one.
func (r sqlRepo) putAnswer(ctx context.Context, q db.Querier, a *AnswerRecord, now time.Time) error {
	a.UpdatedAt = now.UTC().Truncate(time.Second)
	var correct any
	if a.Correct != nil {
		correct = 0
		if *a.Correct {
			correct = 1
		}
	}
	if a.ID != 0 {
		_, err := q.ExecContext(ctx, `UPDATE user_answers SET
			question_index=$1, user_answer=$2, is_correct=$3, updated_at=$4 WHERE id=$5`,
			a.QuestionIndex, a.UserAnswer, correct, a.UpdatedAt.Unix(), a.ID)
		return err
	}
	a.CreatedAt = a.UpdatedAt
	return q.QueryRowContext(ctx, `INSERT INTO user_answers
		(user_id, session_token, question_id, question_index, user_answer, is_correct, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7) RETURNING id`,
		a.UserID, a.SessionToken, a.QuestionID, a.QuestionIndex, a.UserAnswer, correct, a.CreatedAt.Unix(),
	).Scan(&a.ID)
}
