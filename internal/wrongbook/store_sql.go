// Package wrongbook tracks, per user and question, how often the question was
// answered incorrectly and whether the user has since mastered it.
package wrongbook

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-quiz/internal/db"
)

var ErrNotFound = errors.New("wrongbook: entry not found")

type Entry struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	BankID          int64     `json:"bank_id"`
	BankName        string    `json:"bank_name,omitempty"`
	QuestionID      int64     `json:"question_id"`
	QuestionContent string    `json:"question_content,omitempty"`
	ErrorCount      int       `json:"error_count"`
	LastWrongAnswer string    `json:"last_wrong_answer"`
	LastErrorAt     time.Time `json:"last_error_time"`
	Mastered        bool      `json:"mastered"`
}

type ListOpts struct {
	BankID   int64
	Mastered *bool
	Keyword  string
	Limit    int
	Offset   int
}

type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(dbh *sql.DB) *SQLStore {
	return &SQLStore{db: dbh, now: time.Now}
}

// WithClock replaces the store's time source.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

// RecordWrong upserts the entry for (user, question): the error counter goes
// up by one and mastery is reset.
func (s *SQLStore) RecordWrong(ctx context.Context, q db.Querier, userID string, bankID, questionID int64, answer string) error {
	now := s.now().Unix()
	_, err := q.ExecContext(ctx, `INSERT INTO wrong_questions
		(user_id, bank_id, question_id, error_count, last_error_time, last_error_answer, status, created_at, updated_at)
		VALUES ($1,$2,$3,1,$4,$5,0,$4,$4)
		ON CONFLICT (user_id, question_id) DO UPDATE SET
		  error_count = wrong_questions.error_count + 1,
		  bank_id = excluded.bank_id,
		  last_error_time = excluded.last_error_time,
		  last_error_answer = excluded.last_error_answer,
		  status = 0,
		  updated_at = excluded.updated_at`,
		userID, bankID, questionID, now, answer)
	return err
}

// MarkCorrect flags an existing entry as mastered. It never creates one.
func (s *SQLStore) MarkCorrect(ctx context.Context, q db.Querier, userID string, questionID int64) error {
	_, err := q.ExecContext(ctx, `UPDATE wrong_questions SET status=1, updated_at=$1
		WHERE user_id=$2 AND question_id=$3`, s.now().Unix(), userID, questionID)
	return err
}

// SetMastered flips mastery on a user's existing entries and returns how many
// were updated. Marking an entry unmastered again counts as a fresh error, so
// it moves to the front of the wrong-question pool.
func (s *SQLStore) SetMastered(ctx context.Context, userID string, questionIDs []int64, mastered bool) (int, error) {
	if len(questionIDs) == 0 {
		return 0, nil
	}
	now := s.now().Unix()
	set := `status=1, updated_at=$1`
	if !mastered {
		set = `status=0, last_error_time=$1, updated_at=$1`
	}
	args := make([]any, 0, len(questionIDs)+2)
	args = append(args, now, userID)
	for _, id := range questionIDs {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE wrong_questions SET `+set+`
		WHERE user_id=$2 AND question_id IN (`+db.Placeholders(3, len(questionIDs))+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) UnmasteredQuestionIDs(ctx context.Context, q db.Querier, userID string, bankID int64) ([]int64, error) {
	mastered := false
	return s.QuestionIDs(ctx, q, userID, bankID, &mastered)
}

// QuestionIDs lists the question ids of a user's entries in bankID, most
// recent error first. A nil mastered returns every entry.
func (s *SQLStore) QuestionIDs(ctx context.Context, q db.Querier, userID string, bankID int64, mastered *bool) ([]int64, error) {
	query := `SELECT question_id FROM wrong_questions WHERE user_id=$1 AND bank_id=$2`
	args := []any{userID, bankID}
	if mastered != nil {
		query += ` AND status=$3`
		args = append(args, statusOf(*mastered))
	}
	query += ` ORDER BY last_error_time DESC, id DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, userID string, questionID int64) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM wrong_questions w
		JOIN question_banks b ON b.id=w.bank_id
		JOIN questions q ON q.id=w.question_id
		WHERE w.user_id=$1 AND w.question_id=$2`, userID, questionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns a user's entries joined with bank name and question text.
func (s *SQLStore) List(ctx context.Context, userID string, opts ListOpts) ([]Entry, error) {
	query := `SELECT ` + entryCols + ` FROM wrong_questions w
		JOIN question_banks b ON b.id=w.bank_id
		JOIN questions q ON q.id=w.question_id
		WHERE w.user_id=$1`
	args := []any{userID}
	if opts.BankID > 0 {
		args = append(args, opts.BankID)
		query += ` AND w.bank_id=` + ph(len(args))
	}
	if opts.Mastered != nil {
		args = append(args, statusOf(*opts.Mastered))
		query += ` AND w.status=` + ph(len(args))
	}
	if kw := strings.TrimSpace(opts.Keyword); kw != "" {
		args = append(args, "%"+kw+"%")
		query += ` AND q.content LIKE ` + ph(len(args))
	}
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, max(opts.Offset, 0))
	query += ` ORDER BY w.last_error_time DESC, w.id DESC LIMIT ` + ph(len(args)-1) + ` OFFSET ` + ph(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Count(ctx context.Context, userID string, mastered *bool) (int, error) {
	query := `SELECT COUNT(*) FROM wrong_questions WHERE user_id=$1`
	args := []any{userID}
	if mastered != nil {
		query += ` AND status=$2`
		args = append(args, statusOf(*mastered))
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// Remove deletes a user's entry for a question.
func (s *SQLStore) Remove(ctx context.Context, userID string, questionID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wrong_questions WHERE user_id=$1 AND question_id=$2`, userID, questionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const entryCols = `w.id, w.user_id, w.bank_id, b.name, w.question_id, q.content,
	w.error_count, w.last_error_answer, w.last_error_time, w.status`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var e Entry
	var at int64
	var status int
	if err := sc.Scan(&e.ID, &e.UserID, &e.BankID, &e.BankName, &e.QuestionID, &e.QuestionContent,
		&e.ErrorCount, &e.LastWrongAnswer, &at, &status); err != nil {
		return Entry{}, err
	}
	e.LastErrorAt = time.Unix(at, 0).UTC()
	e.Mastered = status == 1
	return e, nil
}

func statusOf(mastered bool) int {
	if mastered {
		return 1
	}
	return 0
}

func ph(n int) string { return db.Placeholders(n, 1) }
