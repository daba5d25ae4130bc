package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-quiz/internal/db"
)

// SQLStore reads and writes banks and questions. Read methods take an
// explicit Querier so the session engine can run them inside its own
// transaction; a nil Querier uses the store's handle.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(dbh *sql.DB) *SQLStore {
	return &SQLStore{db: dbh}
}

func (s *SQLStore) on(q db.Querier) db.Querier {
	if q == nil {
		return s.db
	}
	return q
}

// PutBank inserts a bank with its questions in one transaction and returns
// the bank and questions with their assigned ids.
func (s *SQLStore) PutBank(ctx context.Context, b Bank, qs []Question) (Bank, []Question, error) {
	now := time.Now().Unix()
	out := make([]Question, 0, len(qs))
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `INSERT INTO question_banks
			(name, description, time_limit_sec, status, sort_order, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			b.Name, b.Description, b.TimeLimitSec, boolInt(b.Enabled), b.SortOrder, b.CreatedBy, now,
		).Scan(&b.ID)
		if err != nil {
			return fmt.Errorf("insert bank: %w", err)
		}
		for _, q := range qs {
			q.BankID = b.ID
			if err := insertQuestion(ctx, tx, &q, now); err != nil {
				return err
			}
			out = append(out, q)
		}
		return nil
	})
	if err != nil {
		return Bank{}, nil, err
	}
	b.QuestionCount = len(out)
	return b, out, nil
}

// AddQuestion appends a question to an existing bank.
func (s *SQLStore) AddQuestion(ctx context.Context, q Question) (Question, error) {
	if _, err := s.GetBank(ctx, s.db, q.BankID); err != nil {
		return Question{}, err
	}
	if err := insertQuestion(ctx, s.db, &q, time.Now().Unix()); err != nil {
		return Question{}, err
	}
	return q, nil
}

// SetEnabled toggles a question's availability for practice/exam sets.
func (s *SQLStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET status=$1 WHERE id=$2`, boolInt(enabled), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func insertQuestion(ctx context.Context, q db.Querier, qq *Question, now int64) error {
	if qq.Options == nil {
		qq.Options = []string{}
	}
	opts, err := json.Marshal(qq.Options)
	if err != nil {
		return err
	}
	err = q.QueryRowContext(ctx, `INSERT INTO questions
		(bank_id, type, content, options_json, correct_answer, analysis, status, sort_order, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		qq.BankID, string(qq.Type), qq.Content, string(opts), qq.CorrectAnswer, qq.Analysis,
		boolInt(qq.Enabled), qq.SortOrder, now,
	).Scan(&qq.ID)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *SQLStore) GetBank(ctx context.Context, q db.Querier, id int64) (Bank, error) {
	var b Bank
	var status int
	err := s.on(q).QueryRowContext(ctx, `SELECT b.id, b.name, b.description, b.time_limit_sec, b.status, b.sort_order, b.created_by,
			(SELECT COUNT(*) FROM questions x WHERE x.bank_id=b.id AND x.status=1)
		  FROM question_banks b WHERE b.id=$1`, id).
		Scan(&b.ID, &b.Name, &b.Description, &b.TimeLimitSec, &status, &b.SortOrder, &b.CreatedBy, &b.QuestionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Bank{}, ErrNotFound
	}
	if err != nil {
		return Bank{}, err
	}
	b.Enabled = status == 1
	return b, nil
}

func (s *SQLStore) ListBanks(ctx context.Context) ([]Bank, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT b.id, b.name, b.description, b.time_limit_sec, b.status, b.sort_order, b.created_by,
			(SELECT COUNT(*) FROM questions x WHERE x.bank_id=b.id AND x.status=1)
		  FROM question_banks b WHERE b.status=1 ORDER BY b.sort_order, b.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Bank{}
	for rows.Next() {
		var b Bank
		var status int
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.TimeLimitSec, &status, &b.SortOrder, &b.CreatedBy, &b.QuestionCount); err != nil {
			return nil, err
		}
		b.Enabled = status == 1
		out = append(out, b)
	}
	return out, rows.Err()
}

const questionCols = `id, bank_id, type, content, options_json, correct_answer, analysis, status, sort_order`

// Get returns a question regardless of its enabled flag.
func (s *SQLStore) Get(ctx context.Context, q db.Querier, id int64) (Question, error) {
	row := s.on(q).QueryRowContext(ctx, `SELECT `+questionCols+` FROM questions WHERE id=$1`, id)
	qq, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, ErrNotFound
	}
	return qq, err
}

// ListByBank returns the enabled questions of a bank ordered by sort order then id.
func (s *SQLStore) ListByBank(ctx context.Context, q db.Querier, bankID int64) ([]Question, error) {
	rows, err := s.on(q).QueryContext(ctx, `SELECT `+questionCols+` FROM questions
		WHERE bank_id=$1 AND status=1 ORDER BY sort_order, id`, bankID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		qq, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, qq)
	}
	return out, rows.Err()
}

// ListByIDs returns the questions of bankID whose ids appear in ids, in the
// order of ids. Unknown ids and ids of other banks are dropped.
func (s *SQLStore) ListByIDs(ctx context.Context, q db.Querier, bankID int64, ids []int64) ([]Question, error) {
	if len(ids) == 0 {
		return []Question{}, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, bankID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.on(q).QueryContext(ctx, `SELECT `+questionCols+` FROM questions
		WHERE bank_id=$1 AND id IN (`+db.Placeholders(2, len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[int64]Question, len(ids))
	for rows.Next() {
		qq, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		byID[qq.ID] = qq
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Question, 0, len(byID))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if qq, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, qq)
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(sc scanner) (Question, error) {
	var qq Question
	var typ, opts string
	var status int
	if err := sc.Scan(&qq.ID, &qq.BankID, &typ, &qq.Content, &opts, &qq.CorrectAnswer, &qq.Analysis, &status, &qq.SortOrder); err != nil {
		return Question{}, err
	}
	qq.Type = Type(typ)
	qq.Enabled = status == 1
	if err := json.Unmarshal([]byte(opts), &qq.Options); err != nil || qq.Options == nil {
		qq.Options = []string{}
	}
	return qq, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
