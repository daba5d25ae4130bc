package favorite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-quiz/internal/db"
)

var (
	ErrNotFound         = errors.New("favorite: not found")
	ErrAlreadyFavorited = errors.New("favorite: question already favorited")
)

type Favorite struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	BankID          int64     `json:"bank_id"`
	QuestionID      int64     `json:"question_id"`
	QuestionContent string    `json:"question_content,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(dbh *sql.DB) *SQLStore {
	return &SQLStore{db: dbh}
}

// Add favorites a question for a user. The bank id is taken from the
// question row so callers cannot file a question under the wrong bank.
func (s *SQLStore) Add(ctx context.Context, userID string, questionID int64, notes string) (Favorite, error) {
	f := Favorite{UserID: userID, QuestionID: questionID, Notes: notes, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT bank_id FROM questions WHERE id=$1`, questionID).Scan(&f.BankID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM favorites WHERE user_id=$1 AND question_id=$2`, userID, questionID).Scan(&exists)
		if err == nil {
			return ErrAlreadyFavorited
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return tx.QueryRowContext(ctx, `INSERT INTO favorites (user_id, bank_id, question_id, notes, created_at)
			VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			userID, f.BankID, questionID, notes, f.CreatedAt.Unix()).Scan(&f.ID)
	})
	if err != nil {
		return Favorite{}, err
	}
	return f, nil
}

func (s *SQLStore) UpdateNotes(ctx context.Context, userID string, questionID int64, notes string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE favorites SET notes=$1 WHERE user_id=$2 AND question_id=$3`, notes, userID, questionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, userID string, questionID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE user_id=$1 AND question_id=$2`, userID, questionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) IsFavorited(ctx context.Context, userID string, questionID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM favorites WHERE user_id=$1 AND question_id=$2)`, userID, questionID).Scan(&ok)
	return ok, err
}

// List returns a user's favorites, newest first, optionally limited to a bank.
func (s *SQLStore) List(ctx context.Context, userID string, bankID int64, limit, offset int) ([]Favorite, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT f.id, f.user_id, f.bank_id, f.question_id, q.content, f.notes, f.created_at
		FROM favorites f JOIN questions q ON q.id=f.question_id
		WHERE f.user_id=$1`
	args := []any{userID}
	if bankID > 0 {
		query += ` AND f.bank_id=$2`
		args = append(args, bankID)
	}
	args = append(args, limit, max(offset, 0))
	query += ` ORDER BY f.created_at DESC, f.id DESC LIMIT ` + db.Placeholders(len(args)-1, 1) + ` OFFSET ` + db.Placeholders(len(args), 1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Favorite{}
	for rows.Next() {
		var f Favorite
		var at int64
		if err := rows.Scan(&f.ID, &f.UserID, &f.BankID, &f.QuestionID, &f.QuestionContent, &f.Notes, &at); err != nil {
			return nil, err
		}
		f.CreatedAt = time.Unix(at, 0).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// QuestionIDsByBank lists the favorited question ids of bankID in the order
// they were favorited.
func (s *SQLStore) QuestionIDsByBank(ctx context.Context, q db.Querier, userID string, bankID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT question_id FROM favorites
		WHERE user_id=$1 AND bank_id=$2 ORDER BY created_at, id`, userID, bankID)
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
