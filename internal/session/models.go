package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-quiz/internal/question"
)

// Mode selects how a session's question set is resolved.
type Mode string

const (
	ModePractice Mode = "practice"
	ModeExam     Mode = "exam"
	ModeFavorite Mode = "favorite"
	ModeWrong    Mode = "wrong"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePractice, ModeExam, ModeFavorite, ModeWrong:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrValidation, s)
	}
}

// pooled modes draw their questions from per-user membership that can change
// while the session is open.
func (m Mode) pooled() bool { return m == ModeFavorite || m == ModeWrong }

type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusDiscarded Status = "discarded" // reset or deleted; never resumed
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOngoing, StatusCompleted, StatusDiscarded:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
}

type Session struct {
	ID           int64      `json:"id"`
	Token        string     `json:"session_token"`
	UserID       string     `json:"user_id"`
	BankID       int64      `json:"bank_id"`
	BankName     string     `json:"bank_name,omitempty"`
	Mode         Mode       `json:"mode"`
	Total        int        `json:"total_questions"`
	Answered     int        `json:"answered_questions"`
	Correct      int        `json:"correct_answers"`
	CurrentIndex int        `json:"current_index"`
	Status       Status     `json:"status"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (s Session) Deleted() bool { return s.Status == StatusDiscarded }

func (s Session) MarshalJSON() ([]byte, error) {
	type alias Session
	return json.Marshal(struct {
		alias
		Deleted bool `json:"deleted"`
	}{alias(s), s.Deleted()})
}

// clamp restores 0 <= correct <= answered <= total and 0 <= current <= total.
func (s *Session) clamp() {
	s.Total = max(s.Total, 0)
	s.Answered = min(max(s.Answered, 0), s.Total)
	s.Correct = min(max(s.Correct, 0), s.Answered)
	s.CurrentIndex = min(max(s.CurrentIndex, 0), s.Total)
}

// AnswerRecord is the stored answer for one question of one session.
// Correct is nil until the answer has been judged.
type AnswerRecord struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	SessionToken  string    `json:"session_token"`
	QuestionID    int64     `json:"question_id"`
	QuestionIndex int       `json:"question_index"`
	UserAnswer    string    `json:"user_answer"`
	Correct       *bool     `json:"is_correct"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Bundle is what a client needs to render or resume a session.
type Bundle struct {
	Session     Session             `json:"session"`
	Questions   []question.Question `json:"questions"`
	Answers     []AnswerRecord      `json:"answers"`
	ResumeIndex int                 `json:"resume_index"`
	Resumed     bool                `json:"resumed"`
	Deadline    *time.Time          `json:"deadline,omitempty"`
}

type GradeResult struct {
	Correct       bool    `json:"is_correct"`
	CorrectAnswer string  `json:"correct_answer"`
	Analysis      string  `json:"analysis,omitempty"`
	CurrentIndex  int     `json:"current_index"`
	HasNext       bool    `json:"has_next"`
	Completed     bool    `json:"completed"`
	Session       Session `json:"session"`
}

type ExamAnswer struct {
	QuestionID    int64  `json:"question_id" validate:"required,gt=0"`
	QuestionIndex int    `json:"question_index" validate:"gte=0"`
	UserAnswer    string `json:"user_answer"`
}

type ExamItemResult struct {
	QuestionID    int64  `json:"question_id"`
	QuestionIndex int    `json:"question_index"`
	UserAnswer    string `json:"user_answer"`
	Correct       bool   `json:"is_correct"`
	CorrectAnswer string `json:"correct_answer"`
	Analysis      string `json:"analysis,omitempty"`
}

type ExamResult struct {
	Session Session          `json:"session"`
	Results []ExamItemResult `json:"results"`
	Skipped []int64          `json:"skipped,omitempty"` // ids not in the bank
}

type ListOpts struct {
	BankID int64
	Mode   Mode
	Status Status // empty lists ongoing and completed
	Limit  int
	Offset int
}
