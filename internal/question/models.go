package question

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("question: not found")

// Type is the closed set of question kinds the grader understands.
type Type string

const (
	TypeSingle   Type = "single"
	TypeMultiple Type = "multiple"
	TypeJudge    Type = "judge"
	TypeEssay    Type = "essay"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeSingle, TypeMultiple, TypeJudge, TypeEssay:
		return t, nil
	default:
		return "", fmt.Errorf("question: unknown type %q", s)
	}
}

type Question struct {
	ID            int64    `json:"id"`
	BankID        int64    `json:"bank_id"`
	Type          Type     `json:"type"`
	Content       string   `json:"content"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Analysis      string   `json:"analysis,omitempty"`
	Enabled       bool     `json:"enabled"`
	SortOrder     int      `json:"sort_order"`
}

type Bank struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	TimeLimitSec  int    `json:"time_limit_sec"` // 0 = untimed
	Enabled       bool   `json:"enabled"`
	SortOrder     int    `json:"sort_order"`
	CreatedBy     string `json:"created_by,omitempty"`
	QuestionCount int    `json:"question_count"`
}
