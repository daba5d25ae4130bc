package http

import (
	"net/http"

	"github.com/mind-engage/mindengage-quiz/internal/question"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

type questionReq struct {
	Type          string   `json:"type" validate:"required,oneof=single multiple judge essay"`
	Content       string   `json:"content" validate:"required"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer" validate:"required"`
	Analysis      string   `json:"analysis"`
	SortOrder     int      `json:"sort_order"`
	Enabled       *bool    `json:"enabled"`
}

func (q questionReq) toQuestion(bankID int64) question.Question {
	enabled := q.Enabled == nil || *q.Enabled
	return question.Question{
		BankID:        bankID,
		Type:          question.Type(q.Type),
		Content:       q.Content,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Analysis:      q.Analysis,
		Enabled:       enabled,
		SortOrder:     q.SortOrder,
	}
}

type bankReq struct {
	Name         string        `json:"name" validate:"required,max=200"`
	Description  string        `json:"description"`
	TimeLimitSec int           `json:"time_limit_sec" validate:"gte=0"`
	SortOrder    int           `json:"sort_order"`
	Questions    []questionReq `json:"questions" validate:"required,min=1,dive"`
}

// POST /banks  uploads a bank with its questions
func UploadBankHandler(store *question.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		var req bankReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		qs := make([]question.Question, len(req.Questions))
		for i, q := range req.Questions {
			qs[i] = q.toQuestion(0)
		}
		b, saved, err := store.PutBank(r.Context(), question.Bank{
			Name:         req.Name,
			Description:  req.Description,
			TimeLimitSec: req.TimeLimitSec,
			SortOrder:    req.SortOrder,
			Enabled:      true,
			CreatedBy:    uid,
		}, qs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"bank": b, "questions": saved})
	}
}

// GET /banks
func ListBanksHandler(store *question.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.ListBanks(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /banks/{bankID}/questions
// Answer keys are only shown to roles that may edit banks.
func BankQuestionsHandler(store *question.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bankID, err := pathInt64(r, "bankID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := store.GetBank(r.Context(), nil, bankID); err != nil {
			writeError(w, r, err)
			return
		}
		qs, err := store.ListByBank(r.Context(), nil, bankID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !rbac.Default().Has(rbac.RoleFromContext(r.Context()), "bank:edit") {
			for i := range qs {
				qs[i].CorrectAnswer = ""
				qs[i].Analysis = ""
			}
		}
		writeJSON(w, http.StatusOK, qs)
	}
}

// POST /banks/{bankID}/questions
func AddQuestionHandler(store *question.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bankID, err := pathInt64(r, "bankID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req questionReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		q, err := store.AddQuestion(r.Context(), req.toQuestion(bankID))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// PUT /questions/{questionID}/enabled  {"enabled": false}
func SetQuestionEnabledHandler(store *question.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt64(r, "questionID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req struct {
			Enabled *bool `json:"enabled" validate:"required"`
		}
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := store.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
