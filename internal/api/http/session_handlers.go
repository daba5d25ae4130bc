package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-quiz/internal/session"
)

type startReq struct {
	BankID   int64  `json:"bank_id" validate:"required,gt=0"`
	Mode     string `json:"mode" validate:"required,oneof=practice exam favorite wrong"`
	ForceNew bool   `json:"force_new"`
}

type scopeReq struct {
	BankID int64  `json:"bank_id" validate:"required,gt=0"`
	Mode   string `json:"mode" validate:"required,oneof=practice exam favorite wrong"`
}

type answerReq struct {
	QuestionID    int64  `json:"question_id" validate:"required,gt=0"`
	QuestionIndex *int   `json:"question_index" validate:"required,gte=0"`
	UserAnswer    string `json:"user_answer"`
}

type examReq struct {
	Answers []session.ExamAnswer `json:"answers" validate:"dive"`
}

// POST /sessions/start
func StartSessionHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		var req startReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		b, err := eng.Start(r.Context(), uid, req.BankID, session.Mode(req.Mode), req.ForceNew)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if !b.Resumed {
			status = http.StatusCreated
		}
		writeJSON(w, status, b)
	}
}

// GET /sessions/ongoing?bank_id&mode
// With both filters the single ongoing session is returned, otherwise all of
// the caller's ongoing sessions.
func OngoingSessionsHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		bankID, err := queryInt64(r, "bank_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		mode := r.URL.Query().Get("mode")
		if bankID > 0 && mode != "" {
			m, err := session.ParseMode(mode)
			if err != nil {
				writeError(w, r, err)
				return
			}
			s, err := eng.Ongoing(r.Context(), uid, bankID, m)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, s)
			return
		}
		all, err := eng.AllOngoing(r.Context(), uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	}
}

// POST /sessions/reset
func ResetSessionHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		var req scopeReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := eng.Reset(r.Context(), uid, req.BankID, session.Mode(req.Mode)); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /sessions?bank_id&mode&status&limit&offset
func ListSessionsHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		opts := session.ListOpts{
			Limit:  parseIntDefault(q.Get("limit"), 20),
			Offset: parseIntDefault(q.Get("offset"), 0),
		}
		var err error
		if opts.BankID, err = queryInt64(r, "bank_id"); err != nil {
			writeError(w, r, err)
			return
		}
		if v := q.Get("mode"); v != "" {
			if opts.Mode, err = session.ParseMode(v); err != nil {
				writeError(w, r, err)
				return
			}
		}
		if v := q.Get("status"); v != "" {
			if opts.Status, err = session.ParseStatus(v); err != nil {
				writeError(w, r, err)
				return
			}
		}
		list, err := eng.List(r.Context(), uid, opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /sessions/recent?limit
func RecentSessionsHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		list, err := eng.Recent(r.Context(), uid, parseIntDefault(r.URL.Query().Get("limit"), 10))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /sessions/{token}
func GetSessionHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		s, err := eng.Get(r.Context(), chi.URLParam(r, "token"), uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// GET /sessions/{token}/detail
func SessionDetailHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		b, err := eng.Detail(r.Context(), chi.URLParam(r, "token"), uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

// POST /sessions/{token}/answer
func SubmitAnswerHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		var req answerReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := eng.SubmitAnswer(r.Context(), chi.URLParam(r, "token"), uid,
			req.QuestionID, *req.QuestionIndex, req.UserAnswer)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// POST /sessions/{token}/submit
func SubmitExamHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		var req examReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := eng.SubmitExam(r.Context(), chi.URLParam(r, "token"), uid, req.Answers)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// PUT /sessions/{token}/complete
func CompleteSessionHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		s, err := eng.Complete(r.Context(), chi.URLParam(r, "token"), uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// DELETE /sessions/{token}
func DeleteSessionHandler(eng *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		if err := eng.Delete(r.Context(), chi.URLParam(r, "token"), uid); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
