package http

import (
	"net/http"

	"github.com/mind-engage/mindengage-quiz/internal/favorite"
	syncx "github.com/mind-engage/mindengage-quiz/internal/sync"
	"github.com/mind-engage/mindengage-quiz/internal/wrongbook"
)

type favoriteReq struct {
	QuestionID int64  `json:"question_id" validate:"required,gt=0"`
	Notes      string `json:"notes" validate:"max=1000"`
}

// POST /favorites
func AddFavoriteHandler(store *favorite.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		var req favoriteReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		f, err := store.Add(r.Context(), uid, req.QuestionID, req.Notes)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, f)
	}
}

// DELETE /favorites/{questionID}
func RemoveFavoriteHandler(store *favorite.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		qid, err := pathInt64(r, "questionID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := store.Remove(r.Context(), uid, qid); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PUT /favorites/{questionID}/notes  {"notes": "..."}
func UpdateFavoriteNotesHandler(store *favorite.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		qid, err := pathInt64(r, "questionID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req struct {
			Notes string `json:"notes" validate:"max=1000"`
		}
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := store.UpdateNotes(r.Context(), uid, qid, req.Notes); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /favorites?bank_id&limit&offset
func ListFavoritesHandler(store *favorite.SQLStore) http.HandlerFunc {
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
		q := r.URL.Query()
		list, err := store.List(r.Context(), uid, bankID,
			parseIntDefault(q.Get("limit"), 50), parseIntDefault(q.Get("offset"), 0))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /favorites/{questionID}
func FavoriteStatusHandler(store *favorite.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		qid, err := pathInt64(r, "questionID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		yes, err := store.IsFavorited(r.Context(), uid, qid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"favorited": yes})
	}
}

// GET /wrong-questions?bank_id&mastered&keyword&limit&offset
func ListWrongQuestionsHandler(store *wrongbook.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		opts := wrongbook.ListOpts{
			Keyword: q.Get("keyword"),
			Limit:   parseIntDefault(q.Get("limit"), 50),
			Offset:  parseIntDefault(q.Get("offset"), 0),
		}
		var err error
		if opts.BankID, err = queryInt64(r, "bank_id"); err != nil {
			writeError(w, r, err)
			return
		}
		if opts.Mastered, err = queryBool(r, "mastered"); err != nil {
			writeError(w, r, err)
			return
		}
		list, err := store.List(r.Context(), uid, opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /wrong-questions/count?mastered
func CountWrongQuestionsHandler(store *wrongbook.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		mastered, err := queryBool(r, "mastered")
		if err != nil {
			writeError(w, r, err)
			return
		}
		n, err := store.Count(r.Context(), uid, mastered)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": n})
	}
}

type masteryReq struct {
	Mastered *bool `json:"mastered" validate:"required"`
}

// PUT /wrong-questions/{questionID}/mastered  {"mastered": true}
func SetWrongMasteredHandler(store *wrongbook.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		qid, err := pathInt64(r, "questionID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req masteryReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		n, err := store.SetMastered(r.Context(), uid, []int64{qid}, *req.Mastered)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if n == 0 {
			writeError(w, r, wrongbook.ErrNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PUT /wrong-questions/batch-status  {"question_ids": [..], "mastered": false}
func BatchWrongMasteredHandler(store *wrongbook.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		var req struct {
			QuestionIDs []int64 `json:"question_ids" validate:"required,min=1,max=500,dive,gt=0"`
			Mastered    *bool   `json:"mastered" validate:"required"`
		}
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		n, err := store.SetMastered(r.Context(), uid, req.QuestionIDs, *req.Mastered)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"updated": n})
	}
}

// DELETE /wrong-questions/{questionID}
func RemoveWrongQuestionHandler(store *wrongbook.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		qid, err := pathInt64(r, "questionID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := store.Remove(r.Context(), uid, qid); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /events?after&limit  session lifecycle feed for downstream sync
func ListEventsHandler(events *syncx.EventRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, err := queryInt64(r, "after")
		if err != nil {
			writeError(w, r, err)
			return
		}
		list, err := events.Since(r.Context(), after, parseIntDefault(r.URL.Query().Get("limit"), 100))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
