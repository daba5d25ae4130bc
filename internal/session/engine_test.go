package session_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mind-engage/mindengage-quiz/internal/db"
	"github.com/mind-engage/mindengage-quiz/internal/db/dbtest"
	"github.com/mind-engage/mindengage-quiz/internal/favorite"
	"github.com/mind-engage/mindengage-quiz/internal/question"
	"github.com/mind-engage/mindengage-quiz/internal/session"
	syncx "github.com/mind-engage/mindengage-quiz/internal/sync"
	"github.com/mind-engage/mindengage-quiz/internal/wrongbook"
)

type fixture struct {
	db        *sql.DB
	questions *question.SQLStore
	wrong     *wrongbook.SQLStore
	favs      *favorite.SQLStore
	events    *syncx.EventRepo
	eng       *session.Engine
	bank      question.Bank
	qs        []question.Question // single, judge, multiple
}

func newFixture(t *testing.T, tracker session.WrongTracker) *fixture {
	t.Helper()
	h := dbtest.Open(t)
	f := &fixture{
		db:        h,
		questions: question.NewSQLStore(h),
		wrong:     wrongbook.NewSQLStore(h),
		favs:      favorite.NewSQLStore(h),
		events:    syncx.NewEventRepo(h, "test"),
	}
	if tracker == nil {
		tracker = f.wrong
	}
	f.eng = session.NewEngine(h, db.DriverSQLite, f.questions, tracker, f.favs,
		session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		session.WithEvents(f.events),
	)

	var err error
	f.bank, f.qs, err = f.questions.PutBank(context.Background(),
		question.Bank{Name: "Geography", TimeLimitSec: 600, Enabled: true},
		[]question.Question{
			{Type: question.TypeSingle, Content: "Capital of France?", Options: []string{"Paris", "London", "Berlin"},
				CorrectAnswer: "Paris", Analysis: "Paris since 987.", Enabled: true, SortOrder: 1},
			{Type: question.TypeJudge, Content: "The Nile flows north.", CorrectAnswer: "正确", Enabled: true, SortOrder: 2},
			{Type: question.TypeMultiple, Content: "Pick the options.", Options: []string{"OptionA", "OptionB", "OptionC", "OptionD"},
				CorrectAnswer: `["OptionA","OptionB","OptionC"]`, Enabled: true, SortOrder: 3},
		})
	if err != nil {
		t.Fatalf("seed bank: %v", err)
	}
	return f
}

func checkInvariants(t *testing.T, s session.Session) {
	t.Helper()
	if s.Correct < 0 || s.Correct > s.Answered || s.Answered > s.Total {
		t.Fatalf("counter invariant broken: correct=%d answered=%d total=%d", s.Correct, s.Answered, s.Total)
	}
	if s.CurrentIndex < 0 || s.CurrentIndex > s.Total {
		t.Fatalf("index invariant broken: current=%d total=%d", s.CurrentIndex, s.Total)
	}
}

func TestPracticeSession_AnswerAllAutoCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	b, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	s := b.Session
	if s.Total != 3 || s.Answered != 0 || s.CurrentIndex != 0 || b.Resumed {
		t.Fatalf("unexpected new session: %+v resumed=%v", s, b.Resumed)
	}
	if len(b.Questions) != 3 || b.Questions[0].ID != f.qs[0].ID || b.Questions[2].ID != f.qs[2].ID {
		t.Fatalf("questions not in sort order: %+v", b.Questions)
	}
	if b.Deadline != nil {
		t.Fatal("practice sessions are untimed")
	}

	r, err := f.eng.SubmitAnswer(ctx, s.Token, "alice", f.qs[0].ID, 0, "Paris")
	if err != nil {
		t.Fatalf("submit q0: %v", err)
	}
	if !r.Correct || r.Session.Answered != 1 || r.Session.Correct != 1 || r.CurrentIndex != 1 || !r.HasNext {
		t.Fatalf("after q0: %+v", r)
	}
	if r.CorrectAnswer != "Paris" || r.Analysis == "" {
		t.Fatalf("grade result should carry the key and analysis: %+v", r)
	}

	r, err = f.eng.SubmitAnswer(ctx, s.Token, "alice", f.qs[1].ID, 1, "false")
	if err != nil {
		t.Fatalf("submit q1: %v", err)
	}
	if r.Correct || r.Session.Answered != 2 || r.Session.Correct != 1 {
		t.Fatalf("after q1: %+v", r)
	}
	entry, err := f.wrong.Get(ctx, "alice", f.qs[1].ID)
	if err != nil {
		t.Fatalf("wrong entry: %v", err)
	}
	if entry.ErrorCount != 1 || entry.Mastered || entry.LastWrongAnswer != "false" {
		t.Fatalf("unexpected wrong entry: %+v", entry)
	}

	r, err = f.eng.SubmitAnswer(ctx, s.Token, "alice", f.qs[2].ID, 2, "BAC")
	if err != nil {
		t.Fatalf("submit q2: %v", err)
	}
	if !r.Correct || r.Session.Answered != 3 || r.Session.Correct != 2 || r.HasNext || !r.Completed {
		t.Fatalf("after q2: %+v", r)
	}
	if r.Session.Status != session.StatusCompleted || r.Session.EndTime == nil {
		t.Fatalf("session should be completed: %+v", r.Session)
	}
	checkInvariants(t, r.Session)

	if _, err := f.eng.SubmitAnswer(ctx, s.Token, "alice", f.qs[0].ID, 0, "Paris"); !errors.Is(err, session.ErrSessionCompleted) {
		t.Fatalf("submit after completion: got %v", err)
	}

	evs, err := f.events.Since(ctx, 0, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != syncx.TypeSessionCompleted || evs[0].Key != s.Token {
		t.Fatalf("expected one completion event, got %+v", evs)
	}
}

func TestReset_DiscardsOngoingAndKeepsAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	b, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	old := b.Session.Token
	if _, err := f.eng.SubmitAnswer(ctx, old, "alice", f.qs[0].ID, 0, "Paris"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := f.eng.Reset(ctx, "alice", f.bank.ID, session.ModePractice); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := f.eng.Reset(ctx, "alice", f.bank.ID, session.ModePractice); err != nil {
		t.Fatalf("second reset should be a no-op: %v", err)
	}
	if _, err := f.eng.Ongoing(ctx, "alice", f.bank.ID, session.ModePractice); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("ongoing after reset: got %v", err)
	}

	got, err := f.eng.Get(ctx, old, "alice")
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if got.Status != session.StatusDiscarded || !got.Deleted() || got.EndTime == nil {
		t.Fatalf("old session not discarded: %+v", got)
	}

	nb, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if nb.Session.Token == old || nb.Session.Total != 3 || nb.Session.Answered != 0 || len(nb.Answers) != 0 {
		t.Fatalf("expected a fresh session, got %+v", nb.Session)
	}

	detail, err := f.eng.Detail(ctx, old, "alice")
	if err != nil {
		t.Fatalf("detail old: %v", err)
	}
	if len(detail.Answers) != 1 || detail.Answers[0].QuestionID != f.qs[0].ID {
		t.Fatalf("old answers should survive reset: %+v", detail.Answers)
	}
}

func TestStart_ResumeAndForceNew(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.SubmitAnswer(ctx, first.Session.Token, "alice", f.qs[0].ID, 0, "London"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	again, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !again.Resumed || again.Session.Token != first.Session.Token || again.ResumeIndex != 1 || len(again.Answers) != 1 {
		t.Fatalf("expected resume of %s at 1, got %+v", first.Session.Token, again)
	}

	// another mode on the same bank is a separate session
	if _, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeExam, false); err != nil {
		t.Fatalf("start exam: %v", err)
	}

	fresh, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, true)
	if err != nil {
		t.Fatalf("force new: %v", err)
	}
	if fresh.Resumed || fresh.Session.Token == first.Session.Token {
		t.Fatalf("force new should create a session, got %+v", fresh.Session)
	}

	ongoing, err := f.eng.AllOngoing(ctx, "alice")
	if err != nil {
		t.Fatalf("all ongoing: %v", err)
	}
	if len(ongoing) != 2 {
		t.Fatalf("expected one ongoing session per mode, got %d", len(ongoing))
	}
	for _, s := range ongoing {
		if s.Token == first.Session.Token {
			t.Fatal("discarded session still listed as ongoing")
		}
	}
}

func TestSubmitAnswer_ResubmissionAdjustsCorrectOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	b, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	tok := b.Session.Token

	steps := []struct {
		qIdx     int
		answer   string
		answered int
		correct  int
		current  int
	}{
		{0, "London", 1, 0, 1},
		{0, "Paris", 1, 1, 1},
		{2, "ABC", 2, 2, 3},
		{0, "Berlin", 2, 1, 3}, // cursor does not move back
		{0, "Paris", 2, 2, 3},
	}
	for i, st := range steps {
		r, err := f.eng.SubmitAnswer(ctx, tok, "alice", f.qs[st.qIdx].ID, st.qIdx, st.answer)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		s := r.Session
		if s.Answered != st.answered || s.Correct != st.correct || s.CurrentIndex != st.current {
			t.Fatalf("step %d: answered=%d correct=%d current=%d, want %d/%d/%d",
				i, s.Answered, s.Correct, s.CurrentIndex, st.answered, st.correct, st.current)
		}
		if s.Status != session.StatusOngoing {
			t.Fatalf("step %d: session closed early", i)
		}
		checkInvariants(t, s)
	}

	d, err := f.eng.Detail(ctx, tok, "alice")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(d.Answers) != 2 {
		t.Fatalf("resubmission must update in place, got %d records", len(d.Answers))
	}
	if d.Answers[0].UserAnswer != "Paris" || d.Answers[0].Correct == nil || !*d.Answers[0].Correct {
		t.Fatalf("last write should win: %+v", d.Answers[0])
	}
}

func TestSubmitAnswer_Guards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	b, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	tok := b.Session.Token

	if _, err := f.eng.SubmitAnswer(ctx, "missing", "alice", f.qs[0].ID, 0, "Paris"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("unknown token: got %v", err)
	}
	if _, err := f.eng.SubmitAnswer(ctx, tok, "bob", f.qs[0].ID, 0, "Paris"); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("other user: got %v", err)
	}
	if _, err := f.eng.SubmitAnswer(ctx, tok, "alice", 0, 0, "Paris"); !errors.Is(err, session.ErrValidation) {
		t.Fatalf("missing question id: got %v", err)
	}
	if _, err := f.eng.SubmitAnswer(ctx, tok, "alice", 424242, 0, "x"); !errors.Is(err, session.ErrQuestionNotFound) {
		t.Fatalf("unknown question: got %v", err)
	}

	_, otherQs, err := f.questions.PutBank(ctx, question.Bank{Name: "Other", Enabled: true},
		[]question.Question{{Type: question.TypeJudge, Content: "?", CorrectAnswer: "true", Enabled: true}})
	if err != nil {
		t.Fatalf("seed other bank: %v", err)
	}
	if _, err := f.eng.SubmitAnswer(ctx, tok, "alice", otherQs[0].ID, 0, "true"); !errors.Is(err, session.ErrQuestionNotFound) {
		t.Fatalf("question of another bank: got %v", err)
	}

	if _, err := f.eng.Complete(ctx, tok, "alice"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// ownership is checked before status
	if _, err := f.eng.SubmitAnswer(ctx, tok, "bob", f.qs[0].ID, 0, "Paris"); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("other user on completed session: got %v", err)
	}
	if _, err := f.eng.SubmitAnswer(ctx, tok, "alice", f.qs[0].ID, 0, "Paris"); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("completed session: got %v", err)
	}

	s, err := f.eng.Complete(ctx, tok, "alice")
	if err != nil || s.Status != session.StatusCompleted {
		t.Fatalf("completing twice should be a no-op: %+v %v", s, err)
	}
}

func TestStart_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if _, err := f.eng.Start(ctx, "alice", 9999, session.ModePractice, false); !errors.Is(err, session.ErrBankNotFound) {
		t.Fatalf("unknown bank: got %v", err)
	}
	if _, err := f.eng.Start(ctx, "alice", f.bank.ID, session.Mode("speedrun"), false); !errors.Is(err, session.ErrValidation) {
		t.Fatalf("unknown mode: got %v", err)
	}
	if _, err := f.eng.Start(ctx, "", f.bank.ID, session.ModePractice, false); !errors.Is(err, session.ErrValidation) {
		t.Fatalf("missing user: got %v", err)
	}
	if _, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeWrong, false); !errors.Is(err, session.ErrEmptyQuestionSet) {
		t.Fatalf("wrong mode without wrong answers: got %v", err)
	}
	if _, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeFavorite, false); !errors.Is(err, session.ErrEmptyQuestionSet) {
		t.Fatalf("favorite mode without favorites: got %v", err)
	}
}

func TestWrongMode_MasteryShrinksPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	b, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	if _, err := f.eng.SubmitAnswer(ctx, b.Session.Token, "alice", f.qs[1].ID, 1, "错"); err != nil {
		t.Fatalf("submit wrong: %v", err)
	}

	qs, err := f.eng.ResolveQuestionSet(ctx, "alice", f.bank.ID, session.ModeWrong)
	if err != nil || len(qs) != 1 || qs[0].ID != f.qs[1].ID {
		t.Fatalf("wrong pool: %+v %v", qs, err)
	}

	wb, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeWrong, false)
	if err != nil {
		t.Fatalf("start wrong: %v", err)
	}
	if wb.Session.Total != 1 {
		t.Fatalf("wrong session total = %d, want 1", wb.Session.Total)
	}
	r, err := f.eng.SubmitAnswer(ctx, wb.Session.Token, "alice", f.qs[1].ID, 0, "对")
	if err != nil {
		t.Fatalf("submit correct: %v", err)
	}
	if !r.Correct || !r.Completed {
		t.Fatalf("expected correct answer to finish the wrong session: %+v", r)
	}
	entry, err := f.wrong.Get(ctx, "alice", f.qs[1].ID)
	if err != nil || !entry.Mastered || entry.ErrorCount != 1 {
		t.Fatalf("entry should be mastered with its count kept: %+v %v", entry, err)
	}

	if _, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeWrong, false); !errors.Is(err, session.ErrEmptyQuestionSet) {
		t.Fatalf("all mastered: got %v", err)
	}
}

func TestWrongMode_EmptyPoolDoesNotResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	pb, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	if _, err := f.eng.SubmitAnswer(ctx, pb.Session.Token, "alice", f.qs[1].ID, 1, "错"); err != nil {
		t.Fatalf("submit wrong: %v", err)
	}
	wb, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeWrong, false)
	if err != nil || wb.Session.Total != 1 {
		t.Fatalf("start wrong: %+v %v", wb.Session, err)
	}

	// mastered from the practice session while the wrong session is open
	if _, err := f.eng.SubmitAnswer(ctx, pb.Session.Token, "alice", f.qs[1].ID, 1, "对"); err != nil {
		t.Fatalf("resubmit correct: %v", err)
	}

	if _, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeWrong, false); !errors.Is(err, session.ErrEmptyQuestionSet) {
		t.Fatalf("resume with empty pool: got %v", err)
	}
	if _, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeWrong, true); !errors.Is(err, session.ErrEmptyQuestionSet) {
		t.Fatalf("forceNew with empty pool: got %v", err)
	}
	s, err := f.eng.Get(ctx, wb.Session.Token, "alice")
	if err != nil || s.Status != session.StatusOngoing || s.Total != 1 {
		t.Fatalf("failed start must leave the session untouched: %+v %v", s, err)
	}

	d, err := f.eng.Detail(ctx, wb.Session.Token, "alice")
	if err != nil || d.Session.Total != 0 {
		t.Fatalf("detail: %+v %v", d.Session, err)
	}
	if _, err := f.eng.SubmitAnswer(ctx, wb.Session.Token, "alice", f.qs[1].ID, 0, "对"); !errors.Is(err, session.ErrEmptyQuestionSet) {
		t.Fatalf("answer into empty session: got %v", err)
	}
	d, _ = f.eng.Detail(ctx, wb.Session.Token, "alice")
	if len(d.Answers) != 0 || d.Session.Answered != 0 {
		t.Fatalf("no answer should be stored: %+v", d)
	}
}

func TestStart_ConcurrentCallsShareOneSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	const n = 8
	tokens := make(chan string, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
			if err != nil {
				errs <- err
				return
			}
			tokens <- b.Session.Token
		}()
	}
	wg.Wait()
	close(tokens)
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent start: %v", err)
	}
	seen := map[string]bool{}
	for tok := range tokens {
		seen[tok] = true
	}
	if len(seen) != 1 {
		t.Fatalf("want one shared session, got %d", len(seen))
	}
	all, err := f.eng.AllOngoing(ctx, "alice")
	if err != nil || len(all) != 1 {
		t.Fatalf("ongoing sessions: %d %v", len(all), err)
	}
}

// racingQuestions makes the first bank listing fail the way a lost race on
// the ongoing-session index does, then commits the winner's session inside
// the retry before the engine looks for it.
type racingQuestions struct {
	session.QuestionSource
	userID string
	calls  int
}

func (r *racingQuestions) ListByBank(ctx context.Context, q db.Querier, bankID int64) ([]question.Question, error) {
	r.calls++
	switch r.calls {
	case 1:
		return nil, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	case 2:
		if _, err := q.ExecContext(ctx, `INSERT INTO quiz_sessions
			(session_token, user_id, bank_id, mode, total_questions, status, start_time, created_at, updated_at)
			VALUES ('winner', $1, $2, 'practice', 3, 'ongoing', 0, 0, 0)`, r.userID, bankID); err != nil {
			return nil, err
		}
	}
	return r.QuestionSource.ListByBank(ctx, q, bankID)
}

func TestStart_RetriesAfterUniqueViolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	racer := &racingQuestions{QuestionSource: f.questions, userID: "alice"}
	eng := session.NewEngine(f.db, db.DriverSQLite, racer, f.wrong, f.favs,
		session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	b, err := eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if racer.calls != 2 {
		t.Fatalf("want one retry, got %d attempts", racer.calls)
	}
	if !b.Resumed || b.Session.Token != "winner" {
		t.Fatalf("want the winning session resumed, got %+v", b.Session)
	}
	all, _ := eng.AllOngoing(ctx, "alice")
	if len(all) != 1 {
		t.Fatalf("want exactly one ongoing session, got %d", len(all))
	}
}

func TestCorrectAnswerNeverCreatesWrongEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	b, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	if _, err := f.eng.SubmitAnswer(ctx, b.Session.Token, "alice", f.qs[0].ID, 0, "Paris"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n, _ := f.wrong.Count(ctx, "alice", nil); n != 0 {
		t.Fatalf("correct answer created %d wrong entries", n)
	}
}

func TestFavoriteMode_PoolFollowsFavorites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	for _, q := range f.qs[:2] {
		if _, err := f.favs.Add(ctx, "alice", q.ID, ""); err != nil {
			t.Fatalf("favorite: %v", err)
		}
	}
	b, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeFavorite, false)
	if err != nil {
		t.Fatalf("start favorite: %v", err)
	}
	if b.Session.Total != 2 || b.Questions[0].ID != f.qs[0].ID {
		t.Fatalf("favorite session: %+v", b)
	}
	if _, err := f.eng.SubmitAnswer(ctx, b.Session.Token, "alice", f.qs[0].ID, 0, "Paris"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.favs.Add(ctx, "alice", f.qs[2].ID, "tricky"); err != nil {
		t.Fatalf("favorite q2: %v", err)
	}
	resumed, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeFavorite, false)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed.Resumed || resumed.Session.Total != 3 || len(resumed.Questions) != 3 {
		t.Fatalf("pool growth not reflected: %+v", resumed.Session)
	}

	for _, q := range f.qs {
		_ = f.favs.Remove(ctx, "alice", q.ID)
	}
	d, err := f.eng.Detail(ctx, b.Session.Token, "alice")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if d.Session.Total != 1 || d.Session.Answered != 1 || len(d.Questions) != 0 {
		t.Fatalf("shrunk pool should keep total >= answered: %+v", d.Session)
	}
	checkInvariants(t, d.Session)
}

func TestSubmitExam_GradesBatchAndFinalises(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	b, err := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeExam, false)
	if err != nil {
		t.Fatalf("start exam: %v", err)
	}
	if b.Deadline == nil || !b.Deadline.Equal(b.Session.StartTime.Add(600e9)) {
		t.Fatalf("exam deadline: %v", b.Deadline)
	}
	for _, q := range b.Questions {
		if q.CorrectAnswer != "" || q.Analysis != "" {
			t.Fatalf("answer key leaked in exam bundle: %+v", q)
		}
	}

	res, err := f.eng.SubmitExam(ctx, b.Session.Token, "alice", []session.ExamAnswer{
		{QuestionID: f.qs[0].ID, QuestionIndex: 0, UserAnswer: "Paris"},
		{QuestionID: f.qs[1].ID, QuestionIndex: 1, UserAnswer: "否"},
		{QuestionID: 987654, QuestionIndex: 2, UserAnswer: "A"},
	})
	if err != nil {
		t.Fatalf("submit exam: %v", err)
	}
	s := res.Session
	if s.Status != session.StatusCompleted || s.Answered != 2 || s.Correct != 1 || s.CurrentIndex != s.Total {
		t.Fatalf("exam session: %+v", s)
	}
	if len(res.Results) != 2 || len(res.Skipped) != 1 || res.Skipped[0] != 987654 {
		t.Fatalf("results=%+v skipped=%v", res.Results, res.Skipped)
	}
	if res.Results[0].CorrectAnswer != "Paris" {
		t.Fatalf("results should reveal keys after submission: %+v", res.Results[0])
	}
	if _, err := f.wrong.Get(ctx, "alice", f.qs[1].ID); err != nil {
		t.Fatalf("wrong entry for exam miss: %v", err)
	}

	if _, err := f.eng.SubmitExam(ctx, b.Session.Token, "alice", nil); !errors.Is(err, session.ErrSessionCompleted) {
		t.Fatalf("second submit: got %v", err)
	}

	d, err := f.eng.Detail(ctx, b.Session.Token, "alice")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if d.Questions[0].CorrectAnswer == "" {
		t.Fatal("completed exam detail should show keys")
	}
}

func TestSubmitExam_NoMasteryMarks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	p, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	if _, err := f.eng.SubmitAnswer(ctx, p.Session.Token, "alice", f.qs[0].ID, 0, "Berlin"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	e, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeExam, false)
	if _, err := f.eng.SubmitExam(ctx, e.Session.Token, "alice", []session.ExamAnswer{
		{QuestionID: f.qs[0].ID, QuestionIndex: 0, UserAnswer: "Paris"},
	}); err != nil {
		t.Fatalf("submit exam: %v", err)
	}
	entry, err := f.wrong.Get(ctx, "alice", f.qs[0].ID)
	if err != nil || entry.Mastered {
		t.Fatalf("exam submit must not mark mastery: %+v %v", entry, err)
	}
}

// flakyTracker writes its entry and then fails, so the savepoint must undo
// the write without touching the grade.
type flakyTracker struct{ *wrongbook.SQLStore }

func (f flakyTracker) RecordWrong(ctx context.Context, q db.Querier, userID string, bankID, questionID int64, answer string) error {
	if err := f.SQLStore.RecordWrong(ctx, q, userID, bankID, questionID, answer); err != nil {
		return err
	}
	return errors.New("tracker unavailable")
}

func TestTrackerFailure_DoesNotFailGrade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.eng = session.NewEngine(f.db, db.DriverSQLite, f.questions, flakyTracker{f.wrong}, f.favs,
		session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	b, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	r, err := f.eng.SubmitAnswer(ctx, b.Session.Token, "alice", f.qs[1].ID, 1, "false")
	if err != nil {
		t.Fatalf("grade should succeed despite tracker failure: %v", err)
	}
	if r.Correct || r.Session.Answered != 1 {
		t.Fatalf("grade result: %+v", r)
	}
	if n, _ := f.wrong.Count(ctx, "alice", nil); n != 0 {
		t.Fatalf("failed tracker write should be rolled back, found %d entries", n)
	}
	d, err := f.eng.Detail(ctx, b.Session.Token, "alice")
	if err != nil || len(d.Answers) != 1 {
		t.Fatalf("answer should be committed: %+v %v", d.Answers, err)
	}
}

func TestListRecentDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	p, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModePractice, false)
	e, _ := f.eng.Start(ctx, "alice", f.bank.ID, session.ModeExam, false)
	if _, err := f.eng.Start(ctx, "bob", f.bank.ID, session.ModePractice, false); err != nil {
		t.Fatalf("bob start: %v", err)
	}

	if err := f.eng.Delete(ctx, p.Session.Token, "bob"); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("delete by other user: got %v", err)
	}
	if err := f.eng.Delete(ctx, p.Session.Token, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.eng.Delete(ctx, "nope", "alice"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("delete unknown: got %v", err)
	}

	list, err := f.eng.List(ctx, "alice", session.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Token != e.Session.Token || list[0].BankName != "Geography" {
		t.Fatalf("list should hide discarded sessions: %+v", list)
	}
	gone, err := f.eng.List(ctx, "alice", session.ListOpts{Status: session.StatusDiscarded})
	if err != nil || len(gone) != 1 || gone[0].Token != p.Session.Token {
		t.Fatalf("list discarded: %+v %v", gone, err)
	}
	byMode, _ := f.eng.List(ctx, "alice", session.ListOpts{Mode: session.ModePractice})
	if len(byMode) != 0 {
		t.Fatalf("mode filter: %+v", byMode)
	}

	recent, err := f.eng.Recent(ctx, "alice", 5)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent: %+v %v", recent, err)
	}

	if _, err := f.eng.Get(ctx, e.Session.Token, "bob"); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("get by other user: got %v", err)
	}
}

func TestSessionJSON_ExposesDeleted(t *testing.T) {
	raw, err := json.Marshal(session.Session{Token: "abc", Status: session.StatusDiscarded})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"deleted":true`) || !strings.Contains(string(raw), `"session_token":"abc"`) {
		t.Fatalf("unexpected json: %s", raw)
	}
}

func TestParseMode(t *testing.T) {
	for _, in := range []string{"practice", " EXAM ", "Favorite", "wrong"} {
		if _, err := session.ParseMode(in); err != nil {
			t.Errorf("ParseMode(%q): %v", in, err)
		}
	}
	if _, err := session.ParseMode("review"); !errors.Is(err, session.ErrValidation) {
		t.Errorf("ParseMode(review): got %v", err)
	}
}
