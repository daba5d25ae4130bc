// Package session runs quiz sessions: it resolves the question set for a
// mode, creates or resumes the single ongoing session per (user, bank, mode),
// grades answers, keeps progress counters consistent and feeds wrong answers
// to the wrong-question tracker.
//
// Every mutating operation is one database transaction. On Postgres the
// session row is locked with SELECT ... FOR UPDATE; on SQLite the
// single-connection pool serialises writers.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-quiz/internal/db"
	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/question"
	syncx "github.com/mind-engage/mindengage-quiz/internal/sync"
)

// QuestionSource is the read side of the question store.
type QuestionSource interface {
	GetBank(ctx context.Context, q db.Querier, id int64) (question.Bank, error)
	Get(ctx context.Context, q db.Querier, id int64) (question.Question, error)
	ListByBank(ctx context.Context, q db.Querier, bankID int64) ([]question.Question, error)
	ListByIDs(ctx context.Context, q db.Querier, bankID int64, ids []int64) ([]question.Question, error)
}

type WrongTracker interface {
	RecordWrong(ctx context.Context, q db.Querier, userID string, bankID, questionID int64, answer string) error
	MarkCorrect(ctx context.Context, q db.Querier, userID string, questionID int64) error
	UnmasteredQuestionIDs(ctx context.Context, q db.Querier, userID string, bankID int64) ([]int64, error)
}

type FavoriteSource interface {
	QuestionIDsByBank(ctx context.Context, q db.Querier, userID string, bankID int64) ([]int64, error)
}

// EventSink receives lifecycle events inside the operation's transaction.
type EventSink interface {
	Append(ctx context.Context, q db.Querier, typ, key string, data any) error
}

type Engine struct {
	dbh       *sql.DB
	repo      sqlRepo
	questions QuestionSource
	wrong     WrongTracker
	favorites FavoriteSource
	events    EventSink
	log       *slog.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithEvents(s EventSink) Option { return func(e *Engine) { e.events = s } }

func NewEngine(dbh *sql.DB, driver db.Driver, qs QuestionSource, wrong WrongTracker, favs FavoriteSource, opts ...Option) *Engine {
	e := &Engine{
		dbh:       dbh,
		repo:      sqlRepo{lock: db.ForUpdate(driver, "s")},
		questions: qs,
		wrong:     wrong,
		favorites: favs,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.WithTx(ctx, e.dbh, nil, fn)
}

func (e *Engine) clock() time.Time { return e.now().UTC().Truncate(time.Second) }

func newToken() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }

// ResolveQuestionSet returns the ordered questions a session in mode would
// answer. An empty set is ErrEmptyQuestionSet.
func (e *Engine) ResolveQuestionSet(ctx context.Context, userID string, bankID int64, mode Mode) ([]question.Question, error) {
	if err := checkScope(userID, mode); err != nil {
		return nil, err
	}
	if _, err := e.bank(ctx, e.dbh, bankID); err != nil {
		return nil, err
	}
	qs, err := e.resolve(ctx, e.dbh, userID, bankID, mode)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, ErrEmptyQuestionSet
	}
	return qs, nil
}

func (e *Engine) resolve(ctx context.Context, q db.Querier, userID string, bankID int64, mode Mode) ([]question.Question, error) {
	var ids []int64
	var err error
	switch mode {
	case ModePractice, ModeExam:
		qs, err := e.questions.ListByBank(ctx, q, bankID)
		if err != nil {
			return nil, fmt.Errorf("list bank questions: %w", err)
		}
		return qs, nil
	case ModeFavorite:
		ids, err = e.favorites.QuestionIDsByBank(ctx, q, userID, bankID)
	case ModeWrong:
		ids, err = e.wrong.UnmasteredQuestionIDs(ctx, q, userID, bankID)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrValidation, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s pool: %w", mode, err)
	}
	qs, err := e.questions.ListByIDs(ctx, q, bankID, ids)
	if err != nil {
		return nil, fmt.Errorf("load %s pool: %w", mode, err)
	}
	out := qs[:0]
	for _, qq := range qs {
		if qq.Enabled {
			out = append(out, qq)
		}
	}
	return out, nil
}

func (e *Engine) bank(ctx context.Context, q db.Querier, id int64) (question.Bank, error) {
	b, err := e.questions.GetBank(ctx, q, id)
	if errors.Is(err, question.ErrNotFound) {
		return question.Bank{}, ErrBankNotFound
	}
	return b, err
}

// Start resumes the ongoing session for (user, bank, mode) or creates one.
// With forceNew any ongoing session is discarded first. An empty question
// set fails with ErrEmptyQuestionSet and leaves any ongoing session as is.
func (e *Engine) Start(ctx context.Context, userID string, bankID int64, mode Mode, forceNew bool) (Bundle, error) {
	if err := checkScope(userID, mode); err != nil {
		return Bundle{}, err
	}
	var out Bundle
	start := func(tx *sql.Tx) error {
		b, err := e.bank(ctx, tx, bankID)
		if err != nil {
			return err
		}
		qs, err := e.resolve(ctx, tx, userID, bankID, mode)
		if err != nil {
			return err
		}
		if len(qs) == 0 {
			return ErrEmptyQuestionSet
		}
		if forceNew {
			if err := e.discardOngoing(ctx, tx, userID, bankID, mode); err != nil {
				return err
			}
		}

		now := e.clock()
		s, found, err := e.repo.findOngoing(ctx, tx, userID, bankID, mode, true)
		if err != nil {
			return fmt.Errorf("find ongoing session: %w", err)
		}
		out = Bundle{Questions: qs, Answers: []AnswerRecord{}}
		if found {
			if mode.pooled() && s.Total != len(qs) {
				resize(&s, len(qs))
				if err := e.repo.save(ctx, tx, &s, now); err != nil {
					return fmt.Errorf("resize session: %w", err)
				}
			}
			if out.Answers, err = e.repo.answers(ctx, tx, s.Token); err != nil {
				return fmt.Errorf("load answers: %w", err)
			}
			out.Resumed = true
		} else {
			s = Session{
				Token:     newToken(),
				UserID:    userID,
				BankID:    bankID,
				BankName:  b.Name,
				Mode:      mode,
				Total:     len(qs),
				Status:    StatusOngoing,
				StartTime: now,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := e.repo.insert(ctx, tx, &s); err != nil {
				return fmt.Errorf("create session: %w", err)
			}
		}
		out.Session = s
		out.ResumeIndex = s.CurrentIndex
		out.Deadline = deadline(s, b)
		if mode == ModeExam {
			out.Questions = redact(out.Questions)
		}
		return nil
	}

	err := e.inTx(ctx, start)
	if db.IsUniqueViolation(err) {
		// a concurrent start created the ongoing session first; resume it
		err = e.inTx(ctx, start)
	}
	if err != nil {
		return Bundle{}, err
	}
	if !out.Resumed {
		e.log.Info("session started", "session", out.Session.Token, "user", userID, "bank_id", bankID, "mode", mode, "total", out.Session.Total)
	}
	return out, nil
}

// resize sets total to the current pool size without letting it drop below
// what was already answered.
func resize(s *Session, poolSize int) {
	s.Total = max(poolSize, s.Answered)
	s.clamp()
}

func deadline(s Session, b question.Bank) *time.Time {
	if s.Mode != ModeExam || b.TimeLimitSec <= 0 {
		return nil
	}
	t := s.StartTime.Add(time.Duration(b.TimeLimitSec) * time.Second)
	return &t
}

// redact hides answer keys from questions handed out for an open exam.
func redact(qs []question.Question) []question.Question {
	out := make([]question.Question, len(qs))
	for i, q := range qs {
		q.CorrectAnswer = ""
		q.Analysis = ""
		out[i] = q
	}
	return out
}

// SubmitAnswer grades one answer and advances the session.
func (e *Engine) SubmitAnswer(ctx context.Context, token, userID string, questionID int64, index int, raw string) (GradeResult, error) {
	switch {
	case strings.TrimSpace(token) == "":
		return GradeResult{}, fmt.Errorf("%w: session token is required", ErrValidation)
	case questionID <= 0:
		return GradeResult{}, fmt.Errorf("%w: question_id is required", ErrValidation)
	case index < 0:
		return GradeResult{}, fmt.Errorf("%w: question_index must be >= 0", ErrValidation)
	}

	var res GradeResult
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.openSession(ctx, tx, token, userID)
		if err != nil {
			return err
		}
		if s.Total == 0 {
			return ErrEmptyQuestionSet
		}
		qq, err := e.questions.Get(ctx, tx, questionID)
		if errors.Is(err, question.ErrNotFound) || (err == nil && qq.BankID != s.BankID) {
			return ErrQuestionNotFound
		}
		if err != nil {
			return fmt.Errorf("load question: %w", err)
		}

		ok := grading.Evaluate(grading.FromQuestion(qq), raw)
		now := e.clock()

		rec, found, err := e.repo.answerFor(ctx, tx, s.Token, qq.ID)
		if err != nil {
			return fmt.Errorf("load answer: %w", err)
		}
		if found {
			s.Correct += correctDelta(rec.Correct, ok)
		} else {
			rec = AnswerRecord{UserID: userID, SessionToken: s.Token, QuestionID: qq.ID}
			s.Answered++
			if ok {
				s.Correct++
			}
		}
		rec.QuestionIndex = index
		rec.UserAnswer = raw
		rec.Correct = &ok
		if err := e.repo.putAnswer(ctx, tx, &rec, now); err != nil {
			return fmt.Errorf("save answer: %w", err)
		}

		s.CurrentIndex = max(s.CurrentIndex, index+1)
		s.clamp()
		e.track(ctx, tx, s, qq.ID, raw, ok, true)

		if s.Answered >= s.Total {
			if err := e.finish(ctx, tx, &s, now, StatusCompleted); err != nil {
				return err
			}
		} else if err := e.repo.save(ctx, tx, &s, now); err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		res = GradeResult{
			Correct:       ok,
			CorrectAnswer: qq.CorrectAnswer,
			Analysis:      qq.Analysis,
			CurrentIndex:  s.CurrentIndex,
			HasNext:       index+1 < s.Total,
			Completed:     s.Status == StatusCompleted,
			Session:       s,
		}
		return nil
	})
	if err != nil {
		return GradeResult{}, err
	}
	return res, nil
}

// correctDelta is the change to the correct counter when an answer judged
// prev is re-judged as now.
func correctDelta(prev *bool, now bool) int {
	was := prev != nil && *prev
	switch {
	case was && !now:
		return -1
	case !was && now:
		return 1
	default:
		return 0
	}
}

// SubmitExam grades a batch against the bank's full question set and always
// finalises the session. Answers for questions outside the bank are skipped.
func (e *Engine) SubmitExam(ctx context.Context, token, userID string, answers []ExamAnswer) (ExamResult, error) {
	if strings.TrimSpace(token) == "" {
		return ExamResult{}, fmt.Errorf("%w: session token is required", ErrValidation)
	}
	for i, a := range answers {
		if a.QuestionID <= 0 || a.QuestionIndex < 0 {
			return ExamResult{}, fmt.Errorf("%w: answers[%d] needs question_id and a non-negative question_index", ErrValidation, i)
		}
	}

	var res ExamResult
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.openSession(ctx, tx, token, userID)
		if err != nil {
			return err
		}
		qs, err := e.questions.ListByBank(ctx, tx, s.BankID)
		if err != nil {
			return fmt.Errorf("list bank questions: %w", err)
		}
		byID := make(map[int64]question.Question, len(qs))
		for _, q := range qs {
			byID[q.ID] = q
		}

		now := e.clock()
		graded := map[int64]int{} // question id -> index into res.Results
		res.Results = []ExamItemResult{}
		for _, a := range answers {
			qq, ok := byID[a.QuestionID]
			if !ok {
				res.Skipped = append(res.Skipped, a.QuestionID)
				continue
			}
			correct := grading.Evaluate(grading.FromQuestion(qq), a.UserAnswer)

			rec, found, err := e.repo.answerFor(ctx, tx, s.Token, qq.ID)
			if err != nil {
				return fmt.Errorf("load answer: %w", err)
			}
			if !found {
				rec = AnswerRecord{UserID: userID, SessionToken: s.Token, QuestionID: qq.ID}
			}
			rec.QuestionIndex = a.QuestionIndex
			rec.UserAnswer = a.UserAnswer
			rec.Correct = &correct
			if err := e.repo.putAnswer(ctx, tx, &rec, now); err != nil {
				return fmt.Errorf("save answer: %w", err)
			}
			if !correct {
				e.track(ctx, tx, s, qq.ID, a.UserAnswer, false, false)
			}

			item := ExamItemResult{
				QuestionID:    qq.ID,
				QuestionIndex: a.QuestionIndex,
				UserAnswer:    a.UserAnswer,
				Correct:       correct,
				CorrectAnswer: qq.CorrectAnswer,
				Analysis:      qq.Analysis,
			}
			if i, dup := graded[qq.ID]; dup {
				res.Results[i] = item
				continue
			}
			graded[qq.ID] = len(res.Results)
			res.Results = append(res.Results, item)
		}

		s.Answered = len(res.Results)
		s.Correct = 0
		for _, r := range res.Results {
			if r.Correct {
				s.Correct++
			}
		}
		s.CurrentIndex = s.Total
		if err := e.finish(ctx, tx, &s, now, StatusCompleted); err != nil {
			return err
		}
		res.Session = s
		return nil
	})
	if err != nil {
		return ExamResult{}, err
	}
	return res, nil
}

// openSession loads and locks a session the caller owns and may still answer.
// Guards run in the order not found, not owner, not ongoing.
func (e *Engine) openSession(ctx context.Context, tx *sql.Tx, token, userID string) (Session, error) {
	s, err := e.ownedSession(ctx, tx, token, userID, true)
	if err != nil {
		return Session{}, err
	}
	switch s.Status {
	case StatusCompleted:
		return Session{}, ErrSessionCompleted
	case StatusDiscarded:
		return Session{}, ErrSessionDiscarded
	}
	return s, nil
}

func (e *Engine) ownedSession(ctx context.Context, q db.Querier, token, userID string, forUpdate bool) (Session, error) {
	s, err := e.repo.byToken(ctx, q, token, forUpdate)
	if err != nil {
		return Session{}, err
	}
	if s.UserID != userID {
		return Session{}, ErrNotOwner
	}
	return s, nil
}

// track forwards a grade to the wrong-question tracker under a savepoint.
// A tracker failure undoes only its own writes and is logged.
func (e *Engine) track(ctx context.Context, tx *sql.Tx, s Session, questionID int64, answer string, correct, markMastered bool) {
	if correct && !markMastered {
		return
	}
	err := db.WithSavepoint(ctx, tx, "wrongbook", func() error {
		if correct {
			return e.wrong.MarkCorrect(ctx, tx, s.UserID, questionID)
		}
		return e.wrong.RecordWrong(ctx, tx, s.UserID, s.BankID, questionID, answer)
	})
	if err != nil {
		e.log.Warn("wrong-question tracking failed",
			"session", s.Token, "user", s.UserID, "question_id", questionID, "correct", correct, "err", err)
	}
}

// finish moves s to a terminal status, stamps the end time, saves it and
// appends the matching event.
func (e *Engine) finish(ctx context.Context, tx *sql.Tx, s *Session, now time.Time, to Status) error {
	s.Status = to
	if s.EndTime == nil {
		end := now
		s.EndTime = &end
	}
	if err := e.repo.save(ctx, tx, s, now); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if e.events == nil {
		return nil
	}
	typ := syncx.TypeSessionCompleted
	if to == StatusDiscarded {
		typ = syncx.TypeSessionDiscarded
	}
	err := e.events.Append(ctx, tx, typ, s.Token, map[string]any{
		"user_id":  s.UserID,
		"bank_id":  s.BankID,
		"mode":     s.Mode,
		"total":    s.Total,
		"answered": s.Answered,
		"correct":  s.Correct,
	})
	if err != nil {
		return fmt.Errorf("append %s event: %w", typ, err)
	}
	return nil
}

func (e *Engine) discardOngoing(ctx context.Context, tx *sql.Tx, userID string, bankID int64, mode Mode) error {
	s, found, err := e.repo.findOngoing(ctx, tx, userID, bankID, mode, true)
	if err != nil {
		return fmt.Errorf("find ongoing session: %w", err)
	}
	if !found {
		return nil
	}
	if err := e.finish(ctx, tx, &s, e.clock(), StatusDiscarded); err != nil {
		return err
	}
	e.log.Info("session discarded", "session", s.Token, "user", userID, "bank_id", bankID, "mode", mode)
	return nil
}

// Reset discards the ongoing session for (user, bank, mode). Answer records
// are kept. Resetting when nothing is ongoing succeeds.
func (e *Engine) Reset(ctx context.Context, userID string, bankID int64, mode Mode) error {
	if err := checkScope(userID, mode); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		return e.discardOngoing(ctx, tx, userID, bankID, mode)
	})
}

// Complete ends an ongoing session. Sessions that are already over are
// returned unchanged.
func (e *Engine) Complete(ctx context.Context, token, userID string) (Session, error) {
	var s Session
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if s, err = e.ownedSession(ctx, tx, token, userID, true); err != nil {
			return err
		}
		if s.Status != StatusOngoing {
			return nil
		}
		return e.finish(ctx, tx, &s, e.clock(), StatusCompleted)
	})
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// Ongoing returns the ongoing session for (user, bank, mode).
func (e *Engine) Ongoing(ctx context.Context, userID string, bankID int64, mode Mode) (Session, error) {
	if err := checkScope(userID, mode); err != nil {
		return Session{}, err
	}
	s, found, err := e.repo.findOngoing(ctx, e.dbh, userID, bankID, mode, false)
	if err != nil {
		return Session{}, err
	}
	if !found {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (e *Engine) AllOngoing(ctx context.Context, userID string) ([]Session, error) {
	return e.repo.allOngoing(ctx, e.dbh, userID)
}

func (e *Engine) Get(ctx context.Context, token, userID string) (Session, error) {
	return e.ownedSession(ctx, e.dbh, token, userID, false)
}

// Detail returns the session with its questions and stored answers. For an
// ongoing favorite or wrong session the pool is resolved again and total
// follows its size.
func (e *Engine) Detail(ctx context.Context, token, userID string) (Bundle, error) {
	var out Bundle
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.ownedSession(ctx, tx, token, userID, true)
		if err != nil {
			return err
		}
		b, err := e.bank(ctx, tx, s.BankID)
		if err != nil {
			return err
		}
		answers, err := e.repo.answers(ctx, tx, s.Token)
		if err != nil {
			return fmt.Errorf("load answers: %w", err)
		}

		var qs []question.Question
		switch {
		case !s.Mode.pooled():
			qs, err = e.questions.ListByBank(ctx, tx, s.BankID)
		case s.Status == StatusOngoing:
			qs, err = e.resolve(ctx, tx, s.UserID, s.BankID, s.Mode)
			if err == nil && len(qs) != s.Total {
				resize(&s, len(qs))
				err = e.repo.save(ctx, tx, &s, e.clock())
			}
		default:
			// a closed pool session shows what was answered
			ids := make([]int64, len(answers))
			for i, a := range answers {
				ids[i] = a.QuestionID
			}
			qs, err = e.questions.ListByIDs(ctx, tx, s.BankID, ids)
		}
		if err != nil {
			return fmt.Errorf("load session questions: %w", err)
		}
		if s.Mode == ModeExam && s.Status == StatusOngoing {
			qs = redact(qs)
		}
		out = Bundle{
			Session:     s,
			Questions:   qs,
			Answers:     answers,
			ResumeIndex: s.CurrentIndex,
			Resumed:     true,
			Deadline:    deadline(s, b),
		}
		return nil
	})
	if err != nil {
		return Bundle{}, err
	}
	return out, nil
}

// List pages through a user's sessions, newest first. Discarded sessions are
// only listed when asked for by status.
func (e *Engine) List(ctx context.Context, userID string, opts ListOpts) ([]Session, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}
	opts.Offset = max(opts.Offset, 0)
	return e.repo.list(ctx, e.dbh, userID, opts)
}

func (e *Engine) Recent(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return e.repo.list(ctx, e.dbh, userID, ListOpts{Limit: limit})
}

// Delete hides a session from history by discarding it. Stored answers stay.
func (e *Engine) Delete(ctx context.Context, token, userID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.ownedSession(ctx, tx, token, userID, true)
		if err != nil {
			return err
		}
		if s.Status == StatusDiscarded {
			return nil
		}
		return e.finish(ctx, tx, &s, e.clock(), StatusDiscarded)
	})
}

func checkScope(userID string, mode Mode) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	return nil
}
