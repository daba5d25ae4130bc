package grading_test

import (
	"testing"

	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/question"
)

func TestEvaluate_Single(t *testing.T) {
	opts := []string{"Paris", "London", "Berlin"}
	cases := []struct {
		name string
		key  string
		resp string
		want bool
	}{
		{"key is option text", "Paris", "Paris", true},
		{"key is option text, wrong pick", "Paris", "London", false},
		{"key is letter", "B", "London", true},
		{"key is letter, wrong pick", "B", "Paris", false},
		{"letter out of range falls back to literal", "Z", "Z", true},
		{"literal fallback is case sensitive", "other", "Other", false},
		{"response trimmed", "Paris", "  Paris ", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := grading.Q{Type: question.TypeSingle, Options: opts, CorrectAnswer: tc.key}
			if got := grading.Evaluate(q, tc.resp); got != tc.want {
				t.Fatalf("Evaluate(%q, %q) = %v, want %v", tc.key, tc.resp, got, tc.want)
			}
		})
	}
}

func TestEvaluate_Multiple(t *testing.T) {
	opts := []string{"OptionA", "OptionB", "OptionC", "OptionD"}
	cases := []struct {
		key  string
		resp string
		want bool
	}{
		{"A,B,C", "BAC", true},
		{"ABC", "A,B,C", true},
		{"abc", "CBA", true},
		{`["OptionA","OptionB","OptionC"]`, "BAC", true},
		{`[OptionA, OptionC]`, "CA", true},
		{"A, B, C", "c b a", true},
		{"A,B,C", "AB", false},
		{"A,B", "AAB", false},
		{"A,B,C", "ABCD", false},
	}
	for _, tc := range cases {
		q := grading.Q{Type: question.TypeMultiple, Options: opts, CorrectAnswer: tc.key}
		if got := grading.Evaluate(q, tc.resp); got != tc.want {
			t.Errorf("Evaluate(%q, %q) = %v, want %v", tc.key, tc.resp, got, tc.want)
		}
	}
}

func TestEvaluate_JudgeSynonyms(t *testing.T) {
	yes := []string{"true", "正确", "对", "是", "1", "T", "y", "TRUE"}
	no := []string{"false", "错误", "错", "否", "0", "F", "n"}

	for _, key := range yes {
		for _, resp := range yes {
			q := grading.Q{Type: question.TypeJudge, CorrectAnswer: key}
			if !grading.Evaluate(q, resp) {
				t.Errorf("expected %q to match %q", resp, key)
			}
		}
		for _, resp := range no {
			q := grading.Q{Type: question.TypeJudge, CorrectAnswer: key}
			if grading.Evaluate(q, resp) {
				t.Errorf("expected %q not to match %q", resp, key)
			}
		}
	}
	for _, key := range no {
		for _, resp := range no {
			q := grading.Q{Type: question.TypeJudge, CorrectAnswer: key}
			if !grading.Evaluate(q, resp) {
				t.Errorf("expected %q to match %q", resp, key)
			}
		}
	}

	q := grading.Q{Type: question.TypeJudge, CorrectAnswer: "true"}
	if grading.Evaluate(q, "maybe") {
		t.Error("unrecognised token must not match a recognised one")
	}
}

func TestEvaluate_EssayKeywords(t *testing.T) {
	q := grading.Q{Type: question.TypeEssay, CorrectAnswer: "goroutine，channel、select mutex"}
	if !grading.Evaluate(q, "use a channel to pass ownership") {
		t.Error("expected keyword hit")
	}
	if !grading.Evaluate(q, "guard it with a mutex") {
		t.Error("expected keyword hit after whitespace separator")
	}
	if grading.Evaluate(q, "use locks") {
		t.Error("expected no keyword hit")
	}

	leading := grading.Q{Type: question.TypeEssay, CorrectAnswer: ", heap"}
	if grading.Evaluate(leading, "stack") {
		t.Error("empty keyword must not match everything")
	}
}

func TestEvaluate_BlankAlwaysIncorrect(t *testing.T) {
	for _, typ := range []question.Type{question.TypeSingle, question.TypeMultiple, question.TypeJudge, question.TypeEssay} {
		if grading.Evaluate(grading.Q{Type: typ, CorrectAnswer: "A"}, "   ") {
			t.Errorf("%s: blank response graded correct", typ)
		}
		if grading.Evaluate(grading.Q{Type: typ, CorrectAnswer: ""}, "A") {
			t.Errorf("%s: blank key graded correct", typ)
		}
	}
	if grading.Evaluate(grading.Q{Type: "numeric", CorrectAnswer: "1"}, "1") {
		t.Error("unknown type graded correct")
	}
}
