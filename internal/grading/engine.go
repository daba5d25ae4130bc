package grading

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/mind-engage/mindengage-quiz/internal/question"
)

// Q is a minimal view of a question needed for grading.
type Q struct {
	Type          question.Type
	Options       []string
	CorrectAnswer string
}

// FromQuestion builds the grading view of a stored question.
func FromQuestion(q question.Question) Q {
	return Q{Type: q.Type, Options: q.Options, CorrectAnswer: q.CorrectAnswer}
}

// Evaluate reports whether response is a correct answer to q.
// A blank response or a blank answer key is always incorrect.
func Evaluate(q Q, response string) bool {
	resp := strings.TrimSpace(response)
	key := strings.TrimSpace(q.CorrectAnswer)
	if resp == "" || key == "" {
		return false
	}
	switch q.Type {
	case question.TypeSingle:
		return gradeSingle(q.Options, key, resp)
	case question.TypeMultiple:
		return gradeMultiple(q.Options, key, resp)
	case question.TypeJudge:
		return normalizeJudge(resp) == normalizeJudge(key)
	case question.TypeEssay:
		return gradeEssay(key, resp)
	default:
		return false
	}
}

// gradeSingle accepts a key stored either as the option text or as a
// letter index ("A" = first option). The response is option text.
func gradeSingle(options []string, key, resp string) bool {
	for _, o := range options {
		if o == key {
			return resp == key
		}
	}
	if len(key) == 1 && key[0] >= 'A' && key[0] <= 'Z' {
		idx := int(key[0] - 'A')
		if idx < len(options) {
			return resp == options[idx]
		}
	}
	return resp == key
}

// gradeMultiple compares sorted letter runs. Keys may be "ABC", "A,B,C" or a
// bracketed list of option texts that map to letters by position.
func gradeMultiple(options []string, key, resp string) bool {
	want := key
	if strings.HasPrefix(key, "[") && strings.HasSuffix(key, "]") {
		var b strings.Builder
		for _, item := range parseList(key) {
			for i, o := range options {
				if o == item {
					b.WriteByte(byte('A' + i))
					break
				}
			}
		}
		want = b.String()
	}
	return letterSet(resp) == letterSet(want)
}

// gradeEssay passes when the response contains any one keyword of the key.
func gradeEssay(key, resp string) bool {
	for _, kw := range splitKeywords(key) {
		if strings.Contains(resp, kw) {
			return true
		}
	}
	return false
}

// letterSet strips separators, uppercases and sorts, keeping duplicates.
func letterSet(s string) string {
	rs := []rune(strings.ToUpper(s))
	out := rs[:0]
	for _, r := range rs {
		if r == ',' || r == ' ' {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return string(out)
}

// parseList reads a bracketed list. JSON is tried first; anything else is
// split on commas with surrounding quotes removed.
func parseList(s string) []string {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err == nil {
		for i := range items {
			items[i] = strings.TrimSpace(items[i])
		}
		return items
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	for _, p := range strings.Split(inner, ",") {
		items = append(items, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return items
}
