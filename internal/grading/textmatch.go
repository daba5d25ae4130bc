package grading

import (
	"strings"
	"unicode"
)

var judgeTokens = map[string]string{
	"true": "true", "正确": "true", "对": "true", "是": "true", "1": "true", "t": "true", "y": "true",
	"false": "false", "错误": "false", "错": "false", "否": "false", "0": "false", "f": "false", "n": "false",
}

// normalizeJudge folds the accepted true/false spellings onto "true" or
// "false". Unknown tokens come back lowercased and unchanged.
func normalizeJudge(s string) string {
	n := strings.ToLower(strings.TrimSpace(s))
	if v, ok := judgeTokens[n]; ok {
		return v
	}
	return n
}

// splitKeywords splits an essay key on commas (ASCII and full-width),
// the enumeration comma and whitespace, dropping empty pieces.
func splitKeywords(key string) []string {
	return strings.FieldsFunc(key, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || unicode.IsSpace(r)
	})
}
