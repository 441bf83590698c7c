package feedback

import "strings"

// Verdict is the classification of one reviewer utterance.
type Verdict string

const (
	Affirm       Verdict = "affirm"
	Reject       Verdict = "reject"
	Unrecognized Verdict = "unrecognized"
)

var affirmWords = map[string]struct{}{
	"yes": {}, "y": {}, "approve": {}, "approved": {}, "accept": {},
	"accepted": {}, "good": {}, "ok": {}, "okay": {}, "save": {},
}

var rejectWords = map[string]struct{}{
	"no": {}, "n": {}, "reject": {}, "rejected": {}, "retry": {},
	"redo": {}, "again": {}, "bad": {}, "nope": {},
}

// Classify maps a free-text reviewer reply to a verdict. The utterance is
// lowercased and split on whitespace; any token hitting the affirm set wins
// before the reject set is consulted. An empty utterance is Unrecognized.
func Classify(utterance string) Verdict {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return Unrecognized
	}

	tokens := strings.Fields(normalized)
	if containsAny(tokens, affirmWords) {
		return Affirm
	}
	if containsAny(tokens, rejectWords) {
		return Reject
	}
	return Unrecognized
}

func containsAny(tokens []string, set map[string]struct{}) bool {
	for _, token := range tokens {
		if _, ok := set[token]; ok {
			return true
		}
	}
	return false
}
