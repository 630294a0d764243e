package api

import (
	"strings"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// Grader decides whether an answer is correct. A nil result means the item
// cannot be graded.
type Grader interface {
	Grade(item domain.Item, stepID, choiceID string) *bool
}

// AnswerKeyGrader compares the submitted choice with the item's answer_key,
// which is either a choice id or an object mapping step ids to choice ids.
type AnswerKeyGrader struct{}

func (AnswerKeyGrader) Grade(item domain.Item, stepID, choiceID string) *bool {
	var key string
	if ok, err := item.Field("answer_key", &key); ok && err == nil {
		return domain.BoolPtr(strings.EqualFold(strings.TrimSpace(choiceID), key))
	}

	var perStep map[string]string
	if ok, err := item.Field("answer_key", &perStep); ok && err == nil {
		want, found := perStep[stepID]
		if !found {
			return nil
		}
		return domain.BoolPtr(strings.EqualFold(strings.TrimSpace(choiceID), want))
	}
	return nil
}
