package domain

import (
	"strings"
	"unicode"
)

type QuestionType string

const (
	QuestionTypeRegular       QuestionType = "regular"
	QuestionTypeLightning     QuestionType = "lightning"
	QuestionTypeHalftimeBonus QuestionType = "halftimeBonus"
	QuestionTypeHalftimeBreak QuestionType = "halftimeBreak"
	QuestionTypeMultiQuestion QuestionType = "multiQuestion"
	QuestionTypeFinalWager    QuestionType = "finalWager"
)

// questionTypeAliases is keyed by the folded form: lower case letters and digits only.
var questionTypeAliases = map[string]QuestionType{
	"regular":          QuestionTypeRegular,
	"standard":         QuestionTypeRegular,
	"normal":           QuestionTypeRegular,
	"question":         QuestionTypeRegular,
	"lightning":        QuestionTypeLightning,
	"lightninground":   QuestionTypeLightning,
	"halftimebonus":    QuestionTypeHalftimeBonus,
	"halftime":         QuestionTypeHalftimeBonus,
	"bonus":            QuestionTypeHalftimeBonus,
	"halftimebreak":    QuestionTypeHalftimeBreak,
	"break":            QuestionTypeHalftimeBreak,
	"intermission":     QuestionTypeHalftimeBreak,
	"multiquestion":    QuestionTypeMultiQuestion,
	"multi":            QuestionTypeMultiQuestion,
	"multipart":        QuestionTypeMultiQuestion,
	"multiplequestion": QuestionTypeMultiQuestion,
	"finalwager":       QuestionTypeFinalWager,
	"final":            QuestionTypeFinalWager,
	"finalquestion":    QuestionTypeFinalWager,
	"wager":            QuestionTypeFinalWager,
}

// ParseQuestionType normalises a raw type label such as "Halftime-Bonus" or "multi_question".
// ok is false when the label is not recognised, in which case the regular type is returned.
func ParseQuestionType(raw string) (t QuestionType, ok bool) {
	folded := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, raw)

	if t, ok := questionTypeAliases[folded]; ok {
		return t, true
	}

	return QuestionTypeRegular, false
}

// ExpectsSubmission is false for placeholder types that only mark a round transition.
func (t QuestionType) ExpectsSubmission() bool {
	return t != QuestionTypeHalftimeBreak
}
