package session

import (
	"github.com/victornm/trivia/internal/domain"
)

const (
	questionsPerRound = 3
	// afterMultiQuestionRound is the round opened by a regular question that follows a multi-question round.
	afterMultiQuestionRound = 7
)

// position is where a question is shown: its round and its number within the round.
type position struct {
	round  int
	number int
}

// fixedPositions are the positions of the special round types, whatever came before them.
var fixedPositions = map[domain.QuestionType]position{
	domain.QuestionTypeLightning:     {round: 3, number: 1},
	domain.QuestionTypeHalftimeBonus: {round: 4, number: 1},
	domain.QuestionTypeHalftimeBreak: {round: 4, number: 0},
	domain.QuestionTypeMultiQuestion: {round: 6, number: 1},
	domain.QuestionTypeFinalWager:    {round: 8, number: 1},
}

// nextPosition returns the position of the next question. prev is the type of the question being
// left, empty when next is the first question of the session; cur is the position being left.
func nextPosition(prev domain.QuestionType, cur position, next domain.QuestionType) position {
	if p, ok := fixedPositions[next]; ok {
		return p
	}

	switch prev {
	case "":
		return position{round: 1, number: 1}
	case domain.QuestionTypeRegular:
		if cur.number < questionsPerRound {
			return position{round: cur.round, number: cur.number + 1}
		}
		return position{round: cur.round + 1, number: 1}
	case domain.QuestionTypeMultiQuestion:
		return position{round: afterMultiQuestionRound, number: 1}
	default:
		return position{round: cur.round + 1, number: 1}
	}
}
