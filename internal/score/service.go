package score

import (
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"strconv"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/telemetry"
)

const (
	// HalftimeBonusTarget is the number of items a complete halftime bonus answer contains.
	HalftimeBonusTarget = 8
	// halftimeBonusExtra is awarded on top of the matches when the whole target was matched.
	halftimeBonusExtra = 1
)

// lightningBonus is indexed by place; every place after the last entry earns lightningBonusRest.
var lightningBonus = []int{0, 5, 3}

const lightningBonusRest = 1

type Config struct {
	Placements *Placements
}

// Service scores submissions. Apart from lightning placements it keeps no state.
type Service struct {
	placements *Placements
}

func NewService(c Config) *Service {
	p := c.Placements
	if p == nil {
		p = NewPlacements()
	}

	return &Service{
		placements: p,
	}
}

type Request struct {
	SessionID  string
	TeamID     string
	QuestionID string
	Type       domain.QuestionType
	Selected   string
	Correct    []string
	Wager      *int
}

type Result struct {
	IsCorrect  bool
	ScoreDelta int
}

// Score checks a submission and computes its score delta. A malformed payload scores zero.
func (s *Service) Score(ctx context.Context, req Request) Result {
	out, err := Check(req.Type, req.Selected, req.Correct)
	if err != nil {
		slog.WarnContext(ctx, "score: malformed payload scored as incorrect",
			"session", req.SessionID,
			"team", req.TeamID,
			"question", req.QuestionID,
			"type", req.Type,
			"error", err,
		)
		telemetry.MalformedPayloads.WithLabelValues(string(req.Type)).Inc()
	}

	var wager int
	if req.Wager != nil {
		wager = *req.Wager
	}

	var place int
	if req.Type == domain.QuestionTypeLightning && out.Correct {
		place = s.placements.Claim(req.SessionID, req.QuestionID, req.TeamID)
	}

	r := Result{
		IsCorrect:  out.Correct,
		ScoreDelta: Points(req.Type, out, wager, place),
	}

	telemetry.AnswersScored.WithLabelValues(string(req.Type), strconv.FormatBool(r.IsCorrect)).Inc()
	return r
}

// Forget clears the per-question state kept for lightning placements.
func (s *Service) Forget(sessionID, questionID string) {
	s.placements.Forget(sessionID, questionID)
}

// Outcome is the correctness of a submission, independent of wagers and placements.
type Outcome struct {
	Correct bool
	// Matched counts the matched items of multi-answer types.
	Matched int
}

// Check decides whether the selected answer is correct for the question type.
func Check(t domain.QuestionType, selected string, correct []string) (Outcome, error) {
	correct = CanonicalAnswers(correct)

	switch t {
	case domain.QuestionTypeHalftimeBreak:
		return Outcome{}, nil

	case domain.QuestionTypeHalftimeBonus:
		submitted, err := ParseSubmission(selected)
		if err != nil {
			return Outcome{}, err
		}
		n := matchUnordered(submitted, correct)
		return Outcome{Correct: n > 0, Matched: n}, nil

	case domain.QuestionTypeMultiQuestion:
		submitted, err := ParseSubmission(selected)
		if err != nil {
			return Outcome{}, err
		}
		n := matchPositional(submitted, correct)
		return Outcome{Correct: n > 0, Matched: n}, nil

	default:
		if len(correct) == 0 {
			return Outcome{}, nil
		}
		ok := Equal(selected, correct[0])
		return Outcome{Correct: ok}, nil
	}
}

// Points turns an outcome into a score delta. place is the 1-based lightning place, zero otherwise.
func Points(t domain.QuestionType, out Outcome, wager, place int) int {
	switch t {
	case domain.QuestionTypeHalftimeBreak:
		return 0

	case domain.QuestionTypeLightning:
		if !out.Correct {
			return 0
		}
		if place > 0 && place < len(lightningBonus) {
			return lightningBonus[place]
		}
		return lightningBonusRest

	case domain.QuestionTypeHalftimeBonus:
		if out.Matched >= HalftimeBonusTarget {
			return out.Matched + halftimeBonusExtra
		}
		return out.Matched

	case domain.QuestionTypeMultiQuestion:
		return out.Matched

	default:
		if out.Correct {
			return wager
		}
		return -wager
	}
}

// matchUnordered counts submitted items found among the correct ones. A matched correct item is consumed.
func matchUnordered(submitted, correct []string) int {
	remaining := slices.Clone(correct)

	var n int
	for _, item := range submitted {
		i := slices.IndexFunc(remaining, func(c string) bool { return Equal(item, c) })
		if i < 0 {
			continue
		}
		remaining = slices.Delete(remaining, i, i+1)
		n++
	}

	return n
}

func matchPositional(submitted, correct []string) int {
	var n int
	for i := 0; i < min(len(submitted), len(correct)); i++ {
		if Equal(submitted[i], correct[i]) {
			n++
		}
	}

	return n
}

// IsMalformed reports whether err was caused by an unparseable payload.
func IsMalformed(err error) bool {
	return stderrors.Is(err, ErrMalformedPayload)
}
