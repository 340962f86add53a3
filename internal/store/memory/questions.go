package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/victornm/trivia/internal/domain"
)

// questionFile is the on-disk shape of a question. Text, options and correct answers
// may each be written either as a single string or as a list.
type questionFile struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Text          stringList `json:"text"`
	Options       stringList `json:"options"`
	CorrectAnswer stringList `json:"correctAnswer"`
	Points        *int       `json:"points"`
}

type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*l = nil
	case string:
		*l = stringList{v}
	case []any:
		items := make(stringList, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				items = append(items, s)
				continue
			}
			items = append(items, fmt.Sprint(item))
		}
		*l = items
	default:
		*l = stringList{fmt.Sprint(v)}
	}

	return nil
}

// ReadQuestions decodes a JSON array of questions, normalizing their types.
// Unknown types are logged and read as regular questions.
func ReadQuestions(r io.Reader) ([]domain.Question, error) {
	var raw []questionFile
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	qs := make([]domain.Question, 0, len(raw))
	for i, q := range raw {
		if q.ID == "" {
			return nil, fmt.Errorf("question #%d: missing id", i)
		}

		typ, ok := domain.ParseQuestionType(q.Type)
		if !ok {
			slog.Warn("memory: unknown question type read as regular", "question", q.ID, "type", q.Type)
		}

		qs = append(qs, domain.Question{
			QuestionID:    q.ID,
			Type:          typ,
			Text:          q.Text,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Points:        q.Points,
		})
	}

	return qs, nil
}

// LoadQuestionsFile reads the question bank stored at path.
func LoadQuestionsFile(path string) ([]domain.Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open questions file: %w", err)
	}
	defer f.Close()

	return ReadQuestions(f)
}
