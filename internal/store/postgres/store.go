// Package postgres stores questions and sessions in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Questions

const selectQuestion = `SELECT question_id, type, text, options, correct_answer, points FROM questions`

func (s *Store) GetQuestion(ctx context.Context, questionID string) (*domain.Question, error) {
	q, err := scanQuestion(s.db.QueryRow(ctx, selectQuestion+` WHERE question_id = $1`, questionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("question not found: question=%s", questionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	return q, nil
}

func (s *Store) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	rows, err := s.db.Query(ctx, selectQuestion+` ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	qs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Question, error) {
		q, err := scanQuestion(row)
		if err != nil {
			return domain.Question{}, err
		}
		return *q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return qs, nil
}

// SaveQuestions upserts the questions. New questions go to the end of the bank.
func (s *Store) SaveQuestions(ctx context.Context, qs []domain.Question) error {
	const upsertStmt = `
		INSERT INTO questions (question_id, type, text, options, correct_answer, points)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (question_id) DO UPDATE SET
			type = EXCLUDED.type,
			text = EXCLUDED.text,
			options = EXCLUDED.options,
			correct_answer = EXCLUDED.correct_answer,
			points = EXCLUDED.points`

	b := &pgx.Batch{}
	for _, q := range qs {
		b.Queue(upsertStmt, q.QuestionID, string(q.Type), nonNil(q.Text), nonNil(q.Options), nonNil(q.CorrectAnswer), q.Points)
	}

	if err := s.db.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	return nil
}

// Sessions

const selectSession = `
	SELECT session_id, name, status, COALESCE(current_question_id, ''), current_round,
		current_question_number, created_at, started_at, ended_at
	FROM sessions`

func (s *Store) CreateSession(ctx context.Context, ss *domain.Session) error {
	const insertStmt = `
		INSERT INTO sessions (session_id, name, status, current_question_id, current_round,
			current_question_number, created_at, started_at, ended_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`

	_, err := s.db.Exec(ctx, insertStmt,
		ss.SessionID, ss.Name, string(ss.Status), ss.CurrentQuestionID, ss.CurrentRound,
		ss.CurrentQuestionNumber, ss.CreatedAt, ss.StartedAt, ss.EndedAt,
	)
	if isViolation(err, uniqueViolation) {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("session already exists: session=%s", ss.SessionID))
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return getSession(ctx, s.db, sessionID)
}

// StartSession replaces the question sequence of a session that is not in progress,
// drops its answers and resets its team scores. It reports false when the session is already in progress.
func (s *Store) StartSession(ctx context.Context, ss *domain.Session, questionIDs []string) (bool, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (bool, error) {
		ok, err := updateSession(ctx, tx, ss, `status <> 'InProgress'`)
		if err != nil || !ok {
			return false, err
		}

		for _, stmt := range []string{
			`DELETE FROM answers WHERE session_id = $1`,
			`UPDATE session_teams SET score = 0 WHERE session_id = $1`,
			`DELETE FROM session_questions WHERE session_id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, ss.SessionID); err != nil {
				return false, fmt.Errorf("reset session: %w", err)
			}
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"session_questions"},
			[]string{"session_id", "question_id", "order_index"},
			pgx.CopyFromSlice(len(questionIDs), func(i int) ([]any, error) {
				return []any{ss.SessionID, questionIDs[i], i}, nil
			}),
		)
		if err != nil {
			return false, fmt.Errorf("insert session questions: %w", err)
		}

		return true, nil
	})
}

// AdvanceSession saves the session only if its current question is still prevQuestionID,
// marking that question answered in the same transaction.
func (s *Store) AdvanceSession(ctx context.Context, ss *domain.Session, prevQuestionID string) (bool, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (bool, error) {
		ok, err := updateSession(ctx, tx, ss,
			`status = 'InProgress' AND current_question_id IS NOT DISTINCT FROM NULLIF($10, '')`, prevQuestionID)
		if err != nil || !ok || prevQuestionID == "" {
			return ok, err
		}

		const markStmt = `UPDATE session_questions SET is_answered = TRUE WHERE session_id = $1 AND question_id = $2`
		if _, err := tx.Exec(ctx, markStmt, ss.SessionID, prevQuestionID); err != nil {
			return false, fmt.Errorf("mark answered: %w", err)
		}

		return true, nil
	})
}

// EndSession saves a session that is in progress and resets every answered flag.
func (s *Store) EndSession(ctx context.Context, ss *domain.Session) (bool, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (bool, error) {
		ok, err := updateSession(ctx, tx, ss, `status = 'InProgress'`)
		if err != nil || !ok {
			return false, err
		}

		const resetStmt = `UPDATE session_questions SET is_answered = FALSE WHERE session_id = $1`
		if _, err := tx.Exec(ctx, resetStmt, ss.SessionID); err != nil {
			return false, fmt.Errorf("reset answered: %w", err)
		}

		return true, nil
	})
}

const selectSessionQuestion = `SELECT session_id, question_id, order_index, is_answered FROM session_questions`

func (s *Store) ListSessionQuestions(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error) {
	rows, err := s.db.Query(ctx, selectSessionQuestion+` WHERE session_id = $1 ORDER BY order_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}

	sqs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SessionQuestion, error) {
		var sq domain.SessionQuestion
		err := row.Scan(&sq.SessionID, &sq.QuestionID, &sq.OrderIndex, &sq.IsAnswered)
		return sq, err
	})
	if err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}

	return sqs, nil
}

func (s *Store) GetSessionQuestion(ctx context.Context, sessionID, questionID string) (*domain.SessionQuestion, error) {
	var sq domain.SessionQuestion
	err := s.db.QueryRow(ctx, selectSessionQuestion+` WHERE session_id = $1 AND question_id = $2`, sessionID, questionID).
		Scan(&sq.SessionID, &sq.QuestionID, &sq.OrderIndex, &sq.IsAnswered)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("question not found in session: session=%s question=%s", sessionID, questionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session question: %w", err)
	}

	return &sq, nil
}

// MarkAnswered sets the answered flag and reports whether it changed.
func (s *Store) MarkAnswered(ctx context.Context, sessionID, questionID string) (bool, error) {
	const markStmt = `
		UPDATE session_questions SET is_answered = TRUE
		WHERE session_id = $1 AND question_id = $2 AND NOT is_answered`

	tag, err := s.db.Exec(ctx, markStmt, sessionID, questionID)
	if err != nil {
		return false, fmt.Errorf("mark answered: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Either answered already or not part of the session.
	if _, err := s.GetSessionQuestion(ctx, sessionID, questionID); err != nil {
		return false, err
	}
	return false, nil
}

// Teams

// AddTeam adds a team to a session with a zero score. It reports false when the team is already a member.
func (s *Store) AddTeam(ctx context.Context, sessionID, teamID string) (bool, error) {
	const insertStmt = `
		INSERT INTO session_teams (session_id, team_id) VALUES ($1, $2)
		ON CONFLICT (session_id, team_id) DO NOTHING`

	tag, err := s.db.Exec(ctx, insertStmt, sessionID, teamID)
	if isViolation(err, foreignKeyViolation) {
		return false, errors.NotFound("session not found: session=%s", sessionID)
	}
	if err != nil {
		return false, fmt.Errorf("add team: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetTeam(ctx context.Context, sessionID, teamID string) (*domain.SessionTeam, error) {
	var t domain.SessionTeam
	err := s.db.QueryRow(ctx, `SELECT session_id, team_id, score FROM session_teams WHERE session_id = $1 AND team_id = $2`,
		sessionID, teamID).Scan(&t.SessionID, &t.TeamID, &t.Score)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("team not found: session=%s team=%s", sessionID, teamID)
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}

	return &t, nil
}

func (s *Store) ListTeams(ctx context.Context, sessionID string) ([]domain.SessionTeam, error) {
	rows, err := s.db.Query(ctx, `SELECT session_id, team_id, score FROM session_teams WHERE session_id = $1 ORDER BY team_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	teams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SessionTeam, error) {
		var t domain.SessionTeam
		err := row.Scan(&t.SessionID, &t.TeamID, &t.Score)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	return teams, nil
}

// Answers

// SaveAnswer upserts the answer of a team and moves the team score by the difference
// between the new and the replaced score delta. It returns the updated team.
func (s *Store) SaveAnswer(ctx context.Context, a *domain.Answer) (*domain.SessionTeam, error) {
	t := domain.SessionTeam{SessionID: a.SessionID, TeamID: a.TeamID}

	_, err := s.inTx(ctx, func(tx pgx.Tx) (bool, error) {
		// The team row serializes concurrent submissions of the same team.
		const lockStmt = `SELECT score FROM session_teams WHERE session_id = $1 AND team_id = $2 FOR UPDATE`
		err := tx.QueryRow(ctx, lockStmt, a.SessionID, a.TeamID).Scan(&t.Score)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return false, errors.NotFound("team not found: session=%s team=%s", a.SessionID, a.TeamID)
		}
		if err != nil {
			return false, fmt.Errorf("lock team: %w", err)
		}

		var prev int
		const prevStmt = `SELECT score_delta FROM answers WHERE session_id = $1 AND team_id = $2 AND question_id = $3`
		err = tx.QueryRow(ctx, prevStmt, a.SessionID, a.TeamID, a.QuestionID).Scan(&prev)
		if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("get previous answer: %w", err)
		}

		const upsertStmt = `
			INSERT INTO answers (session_id, team_id, question_id, selected_answer, wager, is_correct, score_delta, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (session_id, team_id, question_id) DO UPDATE SET
				selected_answer = EXCLUDED.selected_answer,
				wager = EXCLUDED.wager,
				is_correct = EXCLUDED.is_correct,
				score_delta = EXCLUDED.score_delta,
				submitted_at = EXCLUDED.submitted_at`
		_, err = tx.Exec(ctx, upsertStmt,
			a.SessionID, a.TeamID, a.QuestionID, a.SelectedAnswer, a.Wager, a.IsCorrect, a.ScoreDelta, a.SubmittedAt)
		if err != nil {
			return false, fmt.Errorf("upsert answer: %w", err)
		}

		const scoreStmt = `UPDATE session_teams SET score = score + $3 WHERE session_id = $1 AND team_id = $2 RETURNING score`
		if err := tx.QueryRow(ctx, scoreStmt, a.SessionID, a.TeamID, a.ScoreDelta-prev).Scan(&t.Score); err != nil {
			return false, fmt.Errorf("update score: %w", err)
		}

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return &t, nil
}

const selectAnswer = `
	SELECT session_id, team_id, question_id, selected_answer, wager, is_correct, score_delta, submitted_at
	FROM answers`

func (s *Store) GetAnswer(ctx context.Context, sessionID, teamID, questionID string) (*domain.Answer, error) {
	a, err := scanAnswer(s.db.QueryRow(ctx, selectAnswer+` WHERE session_id = $1 AND team_id = $2 AND question_id = $3`,
		sessionID, teamID, questionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("answer not found: session=%s team=%s question=%s", sessionID, teamID, questionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get answer: %w", err)
	}

	return a, nil
}

func (s *Store) ListAnswers(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	rows, err := s.db.Query(ctx, selectAnswer+` WHERE session_id = $1 AND question_id = $2 ORDER BY team_id`, sessionID, questionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	answers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Answer, error) {
		a, err := scanAnswer(row)
		if err != nil {
			return domain.Answer{}, err
		}
		return *a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	return answers, nil
}

func (s *Store) CountAnswers(ctx context.Context, sessionID, questionID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM answers WHERE session_id = $1 AND question_id = $2`,
		sessionID, questionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}

	return n, nil
}

// inTx runs fn in a transaction that is committed only when fn reports a change.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) (bool, error)) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}

	ok, err := fn(tx)
	if err != nil || !ok {
		return false, stderrors.Join(err, tx.Rollback(ctx))
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSession(ctx context.Context, db queryer, sessionID string) (*domain.Session, error) {
	var (
		ss     domain.Session
		status string
	)
	err := db.QueryRow(ctx, selectSession+` WHERE session_id = $1`, sessionID).Scan(
		&ss.SessionID, &ss.Name, &status, &ss.CurrentQuestionID, &ss.CurrentRound,
		&ss.CurrentQuestionNumber, &ss.CreatedAt, &ss.StartedAt, &ss.EndedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("session not found: session=%s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	ss.Status = domain.Status(status)
	return &ss, nil
}

// updateSession saves ss if the stored row matches cond. Extra arguments of cond start at $10.
// A missing session is reported as not found, a row failing cond as false.
func updateSession(ctx context.Context, tx pgx.Tx, ss *domain.Session, cond string, args ...any) (bool, error) {
	stmt := `
		UPDATE sessions SET
			name = $2,
			status = $3,
			current_question_id = NULLIF($4, ''),
			current_round = $5,
			current_question_number = $6,
			created_at = $7,
			started_at = $8,
			ended_at = $9
		WHERE session_id = $1 AND ` + cond

	tag, err := tx.Exec(ctx, stmt, append([]any{
		ss.SessionID, ss.Name, string(ss.Status), ss.CurrentQuestionID, ss.CurrentRound,
		ss.CurrentQuestionNumber, ss.CreatedAt, ss.StartedAt, ss.EndedAt,
	}, args...)...)
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	if _, err := getSession(ctx, tx, ss.SessionID); err != nil {
		return false, err
	}
	return false, nil
}

func scanQuestion(row pgx.Row) (*domain.Question, error) {
	var (
		q   domain.Question
		typ string
	)
	if err := row.Scan(&q.QuestionID, &typ, &q.Text, &q.Options, &q.CorrectAnswer, &q.Points); err != nil {
		return nil, err
	}

	q.Type = domain.QuestionType(typ)
	return &q, nil
}

func scanAnswer(row pgx.Row) (*domain.Answer, error) {
	var a domain.Answer
	err := row.Scan(&a.SessionID, &a.TeamID, &a.QuestionID, &a.SelectedAnswer, &a.Wager, &a.IsCorrect,
		&a.ScoreDelta, &a.SubmittedAt)
	if err != nil {
		return nil, err
	}

	a.SubmittedAt = a.SubmittedAt.In(time.UTC)
	return &a, nil
}

func isViolation(err error, code string) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == code
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
