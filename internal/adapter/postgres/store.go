package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentstore/trustgate/internal/domain"
	"github.com/agentstore/trustgate/internal/domain/submission"
	"github.com/agentstore/trustgate/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const submissionColumns = `id, agent_id, card_url, card_document, state,
	security_score, functional_score, judge_score, trust_score,
	score_breakdown, auto_decision, created_at, updated_at`

func (s *Store) CreateSubmission(ctx context.Context, sub *submission.Submission) error {
	const q = `INSERT INTO submissions
		(id, agent_id, card_url, card_document, state, score_breakdown)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`
	breakdown := sub.ScoreBreakdown
	if breakdown == nil {
		breakdown = []byte(`{}`)
	}
	err := s.pool.QueryRow(ctx, q,
		sub.ID, sub.AgentID, sub.CardURL, sub.CardDocument, string(sub.State), breakdown,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*submission.Submission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)

	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get submission %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	return &sub, nil
}

func (s *Store) ListSubmissions(ctx context.Context, limit, offset int) ([]submission.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []submission.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpdateStage persists a state transition plus whichever score fields the
// stage produced. Nil fields keep their current value.
func (s *Store) UpdateStage(ctx context.Context, id string, state submission.State, update database.StageUpdate) error {
	var decision *string
	if update.AutoDecision != nil {
		d := string(*update.AutoDecision)
		decision = &d
	}

	const q = `UPDATE submissions SET
		state = $2,
		agent_id = COALESCE($3, agent_id),
		security_score = COALESCE($4, security_score),
		functional_score = COALESCE($5, functional_score),
		judge_score = COALESCE($6, judge_score),
		trust_score = COALESCE($7, trust_score),
		score_breakdown = COALESCE($8, score_breakdown),
		auto_decision = COALESCE($9, auto_decision),
		updated_at = now()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q,
		id, string(state),
		update.AgentID, update.SecurityScore, update.FunctionalScore,
		update.JudgeScore, update.TrustScore, update.ScoreBreakdown, decision)
	if err != nil {
		return fmt.Errorf("update stage %s -> %s: %w", id, state, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update stage %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (submission.Submission, error) {
	var (
		sub      submission.Submission
		state    string
		decision *string
	)
	err := row.Scan(
		&sub.ID, &sub.AgentID, &sub.CardURL, &sub.CardDocument, &state,
		&sub.SecurityScore, &sub.FunctionalScore, &sub.JudgeScore, &sub.TrustScore,
		&sub.ScoreBreakdown, &decision, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return submission.Submission{}, err
	}
	sub.State = submission.State(state)
	if decision != nil {
		sub.AutoDecision = submission.AutoDecision(*decision)
	}
	return sub, nil
}
