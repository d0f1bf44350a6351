package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/models"
)

// GameService manages the admin-edited game catalog. Games are templates;
// the settlement core only ever reads them.
type GameService struct {
	db  *sql.DB
	log *zap.Logger
}

func NewGameService(db *sql.DB, log *zap.Logger) *GameService {
	return &GameService{db: db, log: log}
}

// Create adds a new game template after validating its rule/config pairing.
func (s *GameService) Create(ctx context.Context, game *models.Game) (*models.Game, error) {
	if game.EntryFee < 0 || game.WinningAmount <= 0 {
		return nil, fmt.Errorf("entry fee must be non-negative and winning amount positive")
	}
	if game.MinParticipants < 1 || game.MaxParticipants < game.MinParticipants {
		return nil, fmt.Errorf("invalid participant bounds")
	}
	if err := game.Config.Validate(game.MatchRule); err != nil {
		return nil, fmt.Errorf("invalid game config: %w", err)
	}

	if game.Status == "" {
		game.Status = models.GameStatusActive
	}

	now := time.Now()
	game.CreatedAt = now
	game.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO games (name, description, status, entry_fee, winning_amount, min_participants, max_participants, match_rule, config, total_rounds_played, total_winners, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0, $10, $10)
		RETURNING id`,
		game.Name, game.Description, game.Status, game.EntryFee, game.WinningAmount,
		game.MinParticipants, game.MaxParticipants, game.MatchRule, game.Config, now).Scan(&game.ID)
	if err != nil {
		return nil, err
	}
	return game, nil
}

// Get returns a game by id.
func (s *GameService) Get(ctx context.Context, gameID int64) (*models.Game, error) {
	var g models.Game
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, entry_fee, winning_amount, min_participants, max_participants, match_rule, config, total_rounds_played, total_winners, created_at, updated_at
		FROM games WHERE id = $1`, gameID).
		Scan(&g.ID, &g.Name, &g.Description, &g.Status, &g.EntryFee, &g.WinningAmount,
			&g.MinParticipants, &g.MaxParticipants, &g.MatchRule, &g.Config,
			&g.TotalRoundsPlayed, &g.TotalWinners, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// List returns active games.
func (s *GameService) List(ctx context.Context) ([]models.Game, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, status, entry_fee, winning_amount, min_participants, max_participants, match_rule, config, total_rounds_played, total_winners, created_at, updated_at
		FROM games WHERE status = $1
		ORDER BY id`, models.GameStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []models.Game
	for rows.Next() {
		var g models.Game
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.Status, &g.EntryFee, &g.WinningAmount,
			&g.MinParticipants, &g.MaxParticipants, &g.MatchRule, &g.Config,
			&g.TotalRoundsPlayed, &g.TotalWinners, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}
