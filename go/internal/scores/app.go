package scores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/scoring"
)

var ErrInvalidArgument = errors.New("invalid argument")

const maxListLimit = 100

// App validates requests before they reach the repository
type App struct {
	repo  docstore.Repository
	clock clockwork.Clock
}

type AppOption func(*App)

// WithAppClock replaces the clock used to bound click times
func WithAppClock(c clockwork.Clock) AppOption {
	return func(a *App) { a.clock = c }
}

func NewApp(repo docstore.Repository, opts ...AppOption) *App {
	a := &App{
		repo:  repo,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) RecordClick(ctx context.Context, click models.Click) error {
	if err := validateUser(click.Username, click.Team); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if click.At.IsZero() {
		return fmt.Errorf("validation failed: %w: click time is required", ErrInvalidArgument)
	}
	// a click from the future would never end its series
	if now := a.clock.Now(); click.At.After(now) {
		click.At = now
	}

	if err := a.repo.RecordClick(ctx, click); err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}
	return nil
}

func (a *App) PurchaseUpgrade(ctx context.Context, req PurchaseUpgradeRequest) error {
	if err := validateUser(req.Username, req.Team); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if req.ExpectedOwned < 0 || req.Price < 0 {
		return fmt.Errorf("validation failed: %w: negative count or price", ErrInvalidArgument)
	}
	// the client computes the price; it must match what the rules charge
	if want := scoring.UpgradePrice(req.ExpectedOwned); req.Price != want {
		return fmt.Errorf("validation failed: %w: price %d, want %d", ErrInvalidArgument, req.Price, want)
	}

	id := models.NewUserID(req.Username, req.Team)
	if err := a.repo.PurchaseUpgrade(ctx, id, req.ExpectedOwned, req.Price); err != nil {
		return fmt.Errorf("failed to purchase upgrade: %w", err)
	}

	log.Info().
		Str("user_id", id.String()).
		Int("owned", req.ExpectedOwned+1).
		Int64("price", req.Price).
		Msg("upgrade purchased")
	return nil
}

func (a *App) GetTeamScore(ctx context.Context, team models.Team) (models.TeamScore, error) {
	if !team.Valid() {
		return models.TeamScore{}, fmt.Errorf("validation failed: %w: %w", ErrInvalidArgument, models.ErrInvalidTeam)
	}
	score, err := a.repo.GetTeamScore(ctx, team)
	if err != nil {
		return models.TeamScore{}, fmt.Errorf("failed to get team score: %w", err)
	}
	return score, nil
}

func (a *App) GetUser(ctx context.Context, username string, team models.Team) (models.UserRecord, error) {
	if err := validateUser(username, team); err != nil {
		return models.UserRecord{}, fmt.Errorf("validation failed: %w", err)
	}
	rec, err := a.repo.GetUser(ctx, models.NewUserID(username, team))
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("failed to get user: %w", err)
	}
	return rec, nil
}

func (a *App) ListRecentUsers(ctx context.Context, limit int) ([]models.UserRecord, error) {
	users, err := a.repo.RecentUsers(ctx, clampLimit(limit, scoring.RecentUsersLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to list recent users: %w", err)
	}
	return users, nil
}

func (a *App) ListInteractions(ctx context.Context, limit int) ([]models.InteractionLogEntry, error) {
	entries, err := a.repo.Interactions(ctx, clampLimit(limit, maxListLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	return entries, nil
}

func validateUser(username string, team models.Team) error {
	if err := models.ValidateUsername(strings.TrimSpace(username)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if !team.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, models.ErrInvalidTeam)
	}
	return nil
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
