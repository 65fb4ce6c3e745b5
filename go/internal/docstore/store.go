// Package docstore holds the shared game documents: team totals under
// scores/{team}, per-user click state under users/{username_team} and the
// append-only interactions log.
package docstore

import (
	"context"
	"errors"

	"github.com/mcdev12/teamclicker/go/internal/models"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrPurchaseRejected = errors.New("upgrade purchase rejected")
)

// Repository is the write and query surface shared by every store
type Repository interface {
	// RecordClick increments the team total, applies the click to the user
	// record and appends an interaction as one atomic unit.
	RecordClick(ctx context.Context, click models.Click) error
	// PurchaseUpgrade adds one autoclicker and deducts price, only if the
	// user still owns expectedOwned and has at least price clicks.
	PurchaseUpgrade(ctx context.Context, id models.UserID, expectedOwned int, price int64) error
	// GetTeamScore returns the team total, creating it at zero if absent.
	GetTeamScore(ctx context.Context, team models.Team) (models.TeamScore, error)
	GetUser(ctx context.Context, id models.UserID) (models.UserRecord, error)
	// RecentUsers returns up to limit users ordered by last click, newest first.
	RecentUsers(ctx context.Context, limit int) ([]models.UserRecord, error)
	Interactions(ctx context.Context, limit int) ([]models.InteractionLogEntry, error)
}
