package scores

import (
	"time"

	"github.com/mcdev12/teamclicker/go/internal/models"
)

type RecordClickRequest struct {
	Username string      `json:"username"`
	Team     models.Team `json:"team"`
	At       time.Time   `json:"at"`
}

type RecordClickResponse struct{}

type PurchaseUpgradeRequest struct {
	Username      string      `json:"username"`
	Team          models.Team `json:"team"`
	ExpectedOwned int         `json:"expectedOwned"`
	Price         int64       `json:"price"`
}

type PurchaseUpgradeResponse struct{}

type GetTeamScoreRequest struct {
	Team models.Team `json:"team"`
}

type GetTeamScoreResponse struct {
	Score models.TeamScore `json:"score"`
}

type GetUserRequest struct {
	Username string      `json:"username"`
	Team     models.Team `json:"team"`
}

type GetUserResponse struct {
	User models.UserRecord `json:"user"`
}

type ListRecentUsersRequest struct {
	Limit int `json:"limit"`
}

type ListRecentUsersResponse struct {
	Users []models.UserRecord `json:"users"`
}

type ListInteractionsRequest struct {
	Limit int `json:"limit"`
}

type ListInteractionsResponse struct {
	Entries []models.InteractionLogEntry `json:"entries"`
}
