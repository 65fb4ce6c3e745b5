package scores

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/models"
)

// Client calls the clicker RPCs over connect
type Client struct {
	recordClick      *connect.Client[RecordClickRequest, RecordClickResponse]
	purchaseUpgrade  *connect.Client[PurchaseUpgradeRequest, PurchaseUpgradeResponse]
	getTeamScore     *connect.Client[GetTeamScoreRequest, GetTeamScoreResponse]
	getUser          *connect.Client[GetUserRequest, GetUserResponse]
	listRecentUsers  *connect.Client[ListRecentUsersRequest, ListRecentUsersResponse]
	listInteractions *connect.Client[ListInteractionsRequest, ListInteractionsResponse]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		recordClick:      connect.NewClient[RecordClickRequest, RecordClickResponse](httpClient, baseURL+RecordClickProcedure, opts...),
		purchaseUpgrade:  connect.NewClient[PurchaseUpgradeRequest, PurchaseUpgradeResponse](httpClient, baseURL+PurchaseUpgradeProcedure, opts...),
		getTeamScore:     connect.NewClient[GetTeamScoreRequest, GetTeamScoreResponse](httpClient, baseURL+GetTeamScoreProcedure, opts...),
		getUser:          connect.NewClient[GetUserRequest, GetUserResponse](httpClient, baseURL+GetUserProcedure, opts...),
		listRecentUsers:  connect.NewClient[ListRecentUsersRequest, ListRecentUsersResponse](httpClient, baseURL+ListRecentUsersProcedure, opts...),
		listInteractions: connect.NewClient[ListInteractionsRequest, ListInteractionsResponse](httpClient, baseURL+ListInteractionsProcedure, opts...),
	}
}

func (c *Client) RecordClick(ctx context.Context, click models.Click) error {
	_, err := c.recordClick.CallUnary(ctx, connect.NewRequest(&RecordClickRequest{
		Username: click.Username,
		Team:     click.Team,
		At:       click.At,
	}))
	return fromConnectError("record click", err)
}

func (c *Client) PurchaseUpgrade(ctx context.Context, id models.UserID, expectedOwned int, price int64) error {
	username, team, ok := id.Split()
	if !ok {
		return fmt.Errorf("purchase upgrade: %w: bad user id %q", ErrInvalidArgument, id)
	}
	_, err := c.purchaseUpgrade.CallUnary(ctx, connect.NewRequest(&PurchaseUpgradeRequest{
		Username:      username,
		Team:          team,
		ExpectedOwned: expectedOwned,
		Price:         price,
	}))
	return fromConnectError("purchase upgrade", err)
}

func (c *Client) GetTeamScore(ctx context.Context, team models.Team) (models.TeamScore, error) {
	resp, err := c.getTeamScore.CallUnary(ctx, connect.NewRequest(&GetTeamScoreRequest{Team: team}))
	if err != nil {
		return models.TeamScore{}, fromConnectError("get team score", err)
	}
	return resp.Msg.Score, nil
}

func (c *Client) GetUser(ctx context.Context, id models.UserID) (models.UserRecord, error) {
	username, team, ok := id.Split()
	if !ok {
		return models.UserRecord{}, fmt.Errorf("get user: %w: bad user id %q", ErrInvalidArgument, id)
	}
	resp, err := c.getUser.CallUnary(ctx, connect.NewRequest(&GetUserRequest{Username: username, Team: team}))
	if err != nil {
		return models.UserRecord{}, fromConnectError("get user", err)
	}
	return resp.Msg.User, nil
}

func (c *Client) RecentUsers(ctx context.Context, limit int) ([]models.UserRecord, error) {
	resp, err := c.listRecentUsers.CallUnary(ctx, connect.NewRequest(&ListRecentUsersRequest{Limit: limit}))
	if err != nil {
		return nil, fromConnectError("list recent users", err)
	}
	return resp.Msg.Users, nil
}

func (c *Client) Interactions(ctx context.Context, limit int) ([]models.InteractionLogEntry, error) {
	resp, err := c.listInteractions.CallUnary(ctx, connect.NewRequest(&ListInteractionsRequest{Limit: limit}))
	if err != nil {
		return nil, fromConnectError("list interactions", err)
	}
	return resp.Msg.Entries, nil
}

// fromConnectError maps status codes back onto the store's sentinel errors
func fromConnectError(op string, err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch connect.CodeOf(err) {
	case connect.CodeInvalidArgument:
		sentinel = ErrInvalidArgument
	case connect.CodeNotFound:
		sentinel = docstore.ErrNotFound
	case connect.CodeFailedPrecondition:
		sentinel = docstore.ErrPurchaseRejected
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}

var _ docstore.Repository = (*Client)(nil)
