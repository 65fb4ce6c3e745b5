package scores

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/models"
)

const ServiceName = "clicker.v1.ClickerService"

const (
	RecordClickProcedure      = "/" + ServiceName + "/RecordClick"
	PurchaseUpgradeProcedure  = "/" + ServiceName + "/PurchaseUpgrade"
	GetTeamScoreProcedure     = "/" + ServiceName + "/GetTeamScore"
	GetUserProcedure          = "/" + ServiceName + "/GetUser"
	ListRecentUsersProcedure  = "/" + ServiceName + "/ListRecentUsers"
	ListInteractionsProcedure = "/" + ServiceName + "/ListInteractions"
)

// ScoresApp defines what the service layer needs from the application
type ScoresApp interface {
	RecordClick(ctx context.Context, click models.Click) error
	PurchaseUpgrade(ctx context.Context, req PurchaseUpgradeRequest) error
	GetTeamScore(ctx context.Context, team models.Team) (models.TeamScore, error)
	GetUser(ctx context.Context, username string, team models.Team) (models.UserRecord, error)
	ListRecentUsers(ctx context.Context, limit int) ([]models.UserRecord, error)
	ListInteractions(ctx context.Context, limit int) ([]models.InteractionLogEntry, error)
}

// Service implements the clicker write and query RPCs
type Service struct {
	app ScoresApp
}

func NewService(app ScoresApp) *Service {
	return &Service{
		app: app,
	}
}

// NewHandler mounts every procedure under the service path
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(RecordClickProcedure, connect.NewUnaryHandler(RecordClickProcedure, svc.RecordClick, opts...))
	mux.Handle(PurchaseUpgradeProcedure, connect.NewUnaryHandler(PurchaseUpgradeProcedure, svc.PurchaseUpgrade, opts...))
	mux.Handle(GetTeamScoreProcedure, connect.NewUnaryHandler(GetTeamScoreProcedure, svc.GetTeamScore, opts...))
	mux.Handle(GetUserProcedure, connect.NewUnaryHandler(GetUserProcedure, svc.GetUser, opts...))
	mux.Handle(ListRecentUsersProcedure, connect.NewUnaryHandler(ListRecentUsersProcedure, svc.ListRecentUsers, opts...))
	mux.Handle(ListInteractionsProcedure, connect.NewUnaryHandler(ListInteractionsProcedure, svc.ListInteractions, opts...))
	return "/" + ServiceName + "/", mux
}

func (s *Service) RecordClick(ctx context.Context, req *connect.Request[RecordClickRequest]) (*connect.Response[RecordClickResponse], error) {
	click := models.Click{Username: req.Msg.Username, Team: req.Msg.Team, At: req.Msg.At}
	if err := s.app.RecordClick(ctx, click); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RecordClickResponse{}), nil
}

func (s *Service) PurchaseUpgrade(ctx context.Context, req *connect.Request[PurchaseUpgradeRequest]) (*connect.Response[PurchaseUpgradeResponse], error) {
	if err := s.app.PurchaseUpgrade(ctx, *req.Msg); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PurchaseUpgradeResponse{}), nil
}

func (s *Service) GetTeamScore(ctx context.Context, req *connect.Request[GetTeamScoreRequest]) (*connect.Response[GetTeamScoreResponse], error) {
	score, err := s.app.GetTeamScore(ctx, req.Msg.Team)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetTeamScoreResponse{Score: score}), nil
}

func (s *Service) GetUser(ctx context.Context, req *connect.Request[GetUserRequest]) (*connect.Response[GetUserResponse], error) {
	user, err := s.app.GetUser(ctx, req.Msg.Username, req.Msg.Team)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetUserResponse{User: user}), nil
}

func (s *Service) ListRecentUsers(ctx context.Context, req *connect.Request[ListRecentUsersRequest]) (*connect.Response[ListRecentUsersResponse], error) {
	users, err := s.app.ListRecentUsers(ctx, req.Msg.Limit)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListRecentUsersResponse{Users: users}), nil
}

func (s *Service) ListInteractions(ctx context.Context, req *connect.Request[ListInteractionsRequest]) (*connect.Response[ListInteractionsResponse], error) {
	entries, err := s.app.ListInteractions(ctx, req.Msg.Limit)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListInteractionsResponse{Entries: entries}), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, models.ErrInvalidTeam):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, docstore.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, docstore.ErrPurchaseRejected):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		log.Error().Err(err).Msg("clicker rpc failed")
		return connect.NewError(connect.CodeInternal, err)
	}
}
