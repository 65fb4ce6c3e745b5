package scores

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/models"
)

func newTestClient(t *testing.T) (*Client, *docstore.MemoryStore) {
	t.Helper()
	repo := docstore.NewMemoryStore()
	mux := http.NewServeMux()
	mux.Handle(NewHandler(NewService(NewApp(repo))))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL), repo
}

func TestRecordClickRoundTrip(t *testing.T) {
	client, repo := newTestClient(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if err := client.RecordClick(ctx, models.Click{Username: "alice", Team: models.TeamBlue, At: at}); err != nil {
			t.Fatalf("RecordClick: %v", err)
		}
	}

	score, err := client.GetTeamScore(ctx, models.TeamBlue)
	if err != nil {
		t.Fatalf("GetTeamScore: %v", err)
	}
	if score.Total != 2 {
		t.Errorf("blue total = %d, want 2", score.Total)
	}

	rec, err := client.GetUser(ctx, "alice_blue")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if rec.TotalClicks != 2 || !rec.LastClicked.Equal(at) {
		t.Errorf("record = %+v, want 2 clicks at %v", rec, at)
	}

	entries, err := client.Interactions(ctx, 0)
	if err != nil {
		t.Fatalf("Interactions: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("interactions = %d, want 2", len(entries))
	}

	stored, _ := repo.GetTeamScore(ctx, models.TeamBlue)
	if stored.Total != 2 {
		t.Errorf("stored total = %d, want 2", stored.Total)
	}
}

func TestErrorCodes(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	at := time.Now()

	err := client.RecordClick(ctx, models.Click{Username: "", Team: models.TeamBlue, At: at})
	if connect.CodeOf(err) != connect.CodeInvalidArgument || !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty username err = %v, want invalid argument", err)
	}

	err = client.RecordClick(ctx, models.Click{Username: "bob", Team: "green", At: at})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("bad team err = %v, want invalid argument", err)
	}

	long := strings.Repeat("a", models.MaxUsernameLength+1)
	err = client.RecordClick(ctx, models.Click{Username: long, Team: models.TeamBlue, At: at})
	if connect.CodeOf(err) != connect.CodeInvalidArgument || !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("long username err = %v, want invalid argument", err)
	}

	_, err = client.GetUser(ctx, "nobody_red")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("missing user err = %v, want ErrNotFound", err)
	}
}

func TestPurchaseUpgrade(t *testing.T) {
	client, repo := newTestClient(t)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		if err := repo.RecordClick(ctx, models.Click{Username: "carol", Team: models.TeamRed, At: time.Now()}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	tests := []struct {
		name     string
		owned    int
		price    int64
		wantCode connect.Code
		wantErr  error
	}{
		{"wrong price", 0, 50, connect.CodeInvalidArgument, ErrInvalidArgument},
		{"stale owned count", 1, 150, connect.CodeFailedPrecondition, docstore.ErrPurchaseRejected},
		{"accepted", 0, 100, 0, nil},
		{"cannot afford second", 1, 150, connect.CodeFailedPrecondition, docstore.ErrPurchaseRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.PurchaseUpgrade(ctx, "carol_red", tt.owned, tt.price)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("PurchaseUpgrade: %v", err)
				}
				return
			}
			if connect.CodeOf(err) != tt.wantCode || !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	rec, err := repo.GetUser(ctx, "carol_red")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if rec.AutoClickersCount != 1 || rec.TotalClicks != 20 {
		t.Errorf("record = %+v, want 1 upgrade and 20 clicks", rec)
	}
}

func TestRecordClickBoundsClickTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := docstore.NewMemoryStore()
	app := NewApp(repo, WithAppClock(clockwork.NewFakeClockAt(now)))
	ctx := context.Background()

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"past kept", now.Add(-time.Minute), now.Add(-time.Minute)},
		{"future clamped", now.Add(24 * time.Hour), now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := app.RecordClick(ctx, models.Click{Username: "erin", Team: models.TeamRed, At: tt.at}); err != nil {
				t.Fatalf("RecordClick: %v", err)
			}
			rec, err := repo.GetUser(ctx, "erin_red")
			if err != nil {
				t.Fatalf("GetUser: %v", err)
			}
			if !rec.LastClicked.Equal(tt.want) {
				t.Errorf("lastClicked = %v, want %v", rec.LastClicked, tt.want)
			}
		})
	}
}
