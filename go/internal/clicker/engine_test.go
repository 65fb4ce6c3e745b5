package clicker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/prefs"
)

// countingRemote records how often the engine touches the store
type countingRemote struct {
	*docstore.MemoryStore
	writes  atomic.Int32
	watches atomic.Int32
}

func (c *countingRemote) RecordClick(ctx context.Context, click models.Click) error {
	c.writes.Add(1)
	return c.MemoryStore.RecordClick(ctx, click)
}

func (c *countingRemote) PurchaseUpgrade(ctx context.Context, id models.UserID, expectedOwned int, price int64) error {
	c.writes.Add(1)
	return c.MemoryStore.PurchaseUpgrade(ctx, id, expectedOwned, price)
}

func (c *countingRemote) WatchTeamScore(ctx context.Context, team models.Team, fn func(models.TeamScore)) (func(), error) {
	c.watches.Add(1)
	return c.MemoryStore.WatchTeamScore(ctx, team, fn)
}

func (c *countingRemote) WatchRecentUsers(ctx context.Context, limit int, fn func([]models.UserRecord)) (func(), error) {
	c.watches.Add(1)
	return c.MemoryStore.WatchRecentUsers(ctx, limit, fn)
}

func (c *countingRemote) WatchUser(ctx context.Context, id models.UserID, fn func(models.UserRecord, bool)) (func(), error) {
	c.watches.Add(1)
	return c.MemoryStore.WatchUser(ctx, id, fn)
}

type fixture struct {
	remote *countingRemote
	prefs  *prefs.MemoryStore
	clock  *clockwork.FakeClock
	engine *Engine
}

func newFixture(t *testing.T, team models.Team, username string) *fixture {
	t.Helper()
	f := &fixture{
		remote: &countingRemote{MemoryStore: docstore.NewMemoryStore()},
		prefs:  prefs.NewMemoryStore(),
		clock:  clockwork.NewFakeClockAt(t0),
	}
	if team != "" {
		_ = f.prefs.Set(prefs.KeySelectedTeam, team.String())
	}
	if username != "" {
		_ = f.prefs.Set(prefs.KeyUsername, username)
	}
	f.engine = NewEngine(f.remote, f.prefs, WithClock(f.clock))
	t.Cleanup(f.engine.Stop)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// seed records n clicks for username straight into the store
func (f *fixture) seed(t *testing.T, username string, team models.Team, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := f.remote.MemoryStore.RecordClick(context.Background(), models.Click{Username: username, Team: team, At: at}); err != nil {
			t.Fatalf("seed click: %v", err)
		}
	}
}

func (f *fixture) waitForWaiters(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d tickers: %v", n, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineIdleWithoutTeam(t *testing.T) {
	f := newFixture(t, "", "alice")
	f.start(t)

	f.engine.Click(context.Background())
	f.engine.BuyUpgrade(context.Background())

	if w := f.remote.watches.Load(); w != 0 {
		t.Errorf("watches = %d, want 0", w)
	}
	if w := f.remote.writes.Load(); w != 0 {
		t.Errorf("writes = %d, want 0", w)
	}
	if v := f.engine.Store().View(); v.Ready {
		t.Errorf("view ready without a team")
	}
}

func TestEngineClicks(t *testing.T) {
	f := newFixture(t, models.TeamBlue, "alice")
	f.start(t)

	for i := 0; i < 3; i++ {
		f.engine.Click(context.Background())
	}

	v := f.engine.Store().View()
	if v.BlueTotal != 3 || v.RedTotal != 0 || v.Score != 3 {
		t.Errorf("totals = blue %d red %d score %d, want 3 0 3", v.BlueTotal, v.RedTotal, v.Score)
	}
	if v.Split.Blue != 100 || v.Split.Red != 0 {
		t.Errorf("split = %+v, want 100/0", v.Split)
	}
	if v.UserTotalClicks != 3 {
		t.Errorf("user clicks = %d, want 3", v.UserTotalClicks)
	}
	if len(v.Notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(v.Notifications))
	}
	n := v.Notifications[0]
	if n.Username != "alice" || n.Count != 3 || n.Phase != PhaseUpdated {
		t.Errorf("notification = %+v, want alice updated with 3", n)
	}

	rec, err := f.remote.GetUser(context.Background(), "alice_blue")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if rec.TotalClicks != 3 || rec.RecentClicks != 3 {
		t.Errorf("record = %+v, want 3 total and 3 recent", rec)
	}
}

func TestEngineClickWithoutUsername(t *testing.T) {
	f := newFixture(t, models.TeamRed, "")
	f.start(t)

	f.engine.Click(context.Background())

	if w := f.remote.writes.Load(); w != 0 {
		t.Errorf("writes = %d, want 0", w)
	}
	if v := f.engine.Store().View(); !v.Ready || v.Team != models.TeamRed {
		t.Errorf("view = %+v, want ready on red", v)
	}
}

func TestEngineBuyUpgrade(t *testing.T) {
	tests := []struct {
		name      string
		seeded    int
		wantOwned int
		wantTotal int64
	}{
		{"locked", 99, 0, 99},
		{"affordable", 100, 1, 0},
		{"with change", 130, 1, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.TeamBlue, "alice")
			f.seed(t, "alice", models.TeamBlue, tt.seeded, t0.Add(-time.Hour))
			f.start(t)

			f.engine.BuyUpgrade(context.Background())

			v := f.engine.Store().View()
			if v.OwnedUpgrades != tt.wantOwned || v.UserTotalClicks != tt.wantTotal {
				t.Errorf("view owned %d total %d, want %d %d", v.OwnedUpgrades, v.UserTotalClicks, tt.wantOwned, tt.wantTotal)
			}
			rec, err := f.remote.GetUser(context.Background(), "alice_blue")
			if err != nil {
				t.Fatalf("GetUser: %v", err)
			}
			if rec.AutoClickersCount != tt.wantOwned || rec.TotalClicks != tt.wantTotal {
				t.Errorf("record owned %d total %d, want %d %d", rec.AutoClickersCount, rec.TotalClicks, tt.wantOwned, tt.wantTotal)
			}
		})
	}
}

func TestEngineBuyUpgradeFailureLeavesView(t *testing.T) {
	f := newFixture(t, models.TeamBlue, "alice")
	f.seed(t, "alice", models.TeamBlue, 150, t0.Add(-time.Hour))
	f.start(t)

	f.remote.SetWriteError(errors.New("offline"))
	f.engine.BuyUpgrade(context.Background())

	v := f.engine.Store().View()
	if v.OwnedUpgrades != 0 || v.UserTotalClicks != 150 {
		t.Errorf("view owned %d total %d, want 0 150", v.OwnedUpgrades, v.UserTotalClicks)
	}
}

func TestEngineAutoClicker(t *testing.T) {
	f := newFixture(t, models.TeamBlue, "alice")
	f.seed(t, "alice", models.TeamBlue, 100, t0.Add(-time.Hour))
	f.start(t)

	f.engine.BuyUpgrade(context.Background())
	// cleanup sweep and autoclicker
	f.waitForWaiters(t, 2)

	f.clock.Advance(time.Second)
	eventually(t, "first autoclick", func() bool {
		return f.engine.Store().View().UserTotalClicks == 1
	})

	f.clock.Advance(time.Second)
	eventually(t, "second autoclick", func() bool {
		return f.engine.Store().View().UserTotalClicks == 2
	})

	rec, err := f.remote.GetUser(context.Background(), "alice_blue")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if rec.TotalClicks != 2 {
		t.Errorf("stored clicks = %d, want 2", rec.TotalClicks)
	}
}

func TestEngineStopHaltsAutoClicker(t *testing.T) {
	f := newFixture(t, models.TeamBlue, "alice")
	f.seed(t, "alice", models.TeamBlue, 100, t0.Add(-time.Hour))
	f.start(t)
	f.engine.BuyUpgrade(context.Background())
	f.waitForWaiters(t, 2)

	f.engine.Stop()
	f.waitForWaiters(t, 0)
	before := f.remote.writes.Load()
	f.clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if after := f.remote.writes.Load(); after != before {
		t.Errorf("writes after stop = %d, want %d", after, before)
	}

	version := f.engine.Store().View().Version
	f.seed(t, "bob", models.TeamBlue, 1, t0)
	if v := f.engine.Store().View(); v.Version != version {
		t.Errorf("view changed after stop: version %d -> %d", version, v.Version)
	}
}

func TestEngineNotificationsSweep(t *testing.T) {
	f := newFixture(t, models.TeamRed, "zed")
	names := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6"}
	for i, name := range names {
		f.seed(t, name, models.TeamBlue, 1, t0.Add(-time.Duration(i+1)*100*time.Millisecond))
	}
	f.start(t)

	got := usernames(f.engine.Store().View().Notifications)
	want := names[:5]
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d = %s, want %s", i, got[i], want[i])
		}
	}

	f.waitForWaiters(t, 1)
	f.clock.Advance(10 * time.Second)
	eventually(t, "sweep", func() bool {
		return len(f.engine.Store().View().Notifications) == 0
	})
}

func TestEngineChangeTeam(t *testing.T) {
	f := newFixture(t, models.TeamBlue, "alice")
	f.seed(t, "bob", models.TeamRed, 4, t0)
	f.start(t)
	f.engine.Click(context.Background())

	if err := f.engine.ChangeTeam(context.Background()); err != nil {
		t.Fatalf("ChangeTeam: %v", err)
	}
	if v := f.engine.Store().View(); v.Ready {
		t.Fatalf("view still ready after ChangeTeam")
	}
	writes := f.remote.writes.Load()
	f.engine.Click(context.Background())
	if w := f.remote.writes.Load(); w != writes {
		t.Errorf("click without team wrote to the store")
	}

	if err := f.engine.SelectTeam(context.Background(), models.TeamRed); err != nil {
		t.Fatalf("SelectTeam: %v", err)
	}
	v := f.engine.Store().View()
	if v.Team != models.TeamRed || v.Score != 4 || v.BlueTotal != 1 {
		t.Errorf("view = team %s score %d blue %d, want red 4 1", v.Team, v.Score, v.BlueTotal)
	}
	// alice on red is a fresh record
	if v.UserTotalClicks != 0 {
		t.Errorf("user clicks = %d, want 0", v.UserTotalClicks)
	}
	if saved, _ := prefs.SelectedTeam(f.prefs); saved != models.TeamRed {
		t.Errorf("saved team = %q, want red", saved)
	}
}

func TestEngineSetUsername(t *testing.T) {
	f := newFixture(t, models.TeamBlue, "")
	f.start(t)

	if err := f.engine.SetUsername(context.Background(), "   "); !errors.Is(err, ErrEmptyUsername) {
		t.Errorf("SetUsername(blank) = %v, want ErrEmptyUsername", err)
	}
	long := strings.Repeat("a", models.MaxUsernameLength+1)
	if err := f.engine.SetUsername(context.Background(), long); !errors.Is(err, models.ErrUsernameTooLong) {
		t.Errorf("SetUsername(long) = %v, want ErrUsernameTooLong", err)
	}
	if name, _ := prefs.Username(f.prefs); name != "" {
		t.Errorf("saved username = %q, want it unchanged", name)
	}
	if err := f.engine.SetUsername(context.Background(), " dana "); err != nil {
		t.Fatalf("SetUsername: %v", err)
	}
	f.engine.Click(context.Background())

	if _, err := f.remote.GetUser(context.Background(), "dana_blue"); err != nil {
		t.Errorf("GetUser(dana_blue): %v", err)
	}
}

func TestEngineFocusKeepsSubscriptions(t *testing.T) {
	f := newFixture(t, models.TeamBlue, "alice")
	f.start(t)
	watches := f.remote.watches.Load()

	if err := f.engine.Focus(context.Background()); err != nil {
		t.Fatalf("Focus: %v", err)
	}
	if w := f.remote.watches.Load(); w != watches {
		t.Errorf("watches = %d after unchanged focus, want %d", w, watches)
	}
}
