package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcdev12/teamclicker/go/internal/changefeed"
	"github.com/mcdev12/teamclicker/go/internal/clicker"
	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/gateway"
	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/prefs"
	"github.com/mcdev12/teamclicker/go/internal/scores"
)

// newServer runs the RPC handler and push gateway over one in-memory store
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := docstore.NewMemoryStore()

	snaps, err := gateway.NewCachedSnapshots(repo, gateway.DefaultCacheConfig())
	if err != nil {
		t.Fatalf("NewCachedSnapshots: %v", err)
	}
	t.Cleanup(snaps.Close)
	gw := gateway.NewService(gateway.DefaultConfig(), snaps)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go gw.Start(ctx)

	notifier := changefeed.NewNotifier(repo, changefeed.PublisherFunc(gw.HandleChange))
	mux := http.NewServeMux()
	mux.Handle(scores.NewHandler(scores.NewService(scores.NewApp(notifier))))
	gw.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := DefaultConfig(srv.URL)
	cfg.HTTPClient = srv.Client()
	c := NewClient(cfg)
	t.Cleanup(func() { c.Close() })
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type scoreLog struct {
	mu     sync.Mutex
	totals []int64
}

func (l *scoreLog) add(s models.TeamScore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals = append(l.totals, s.Total)
}

func (l *scoreLog) latest() (int64, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.totals) == 0 {
		return -1, 0
	}
	return l.totals[len(l.totals)-1], len(l.totals)
}

func TestWatchTeamScore(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	var first, second scoreLog
	unwatch, err := c.WatchTeamScore(ctx, models.TeamRed, first.add)
	if err != nil {
		t.Fatalf("WatchTeamScore: %v", err)
	}
	eventually(t, "initial snapshot", func() bool {
		total, n := first.latest()
		return n == 1 && total == 0
	})

	// a second watcher on the same topic is served from the last snapshot
	unwatchSecond, err := c.WatchTeamScore(ctx, models.TeamRed, second.add)
	if err != nil {
		t.Fatalf("WatchTeamScore: %v", err)
	}
	defer unwatchSecond()
	if total, n := second.latest(); n != 1 || total != 0 {
		t.Errorf("second watcher got total %d after %d pushes, want 0 after 1", total, n)
	}

	if err := c.RecordClick(ctx, models.Click{Username: "bob", Team: models.TeamRed, At: time.Now()}); err != nil {
		t.Fatalf("RecordClick: %v", err)
	}
	eventually(t, "pushed total", func() bool {
		a, _ := first.latest()
		b, _ := second.latest()
		return a == 1 && b == 1
	})

	unwatch()
	_, before := first.latest()
	if err := c.RecordClick(ctx, models.Click{Username: "bob", Team: models.TeamRed, At: time.Now()}); err != nil {
		t.Fatalf("RecordClick: %v", err)
	}
	eventually(t, "second watcher update", func() bool {
		b, _ := second.latest()
		return b == 2
	})
	if _, after := first.latest(); after != before {
		t.Errorf("unwatched callback ran %d more times", after-before)
	}
}

func TestWatchUser(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []bool
	unwatch, err := c.WatchUser(ctx, "dana_blue", func(rec models.UserRecord, exists bool) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, exists)
	})
	if err != nil {
		t.Fatalf("WatchUser: %v", err)
	}
	defer unwatch()

	if err := c.RecordClick(ctx, models.Click{Username: "dana", Team: models.TeamBlue, At: time.Now()}); err != nil {
		t.Fatalf("RecordClick: %v", err)
	}
	eventually(t, "user to exist", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2 && !seen[0] && seen[len(seen)-1]
	})
}

func TestEngineOverRemote(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	store := prefs.NewMemoryStore()
	_ = store.Set(prefs.KeySelectedTeam, "blue")
	_ = store.Set(prefs.KeyUsername, "alice")

	engine := clicker.NewEngine(c, store)
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer engine.Stop()

	for i := 0; i < 3; i++ {
		engine.Click(ctx)
	}

	eventually(t, "view to catch up", func() bool {
		v := engine.Store().View()
		return v.BlueTotal == 3 && v.UserTotalClicks == 3 && len(v.Notifications) == 1
	})
	v := engine.Store().View()
	if v.Split.Blue != 100 {
		t.Errorf("blue share = %v, want 100", v.Split.Blue)
	}
	if n := v.Notifications[0]; n.Username != "alice" || n.Count != 3 {
		t.Errorf("notification = %+v, want alice with 3", n)
	}
}

func TestEngineOverRemoteLongUsername(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv)
	ctx := context.Background()
	name := strings.Repeat("a", 1100)

	store := prefs.NewMemoryStore()
	_ = store.Set(prefs.KeySelectedTeam, "blue")
	_ = store.Set(prefs.KeyUsername, name)

	engine := clicker.NewEngine(c, store)
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer engine.Stop()

	engine.Click(ctx)
	engine.Click(ctx)

	eventually(t, "view to catch up", func() bool {
		v := engine.Store().View()
		return v.BlueTotal == 2 && v.UserTotalClicks == 2 && len(v.Notifications) == 1
	})
}

func TestReconnectBacksOffWhileSocketKeepsDropping(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.HTTPClient = srv.Client()
	cfg.MinBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = 400 * time.Millisecond
	cfg.StableAfter = time.Minute
	c := NewClient(cfg)

	// the subscribe may race the server closing the socket
	_, _ = c.WatchTeamScore(context.Background(), models.TeamBlue, func(models.TeamScore) {})

	time.Sleep(time.Second)
	c.Close()

	// dial, then retries after 50, 100, 200 and 400ms
	n := dials.Load()
	if n < 2 {
		t.Errorf("dials = %d, want a reconnect", n)
	}
	if n > 8 {
		t.Errorf("dials = %d in 1s, want backoff between short-lived sockets", n)
	}
}
