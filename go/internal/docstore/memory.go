package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/scoring"
)

type scoreWatch struct {
	team models.Team
	fn   func(models.TeamScore)
}

type recentWatch struct {
	limit int
	fn    func([]models.UserRecord)
}

type userWatch struct {
	id models.UserID
	fn func(models.UserRecord, bool)
}

// MemoryStore is an in-process document store with snapshot watches.
// Watch callbacks run synchronously on the writing goroutine, in write order;
// a callback must not write back into the store on the same goroutine.
type MemoryStore struct {
	// dispatchMu serialises write+delivery so watchers see snapshots in order.
	// Lock order: dispatchMu, then mu.
	dispatchMu sync.Mutex
	mu         sync.Mutex

	scores       map[models.Team]int64
	users        map[models.UserID]models.UserRecord
	interactions []models.InteractionLogEntry
	writeErr     error

	nextID         int
	scoreWatchers  map[int]scoreWatch
	recentWatchers map[int]recentWatch
	userWatchers   map[int]userWatch
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scores:         make(map[models.Team]int64),
		users:          make(map[models.UserID]models.UserRecord),
		scoreWatchers:  make(map[int]scoreWatch),
		recentWatchers: make(map[int]recentWatch),
		userWatchers:   make(map[int]userWatch),
	}
}

// SetWriteError makes every following write fail with err until reset with nil
func (m *MemoryStore) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// RecordClick applies a click atomically and pushes the changed documents
func (m *MemoryStore) RecordClick(ctx context.Context, click models.Click) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !click.Team.Valid() {
		return fmt.Errorf("record click: %w", models.ErrInvalidTeam)
	}

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return fmt.Errorf("record click: %w", err)
	}

	m.scores[click.Team]++

	id := models.NewUserID(click.Username, click.Team)
	var prev *models.UserRecord
	if rec, ok := m.users[id]; ok {
		prev = &rec
	}
	next := scoring.ApplyClick(prev, click.Username, click.Team, click.At)
	m.users[id] = next

	m.interactions = append(m.interactions, models.InteractionLogEntry{
		ID:        uuid.New(),
		Username:  click.Username,
		Team:      click.Team,
		Clicks:    1,
		Timestamp: click.At,
	})

	deliveries := m.collectLocked(&click.Team, id)
	m.mu.Unlock()

	for _, deliver := range deliveries {
		deliver()
	}
	return nil
}

// PurchaseUpgrade buys one autoclicker if the stored record still allows it
func (m *MemoryStore) PurchaseUpgrade(ctx context.Context, id models.UserID, expectedOwned int, price int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return fmt.Errorf("purchase upgrade: %w", err)
	}
	rec, ok := m.users[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("purchase upgrade for %s: %w", id, ErrNotFound)
	}
	if rec.TotalClicks < price || rec.AutoClickersCount != expectedOwned {
		m.mu.Unlock()
		return fmt.Errorf("purchase upgrade for %s: %w", id, ErrPurchaseRejected)
	}
	rec.AutoClickersCount++
	rec.TotalClicks -= price
	m.users[id] = rec

	deliveries := m.collectLocked(nil, id)
	m.mu.Unlock()

	for _, deliver := range deliveries {
		deliver()
	}
	return nil
}

func (m *MemoryStore) GetTeamScore(ctx context.Context, team models.Team) (models.TeamScore, error) {
	if !team.Valid() {
		return models.TeamScore{}, fmt.Errorf("get team score: %w", models.ErrInvalidTeam)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teamScoreLocked(team), nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id models.UserID) (models.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[id]
	if !ok {
		return models.UserRecord{}, fmt.Errorf("get user %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (m *MemoryStore) RecentUsers(ctx context.Context, limit int) ([]models.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentLocked(limit), nil
}

func (m *MemoryStore) Interactions(ctx context.Context, limit int) ([]models.InteractionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.interactions)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.InteractionLogEntry, 0, n)
	for i := len(m.interactions) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.interactions[i])
	}
	return out, nil
}

// WatchTeamScore pushes the team total now and after every change to it
func (m *MemoryStore) WatchTeamScore(ctx context.Context, team models.Team, fn func(models.TeamScore)) (func(), error) {
	if !team.Valid() {
		return nil, fmt.Errorf("watch team score: %w", models.ErrInvalidTeam)
	}

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	id := m.nextWatchIDLocked()
	m.scoreWatchers[id] = scoreWatch{team: team, fn: fn}
	snap := m.teamScoreLocked(team)
	m.mu.Unlock()

	fn(snap)
	return func() {
		m.mu.Lock()
		delete(m.scoreWatchers, id)
		m.mu.Unlock()
	}, nil
}

// WatchRecentUsers pushes the recent-users query result now and after every
// user change
func (m *MemoryStore) WatchRecentUsers(ctx context.Context, limit int, fn func([]models.UserRecord)) (func(), error) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	id := m.nextWatchIDLocked()
	m.recentWatchers[id] = recentWatch{limit: limit, fn: fn}
	snap := m.recentLocked(limit)
	m.mu.Unlock()

	fn(snap)
	return func() {
		m.mu.Lock()
		delete(m.recentWatchers, id)
		m.mu.Unlock()
	}, nil
}

// WatchUser pushes a single user record; exists is false until the first click
func (m *MemoryStore) WatchUser(ctx context.Context, userID models.UserID, fn func(models.UserRecord, bool)) (func(), error) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	id := m.nextWatchIDLocked()
	m.userWatchers[id] = userWatch{id: userID, fn: fn}
	rec, ok := m.users[userID]
	m.mu.Unlock()

	fn(rec, ok)
	return func() {
		m.mu.Lock()
		delete(m.userWatchers, id)
		m.mu.Unlock()
	}, nil
}

func (m *MemoryStore) nextWatchIDLocked() int {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) teamScoreLocked(team models.Team) models.TeamScore {
	total, ok := m.scores[team]
	if !ok {
		m.scores[team] = 0
	}
	return models.TeamScore{Team: team, Total: total}
}

func (m *MemoryStore) recentLocked(limit int) []models.UserRecord {
	out := make([]models.UserRecord, 0, len(m.users))
	for _, rec := range m.users {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastClicked.Equal(out[j].LastClicked) {
			return out[i].LastClicked.After(out[j].LastClicked)
		}
		return out[i].ID() < out[j].ID()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// collectLocked snapshots the documents affected by a write and binds them to
// the interested watchers. team is nil when no team total changed.
func (m *MemoryStore) collectLocked(team *models.Team, userID models.UserID) []func() {
	var out []func()

	if team != nil {
		snap := m.teamScoreLocked(*team)
		for _, w := range m.scoreWatchers {
			if w.team == *team {
				fn := w.fn
				out = append(out, func() { fn(snap) })
			}
		}
	}

	for _, w := range m.recentWatchers {
		snap := m.recentLocked(w.limit)
		fn := w.fn
		out = append(out, func() { fn(snap) })
	}

	rec, ok := m.users[userID]
	for _, w := range m.userWatchers {
		if w.id == userID {
			fn := w.fn
			out = append(out, func() { fn(rec, ok) })
		}
	}
	return out
}
