// Package clicker is the client-side game engine. It keeps a live View of the
// shared documents, registers manual and automatic clicks, buys upgrades and
// turns the recent-users feed into timed notifications.
package clicker

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/prefs"
	"github.com/mcdev12/teamclicker/go/internal/scoring"
)

// Remote is the shared document store as seen by one client. Watch calls
// deliver an initial snapshot and then every change until the returned
// function is called.
type Remote interface {
	RecordClick(ctx context.Context, click models.Click) error
	PurchaseUpgrade(ctx context.Context, id models.UserID, expectedOwned int, price int64) error
	WatchTeamScore(ctx context.Context, team models.Team, fn func(models.TeamScore)) (func(), error)
	WatchRecentUsers(ctx context.Context, limit int, fn func([]models.UserRecord)) (func(), error)
	WatchUser(ctx context.Context, id models.UserID, fn func(models.UserRecord, bool)) (func(), error)
}

var ErrEmptyUsername = models.ErrEmptyUsername

type autoKey struct {
	team     models.Team
	username string
	owned    int
}

// Engine drives one player's session. Remote is never called while mu is
// held, so watch callbacks may run on any goroutine, including the caller's.
type Engine struct {
	remote Remote
	prefs  prefs.Store
	clock  Clock
	store  *Store

	mu       sync.Mutex
	running  bool
	writeCtx context.Context
	// gen changes on every (re)subscription; callbacks from an older
	// generation are ignored
	gen      uint64
	focused  bool
	team     models.Team
	username string
	unsubs   []func()
	cleanup  *task
	auto     *task
	autoKey  autoKey
	seq      uint64
}

type Option func(*Engine)

// WithClock replaces the real clock
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// NewEngine creates an engine; nothing happens until Start
func NewEngine(remote Remote, store prefs.Store, opts ...Option) *Engine {
	e := &Engine{
		remote:   remote,
		prefs:    store,
		clock:    clockwork.NewRealClock(),
		store:    NewStore(),
		writeCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the view store for rendering
func (e *Engine) Store() *Store {
	return e.store
}

// Start mounts the engine and subscribes if a team has been chosen.
// Writes started by the engine itself keep ctx's values but not its
// cancellation, so Stop never aborts a click in flight.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.writeCtx = context.WithoutCancel(ctx)
	e.mu.Unlock()

	log.Info().Msg("clicker engine started")
	return e.Focus(ctx)
}

// Focus re-reads the stored preferences and resubscribes if they changed
func (e *Engine) Focus(ctx context.Context) error {
	team, err := prefs.SelectedTeam(e.prefs)
	if err != nil {
		log.Error().Err(err).Msg("failed to read selected team")
	}
	username, err := prefs.Username(e.prefs)
	if err != nil {
		log.Error().Err(err).Msg("failed to read username")
	}
	if len(username) > models.MaxUsernameLength {
		log.Warn().Int("length", len(username)).Msg("stored username too long; ignoring it")
		username = ""
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	if e.focused && team == e.team && username == e.username {
		e.mu.Unlock()
		return nil
	}
	old := e.detachLocked()
	e.focused = true
	e.team, e.username = team, username
	gen := e.gen
	v := e.store.apply(func(v *View) {
		*v = View{Version: v.Version, Ready: team != "", Team: team, Username: username}
	})
	e.mu.Unlock()

	for _, unsub := range old {
		unsub()
	}
	e.store.publish(v)

	if team == "" {
		log.Debug().Msg("no team selected; engine idle")
		return nil
	}
	return e.subscribe(ctx, gen, team, username)
}

// Stop unsubscribes everything and stops both scheduled tasks. In-flight
// writes are left to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	old := e.detachLocked()
	e.team, e.username = "", ""
	e.mu.Unlock()

	for _, unsub := range old {
		unsub()
	}
	log.Info().Msg("clicker engine stopped")
}

// Click registers one manual click for the current user and team
func (e *Engine) Click(ctx context.Context) {
	e.mu.Lock()
	running, team, username := e.running, e.team, e.username
	e.mu.Unlock()
	if !running {
		return
	}
	e.registerClick(ctx, username, team)
}

// BuyUpgrade buys the next autoclicker if the current view allows it.
// Rejections and failures leave the view untouched.
func (e *Engine) BuyUpgrade(ctx context.Context) {
	e.mu.Lock()
	running, team, username, gen := e.running, e.team, e.username, e.gen
	e.mu.Unlock()
	if !running || username == "" || !team.Valid() {
		return
	}

	v := e.store.View()
	owned := v.OwnedUpgrades
	price, err := scoring.CheckPurchase(v.UserTotalClicks, owned)
	if err != nil {
		log.Debug().Err(err).Int64("price", price).Msg("upgrade not purchasable")
		return
	}

	id := models.NewUserID(username, team)
	if err := e.remote.PurchaseUpgrade(ctx, id, owned, price); err != nil {
		log.Error().Err(err).Str("user_id", id.String()).Msg("failed to purchase upgrade")
		return
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	// The confirming push may already have landed
	next := e.store.apply(func(v *View) {
		if v.OwnedUpgrades == owned {
			v.OwnedUpgrades = owned + 1
			v.UserTotalClicks -= price
		}
	})
	e.syncAutoClickerLocked(next)
	e.mu.Unlock()
	e.store.publish(next)
}

// SelectTeam stores the chosen team and refocuses
func (e *Engine) SelectTeam(ctx context.Context, team models.Team) error {
	if !team.Valid() {
		return models.ErrInvalidTeam
	}
	if err := e.prefs.Set(prefs.KeySelectedTeam, team.String()); err != nil {
		return err
	}
	return e.Focus(ctx)
}

// SetUsername stores the player's name and refocuses
func (e *Engine) SetUsername(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := models.ValidateUsername(name); err != nil {
		return err
	}
	if err := e.prefs.Set(prefs.KeyUsername, name); err != nil {
		return err
	}
	return e.Focus(ctx)
}

// ChangeTeam forgets the selected team and goes back to idle
func (e *Engine) ChangeTeam(ctx context.Context) error {
	if err := e.prefs.Remove(prefs.KeySelectedTeam); err != nil {
		return err
	}
	return e.Focus(ctx)
}

func (e *Engine) registerClick(ctx context.Context, username string, team models.Team) {
	if username == "" || !team.Valid() {
		return
	}
	click := models.Click{Username: username, Team: team, At: e.clock.Now()}
	if err := e.remote.RecordClick(ctx, click); err != nil {
		log.Error().Err(err).Str("username", username).Str("team", team.String()).Msg("failed to record click")
	}
}

func (e *Engine) subscribe(ctx context.Context, gen uint64, team models.Team, username string) error {
	var unsubs []func()
	var errs []error

	for _, t := range models.Teams {
		unsub, err := e.remote.WatchTeamScore(ctx, t, e.onTeamScore(gen))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		unsubs = append(unsubs, unsub)
	}
	unsub, err := e.remote.WatchRecentUsers(ctx, scoring.RecentUsersLimit, e.onRecentUsers(gen))
	if err != nil {
		errs = append(errs, err)
	} else {
		unsubs = append(unsubs, unsub)
	}
	if username != "" {
		unsub, err := e.remote.WatchUser(ctx, models.NewUserID(username, team), e.onOwnUser(gen))
		if err != nil {
			errs = append(errs, err)
		} else {
			unsubs = append(unsubs, unsub)
		}
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}
		return nil
	}
	e.unsubs = unsubs
	e.cleanup = startTask(e.clock, scoring.CleanupInterval, e.sweepNotifications)
	e.mu.Unlock()

	err = errors.Join(errs...)
	if err != nil {
		log.Error().Err(err).Str("team", team.String()).Msg("failed to subscribe")
	}
	return err
}

// detachLocked bumps the generation, stops both tasks and hands back the
// unsubscribe functions for the caller to run after unlocking
func (e *Engine) detachLocked() []func() {
	e.gen++
	e.focused = false
	old := e.unsubs
	e.unsubs = nil
	e.cleanup.Stop()
	e.cleanup = nil
	e.auto.Stop()
	e.auto = nil
	e.autoKey = autoKey{}
	return old
}

// syncAutoClickerLocked recreates the autoclicker when the owned count,
// team or user changed
func (e *Engine) syncAutoClickerLocked(v View) {
	key := autoKey{team: e.team, username: e.username, owned: v.OwnedUpgrades}
	if key == e.autoKey {
		return
	}
	e.auto.Stop()
	e.auto = nil
	e.autoKey = key

	interval := scoring.AutoClickInterval(key.owned)
	if interval == 0 || key.username == "" || !key.team.Valid() {
		return
	}
	ctx := e.writeCtx
	e.auto = startTask(e.clock, interval, func() {
		e.registerClick(ctx, key.username, key.team)
	})
	log.Debug().Int("owned", key.owned).Dur("interval", interval).Msg("autoclicker scheduled")
}

func (e *Engine) onTeamScore(gen uint64) func(models.TeamScore) {
	return func(ts models.TeamScore) {
		e.mu.Lock()
		if e.gen != gen {
			e.mu.Unlock()
			return
		}
		v := e.store.apply(func(v *View) {
			switch ts.Team {
			case models.TeamBlue:
				v.BlueTotal = ts.Total
			case models.TeamRed:
				v.RedTotal = ts.Total
			}
		})
		e.mu.Unlock()
		e.store.publish(v)
	}
}

func (e *Engine) onRecentUsers(gen uint64) func([]models.UserRecord) {
	return func(users []models.UserRecord) {
		e.mu.Lock()
		if e.gen != gen {
			e.mu.Unlock()
			return
		}
		now := e.clock.Now()
		own := models.NewUserID(e.username, e.team)
		v := e.store.apply(func(v *View) {
			v.Notifications = reconcile(v.Notifications, users, now, e.nextSeqLocked)
			for _, u := range users {
				if e.username != "" && u.ID() == own {
					v.UserTotalClicks = u.TotalClicks
					v.OwnedUpgrades = u.AutoClickersCount
				}
			}
		})
		e.syncAutoClickerLocked(v)
		e.mu.Unlock()
		e.store.publish(v)
	}
}

func (e *Engine) onOwnUser(gen uint64) func(models.UserRecord, bool) {
	return func(rec models.UserRecord, exists bool) {
		e.mu.Lock()
		if e.gen != gen {
			e.mu.Unlock()
			return
		}
		v := e.store.apply(func(v *View) {
			if exists {
				v.UserTotalClicks = rec.TotalClicks
				v.OwnedUpgrades = rec.AutoClickersCount
			} else {
				v.UserTotalClicks = 0
				v.OwnedUpgrades = 0
			}
		})
		e.syncAutoClickerLocked(v)
		e.mu.Unlock()
		e.store.publish(v)
	}
}

func (e *Engine) sweepNotifications() {
	e.mu.Lock()
	if e.cleanup == nil {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	v := e.store.apply(func(v *View) {
		v.Notifications = sweep(v.Notifications, now)
	})
	e.mu.Unlock()
	e.store.publish(v)
}

func (e *Engine) nextSeqLocked() uint64 {
	e.seq++
	return e.seq
}
