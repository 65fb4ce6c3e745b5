package clicker

import (
	"sort"
	"time"

	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/scoring"
)

// reconcile merges a recent-users snapshot into the current notifications.
// Users who clicked within the recency window are added as new or, when their
// count or timestamp moved, restarted as updated. Entries not refreshed by
// the snapshot stay only while still inside the display window.
func reconcile(current []Notification, users []models.UserRecord, now time.Time, nextSeq func() uint64) []Notification {
	byID := make(map[models.UserID]Notification, len(current)+len(users))
	for _, n := range current {
		byID[n.ID] = n
	}

	refreshed := make(map[models.UserID]bool, len(users))
	for _, u := range users {
		if now.Sub(u.LastClicked) >= scoring.RecencyWindow {
			continue
		}
		id := u.ID()
		n, ok := byID[id]
		switch {
		case !ok:
			n = Notification{ID: id, Phase: PhaseNew, PhaseStart: now, seq: nextSeq()}
		case n.Count != u.RecentClicks || !n.Timestamp.Equal(u.LastClicked):
			n.Phase = PhaseUpdated
			n.PhaseStart = now
		}
		n.Username = u.Username
		n.Team = u.Team
		n.Count = u.RecentClicks
		n.Timestamp = u.LastClicked
		byID[id] = n
		refreshed[id] = true
	}

	out := make([]Notification, 0, len(byID))
	for id, n := range byID {
		if refreshed[id] || now.Sub(n.Timestamp) <= scoring.NotificationDuration {
			out = append(out, n)
		}
	}
	return capNotifications(out)
}

// sweep drops entries older than the display duration plus margin
func sweep(current []Notification, now time.Time) []Notification {
	out := make([]Notification, 0, len(current))
	for _, n := range current {
		if !n.Expired(now) {
			out = append(out, n)
		}
	}
	return out
}

func capNotifications(ns []Notification) []Notification {
	sort.Slice(ns, func(i, j int) bool {
		if !ns[i].Timestamp.Equal(ns[j].Timestamp) {
			return ns[i].Timestamp.After(ns[j].Timestamp)
		}
		return ns[i].seq < ns[j].seq
	})
	if len(ns) > scoring.MaxNotifications {
		ns = ns[:scoring.MaxNotifications]
	}
	return ns
}
