package clicker

import (
	"time"

	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/scoring"
)

// Phase is the animation a notification is playing
type Phase int

const (
	// PhaseNew fades in, holds, then fades out
	PhaseNew Phase = iota
	// PhaseUpdated flashes, holds, then fades out
	PhaseUpdated
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Notification is a live "user X has N recent clicks" entry
type Notification struct {
	ID        models.UserID
	Username  string
	Team      models.Team
	Count     int64
	Timestamp time.Time
	Phase     Phase
	// PhaseStart is when the current animation began
	PhaseStart time.Time

	seq uint64
}

// Expired reports whether the cleanup sweep drops the entry at now
func (n Notification) Expired(now time.Time) bool {
	return now.Sub(n.Timestamp) >= scoring.NotificationDuration+scoring.CleanupMargin
}

// Opacity returns the entry's opacity at now, between 0 and 1
func (n Notification) Opacity(now time.Time) float64 {
	e := now.Sub(n.PhaseStart)
	if e < 0 {
		e = 0
	}

	var hold time.Duration
	switch n.Phase {
	case PhaseUpdated:
		dip := 1 - scoring.FlashOpacity
		if e < scoring.FlashDown {
			return 1 - dip*ratio(e, scoring.FlashDown)
		}
		e -= scoring.FlashDown
		if e < scoring.FlashUp {
			return scoring.FlashOpacity + dip*ratio(e, scoring.FlashUp)
		}
		hold = e - scoring.FlashUp
	default:
		if e < scoring.FadeIn {
			return ratio(e, scoring.FadeIn)
		}
		hold = e - scoring.FadeIn
	}

	if hold < scoring.NotificationDuration {
		return 1
	}
	out := hold - scoring.NotificationDuration
	if out < scoring.FadeOut {
		return 1 - ratio(out, scoring.FadeOut)
	}
	return 0
}

func ratio(d, of time.Duration) float64 {
	return float64(d) / float64(of)
}

// View is the state a screen renders. Version increases with every change.
type View struct {
	Version uint64

	// Ready is false until a team has been selected
	Ready    bool
	Team     models.Team
	Username string

	BlueTotal int64
	RedTotal  int64
	// Score is the selected team's total
	Score int64
	Split scoring.Percentages

	UserTotalClicks  int64
	OwnedUpgrades    int
	NextUpgradePrice int64
	UpgradeUnlocked  bool

	// Notifications are newest first, at most MaxNotifications
	Notifications []Notification
}

// derive recomputes the fields that follow from the raw values
func (v *View) derive() {
	v.Split = scoring.Split(v.BlueTotal, v.RedTotal)
	switch v.Team {
	case models.TeamBlue:
		v.Score = v.BlueTotal
	case models.TeamRed:
		v.Score = v.RedTotal
	default:
		v.Score = 0
	}
	v.NextUpgradePrice = scoring.UpgradePrice(v.OwnedUpgrades)
	v.UpgradeUnlocked = scoring.Unlocked(v.UserTotalClicks, v.OwnedUpgrades)
}

func (v View) clone() View {
	if v.Notifications != nil {
		v.Notifications = append([]Notification(nil), v.Notifications...)
	}
	return v
}
