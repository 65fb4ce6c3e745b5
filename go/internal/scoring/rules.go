// Package scoring holds the click game's rules: click series, upgrade
// pricing, the team split and autoclicker cadence.
package scoring

import (
	"errors"
	"math"
	"time"

	"github.com/mcdev12/teamclicker/go/internal/models"
)

const (
	// SeriesBreak is the idle gap after which a click starts a new series
	SeriesBreak = 30 * time.Second
	// RecencyWindow is how old a user's last click may be to show a notification
	RecencyWindow = 30 * time.Second

	UpgradeUnlockThreshold int64 = 100
	UpgradeGrowth                = 1.5

	AutoClickBaseInterval = time.Second
	AutoClickFloor        = 100 * time.Millisecond

	MaxNotifications     = 5
	NotificationDuration = 5 * time.Second
	CleanupMargin        = time.Second
	CleanupInterval      = 10 * time.Second

	// Notification fade timeline
	FadeIn    = 300 * time.Millisecond
	FadeOut   = 300 * time.Millisecond
	FlashDown = 100 * time.Millisecond
	FlashUp   = 100 * time.Millisecond
	// FlashOpacity is the dip reached by an updated notification's flash
	FlashOpacity = 0.5

	// RecentUsersLimit bounds the recent-users subscription query
	RecentUsersLimit = MaxNotifications * 2
)

var (
	ErrInsufficientClicks = errors.New("not enough clicks for the next upgrade")
	ErrUpgradeLocked      = errors.New("upgrades are not unlocked yet")
)

// ApplyClick returns the user record after one click at now. A nil prev
// creates the record.
func ApplyClick(prev *models.UserRecord, username string, team models.Team, now time.Time) models.UserRecord {
	if prev == nil {
		return models.UserRecord{
			Username:            username,
			Team:                team,
			TotalClicks:         1,
			LastClicked:         now,
			RecentClicks:        1,
			LastSeriesTimestamp: now,
		}
	}

	next := *prev
	if now.Sub(prev.LastClicked) > SeriesBreak {
		next.RecentClicks = 1
		next.LastSeriesTimestamp = now
	} else {
		next.RecentClicks++
	}
	next.TotalClicks++
	next.LastClicked = now
	return next
}

// UpgradePrice is floor(threshold * growth^owned)
func UpgradePrice(owned int) int64 {
	return int64(math.Floor(float64(UpgradeUnlockThreshold) * math.Pow(UpgradeGrowth, float64(owned))))
}

// CheckPurchase returns the price of the next upgrade, or why it cannot be
// bought. The unlock gate only differs from the price gate if the price
// formula changes; with owned == 0 both compare against the threshold.
func CheckPurchase(totalClicks int64, owned int) (int64, error) {
	price := UpgradePrice(owned)
	if totalClicks < price {
		return price, ErrInsufficientClicks
	}
	if owned == 0 && totalClicks < UpgradeUnlockThreshold {
		return price, ErrUpgradeLocked
	}
	return price, nil
}

// Unlocked reports whether the upgrade shop should be shown
func Unlocked(totalClicks int64, owned int) bool {
	return owned > 0 || totalClicks >= UpgradeUnlockThreshold
}

// Percentages is the share of the combined score held by each team
type Percentages struct {
	Blue float64 `json:"blue"`
	Red  float64 `json:"red"`
}

// Split computes the blue/red share. With no clicks at all both sides show 50.
func Split(blue, red int64) Percentages {
	total := blue + red
	if total == 0 {
		return Percentages{Blue: 50, Red: 50}
	}
	b := float64(blue) / float64(total) * 100
	return Percentages{Blue: b, Red: 100 - b}
}

// AutoClickInterval is the repeat cadence for owned autoclickers; zero when
// none are owned.
func AutoClickInterval(owned int) time.Duration {
	if owned <= 0 {
		return 0
	}
	d := AutoClickBaseInterval / time.Duration(owned)
	if d < AutoClickFloor {
		return AutoClickFloor
	}
	return d
}
