package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserID is the composite document key of a user record: username_team.
// The same username on the other team is a different record.
type UserID string

// NewUserID builds the document key for a (username, team) pair
func NewUserID(username string, team Team) UserID {
	return UserID(username + "_" + string(team))
}

// Split recovers username and team from the key. Usernames may contain
// underscores so the team is taken from the last segment.
func (id UserID) Split() (string, Team, bool) {
	i := strings.LastIndex(string(id), "_")
	if i <= 0 {
		return "", "", false
	}
	team := Team(id[i+1:])
	if !team.Valid() {
		return "", "", false
	}
	return string(id[:i]), team, true
}

func (id UserID) String() string {
	return string(id)
}

// UserRecord is a player's per-team click state, stored as users/{username_team}
type UserRecord struct {
	Username            string    `json:"username"`
	Team                Team      `json:"team"`
	TotalClicks         int64     `json:"totalClicks"`
	LastClicked         time.Time `json:"lastClicked"`
	RecentClicks        int64     `json:"recentClicks"`
	LastSeriesTimestamp time.Time `json:"lastSeriesTimestamp"`
	AutoClickersCount   int       `json:"autoClickersCount"`
}

// ID returns the document key of the record
func (u UserRecord) ID() UserID {
	return NewUserID(u.Username, u.Team)
}

// Click is a single registered tap by a user for a team
type Click struct {
	Username string    `json:"username"`
	Team     Team      `json:"team"`
	At       time.Time `json:"at"`
}

// MaxUsernameLength bounds a username in bytes. Document keys and topics
// embed the name, and change notifications carry the key.
const MaxUsernameLength = 2048

var (
	ErrEmptyUsername   = errors.New("username is empty")
	ErrUsernameTooLong = fmt.Errorf("username longer than %d bytes", MaxUsernameLength)
)

// ValidateUsername checks an already trimmed username
func ValidateUsername(name string) error {
	if name == "" {
		return ErrEmptyUsername
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	return nil
}
