package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTeam is returned when a team name is neither blue nor red
var ErrInvalidTeam = errors.New("invalid team")

// Team identifies one of the two competing sides
type Team string

const (
	TeamBlue Team = "blue"
	TeamRed  Team = "red"
)

// Teams lists every team in display order
var Teams = []Team{TeamBlue, TeamRed}

// ParseTeam converts a stored or user-supplied value into a Team
func ParseTeam(s string) (Team, error) {
	switch Team(s) {
	case TeamBlue, TeamRed:
		return Team(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTeam, s)
	}
}

// Valid reports whether t is blue or red
func (t Team) Valid() bool {
	return t == TeamBlue || t == TeamRed
}

func (t Team) String() string {
	return string(t)
}

// TeamScore is the running total of a team, stored as scores/{team}
type TeamScore struct {
	Team  Team  `json:"team"`
	Total int64 `json:"total"`
}
