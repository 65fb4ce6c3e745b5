package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/teamclicker/go/internal/models"
)

// Topic names a document or query a client can subscribe to:
// scores/<team>, users/recent or users/<username_team>
type Topic string

const TopicRecentUsers Topic = "users/recent"

var ErrUnknownTopic = errors.New("unknown topic")

func ScoreTopic(team models.Team) Topic {
	return Topic("scores/" + team.String())
}

func UserTopic(id models.UserID) Topic {
	return Topic("users/" + id.String())
}

// ParseTopic validates a topic sent by a client
func ParseTopic(s string) (Topic, error) {
	collection, rest, ok := strings.Cut(s, "/")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, s)
	}
	switch collection {
	case "scores":
		if _, err := models.ParseTeam(rest); err != nil {
			return "", fmt.Errorf("%w: %q", ErrUnknownTopic, s)
		}
	case "users":
		if rest == "recent" {
			break
		}
		name, _, ok := models.UserID(rest).Split()
		if !ok || len(name) > models.MaxUsernameLength {
			return "", fmt.Errorf("%w: %q", ErrUnknownTopic, s)
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, s)
	}
	return Topic(s), nil
}

// SnapshotKind tells the client which payload field is set
type SnapshotKind string

const (
	KindScore       SnapshotKind = "score"
	KindRecentUsers SnapshotKind = "recent_users"
	KindUser        SnapshotKind = "user"
	KindError       SnapshotKind = "error"
)

// Snapshot is the full current value of a topic pushed to subscribers
type Snapshot struct {
	Topic  Topic               `json:"topic"`
	Kind   SnapshotKind        `json:"kind"`
	Score  *models.TeamScore   `json:"score,omitempty"`
	Users  []models.UserRecord `json:"users,omitempty"`
	User   *models.UserRecord  `json:"user,omitempty"`
	Exists bool                `json:"exists"`
	Error  string              `json:"error,omitempty"`
	SentAt time.Time           `json:"sent_at"`
}

// Client actions
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// ClientMessage is what a client sends over the socket
type ClientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}
