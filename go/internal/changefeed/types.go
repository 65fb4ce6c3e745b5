// Package changefeed relays document change notifications from Postgres to
// the message bus so push gateways can refresh their subscribers.
package changefeed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CollectionScores = "scores"
	CollectionUsers  = "users"
	// CollectionAll asks consumers to refresh every topic they serve
	CollectionAll = "*"
)

// Change names one document that was written
type Change struct {
	ID         uuid.UUID `json:"id"`
	Collection string    `json:"collection"`
	DocID      string    `json:"docId"`
	At         time.Time `json:"at"`
}

// Resync builds the change published when notifications may have been missed
func Resync(at time.Time) Change {
	return Change{ID: uuid.New(), Collection: CollectionAll, At: at}
}

// ParseNotification parses a "collection:docid" notify payload
func ParseNotification(payload string, at time.Time) (Change, error) {
	collection, docID, ok := strings.Cut(payload, ":")
	if !ok || docID == "" {
		return Change{}, fmt.Errorf("malformed change payload %q", payload)
	}
	switch collection {
	case CollectionScores, CollectionUsers:
	default:
		return Change{}, fmt.Errorf("unknown collection %q", collection)
	}
	return Change{ID: uuid.New(), Collection: collection, DocID: docID, At: at}, nil
}

// Subject is the bus subject suffix for the change
func (c Change) Subject() string {
	if c.Collection == CollectionAll {
		return "resync"
	}
	return c.Collection
}

// Publisher hands a change to the bus
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}
