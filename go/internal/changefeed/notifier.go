package changefeed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/models"
)

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, change Change) error

func (f PublisherFunc) Publish(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// Notifier publishes a change after every successful write to the wrapped
// repository. It stands in for database triggers on stores that have none.
type Notifier struct {
	docstore.Repository
	publisher Publisher
}

var _ docstore.Repository = (*Notifier)(nil)

func NewNotifier(repo docstore.Repository, publisher Publisher) *Notifier {
	return &Notifier{Repository: repo, publisher: publisher}
}

func (n *Notifier) RecordClick(ctx context.Context, click models.Click) error {
	if err := n.Repository.RecordClick(ctx, click); err != nil {
		return err
	}
	n.publish(ctx, CollectionScores, click.Team.String())
	n.publish(ctx, CollectionUsers, models.NewUserID(click.Username, click.Team).String())
	return nil
}

func (n *Notifier) PurchaseUpgrade(ctx context.Context, id models.UserID, expectedOwned int, price int64) error {
	if err := n.Repository.PurchaseUpgrade(ctx, id, expectedOwned, price); err != nil {
		return err
	}
	n.publish(ctx, CollectionUsers, id.String())
	return nil
}

// publish never fails the write; consumers catch up on the next resync
func (n *Notifier) publish(ctx context.Context, collection, docID string) {
	change := Change{ID: uuid.New(), Collection: collection, DocID: docID, At: time.Now().UTC()}
	if err := n.publisher.Publish(ctx, change); err != nil {
		log.Error().
			Err(err).
			Str("collection", collection).
			Str("doc_id", docID).
			Msg("failed to publish change")
	}
}
