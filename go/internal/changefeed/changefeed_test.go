package changefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/models"
)

func TestParseNotification(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		payload    string
		collection string
		docID      string
		wantErr    bool
	}{
		{"scores:blue", CollectionScores, "blue", false},
		{"users:al_ice_red", CollectionUsers, "al_ice_red", false},
		{"users:", "", "", true},
		{"interactions:42", "", "", true},
		{"garbage", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := ParseNotification(tt.payload, at)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Collection != tt.collection || got.DocID != tt.docID || !got.At.Equal(at) {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestSubject(t *testing.T) {
	if s := Resync(time.Now()).Subject(); s != "resync" {
		t.Errorf("resync subject = %q", s)
	}
	if s := (Change{Collection: CollectionUsers}).Subject(); s != "users" {
		t.Errorf("users subject = %q", s)
	}
}

type flakyPublisher struct {
	failures int
	calls    int
}

func (f *flakyPublisher) Publish(ctx context.Context, change Change) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("bus unavailable")
	}
	return nil
}

func TestPublishWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{"first try", 0, 1, false},
		{"after two failures", 2, 3, false},
		{"exhausted", 10, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &flakyPublisher{failures: tt.failures}
			err := publishWithRetry(context.Background(), p, Resync(time.Now()), 3, time.Millisecond)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if p.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", p.calls, tt.wantCalls)
			}
		})
	}
}

func TestPublishWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &flakyPublisher{failures: 10}
	err := publishWithRetry(ctx, p, Resync(time.Now()), 3, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1", p.calls)
	}
}

func TestNotifierPublishesAfterWrites(t *testing.T) {
	var got []string
	pub := PublisherFunc(func(ctx context.Context, change Change) error {
		got = append(got, change.Collection+":"+change.DocID)
		return nil
	})
	repo := docstore.NewMemoryStore()
	n := NewNotifier(repo, pub)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := n.RecordClick(ctx, models.Click{Username: "alice", Team: models.TeamBlue, At: time.Now()}); err != nil {
			t.Fatalf("RecordClick: %v", err)
		}
	}
	got = nil

	if err := n.PurchaseUpgrade(ctx, "alice_blue", 0, 100); err != nil {
		t.Fatalf("PurchaseUpgrade: %v", err)
	}
	if err := n.PurchaseUpgrade(ctx, "alice_blue", 0, 100); !errors.Is(err, docstore.ErrPurchaseRejected) {
		t.Fatalf("second PurchaseUpgrade = %v, want rejected", err)
	}
	if err := n.RecordClick(ctx, models.Click{Username: "bob", Team: models.TeamRed, At: time.Now()}); err != nil {
		t.Fatalf("RecordClick: %v", err)
	}

	want := []string{"users:alice_blue", "scores:red", "users:bob_red"}
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNotifierIgnoresPublishFailure(t *testing.T) {
	pub := PublisherFunc(func(ctx context.Context, change Change) error {
		return errors.New("bus down")
	})
	n := NewNotifier(docstore.NewMemoryStore(), pub)
	if err := n.RecordClick(context.Background(), models.Click{Username: "x", Team: models.TeamRed, At: time.Now()}); err != nil {
		t.Errorf("RecordClick = %v, want nil", err)
	}
}
