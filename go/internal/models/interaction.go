package models

import (
	"time"

	"github.com/google/uuid"
)

// InteractionLogEntry is an append-only audit row, stored under interactions/*
type InteractionLogEntry struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Team      Team      `json:"team"`
	Clicks    int       `json:"clicks"`
	Timestamp time.Time `json:"timestamp"`
}
