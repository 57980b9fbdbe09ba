// Package archive keeps the per-candidate chat log and the small pieces of transient state
// (de-duplication keys, polling offsets, user-id lookups) that live next to it.
package archive

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/network-scout/internal/domain"
)

// Archive is the append-only conversation log.
type Archive interface {
	Append(ctx context.Context, platformID string, msg domain.Message) (domain.Message, error)
	// Recent returns up to n most recent messages, oldest first.
	Recent(ctx context.Context, platformID string, n int) ([]domain.Message, error)
	All(ctx context.Context, platformID string) ([]domain.Message, error)
}

// Dedup remembers keys for a bounded window.
type Dedup interface {
	// Seen records key and reports whether it had already been recorded within window.
	Seen(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Offsets persists polling cursors.
type Offsets interface {
	Offset(ctx context.Context, name string) (string, error)
	SetOffset(ctx context.Context, name, value string) error
}

// UserIDCache maps platform handles to numeric user ids.
type UserIDCache interface {
	UserID(ctx context.Context, handle string) (string, bool, error)
	SetUserID(ctx context.Context, handle, id string) error
}

// Backend is everything the bot keeps in Redis.
type Backend interface {
	Archive
	Dedup
	Offsets
	UserIDCache
	Close() error
}

var (
	now   = time.Now
	newID = func() string { return uuid.NewString() }
)

func stamp(msg domain.Message) domain.Message {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now().UTC()
	}
	return msg
}

func cacheHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
