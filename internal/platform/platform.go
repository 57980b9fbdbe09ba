// Package platform holds what the chat adapters share: the inbound message shape,
// the outbound sender contract and the delivery error taxonomy.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/network-scout/internal/domain"
)

// ErrPermission means the platform refused delivery (blocked bot, closed DMs).
var ErrPermission = errors.New("platform refused delivery")

// Inbound is a user message normalized across platforms.
type Inbound struct {
	Platform    string
	UserID      string
	ChatID      int64
	Handle      string
	DisplayName string
	MessageID   string
	Text        string
}

// PlatformID is the candidate key for the sender of the message.
func (in Inbound) PlatformID() string {
	if in.Platform == domain.PlatformX && in.Handle != "" {
		return domain.PlatformID(in.Platform, domain.NormalizeHandle(in.Handle))
	}
	return domain.PlatformID(in.Platform, in.UserID)
}

// DedupKey identifies the message for de-duplication.
func (in Inbound) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s", in.Platform, in.UserID, in.MessageID)
}

// Sender delivers a message to a candidate.
type Sender interface {
	Send(ctx context.Context, c *domain.Candidate, text string) error
}

// Router dispatches to the sender registered for the candidate's platform.
type Router map[string]Sender

func (r Router) Send(ctx context.Context, c *domain.Candidate, text string) error {
	s, ok := r[c.Platform]
	if !ok || s == nil {
		return fmt.Errorf("no sender for platform %q", c.Platform)
	}
	return s.Send(ctx, c, text)
}
