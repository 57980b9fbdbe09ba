package twitter

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/archive"
	"github.com/spigell/network-scout/internal/conversation"
	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/platform"
	"github.com/spigell/network-scout/internal/utils"
)

const (
	offsetName = "x_dm"

	defaultPollInterval = time.Minute
	defaultErrorBackoff = 5 * time.Minute
	defaultMaxBackoff   = time.Hour
)

type Handler interface {
	HandleMessage(ctx context.Context, in platform.Inbound) (*conversation.Outcome, error)
}

type dmEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Text      string `json:"text"`
	SenderID  string `json:"sender_id"`
	CreatedAt string `json:"created_at"`
}

type dmEventsResponse struct {
	Data     []dmEvent `json:"data"`
	Includes struct {
		Users []User `json:"users"`
	} `json:"includes"`
}

// Poller feeds inbound direct messages to a handler.
type Poller struct {
	client   *Client
	offsets  archive.Offsets
	interval time.Duration
	backoff  time.Duration
	maxDelay time.Duration
	logger   *zap.Logger
}

func NewPoller(client *Client, offsets archive.Offsets, cfg Config, logger *zap.Logger) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.MaxBackoff < cfg.ErrorBackoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.ErrorBackoff)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		client:   client,
		offsets:  offsets,
		interval: cfg.PollInterval,
		backoff:  cfg.ErrorBackoff,
		maxDelay: cfg.MaxBackoff,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, h Handler) error {
	p.logger.Info("x dm polling started", zap.Duration("interval", p.interval))
	failures := 0
	for {
		if err := p.pollOnce(ctx, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			p.logger.Error("x dm poll failed", zap.Error(err), zap.Int("failures", failures), zap.Duration("backoff", p.nextDelay(failures)))
		} else {
			failures = 0
		}
		delay := p.nextDelay(failures)

		if err := utils.WaitFor(ctx, delay); err != nil {
			p.logger.Info("x dm polling stopped")
			return nil
		}
	}
}

func (p *Poller) nextDelay(failures int) time.Duration {
	if failures == 0 {
		return p.interval
	}
	return utils.Backoff(failures, p.backoff, p.maxDelay)
}

func (p *Poller) pollOnce(ctx context.Context, h Handler) error {
	me, err := p.client.Me(ctx)
	if err != nil {
		return err
	}

	last, err := p.offsets.Offset(ctx, offsetName)
	if err != nil {
		return fmt.Errorf("load offset: %w", err)
	}

	q := url.Values{}
	q.Set("event_types", "MessageCreate")
	q.Set("dm_event.fields", "id,text,sender_id,created_at,event_type")
	q.Set("expansions", "sender_id")
	q.Set("user.fields", "username")
	q.Set("max_results", "100")

	var resp dmEventsResponse
	if err := p.client.getJSON(ctx, p.client.APIURL+"/dm_events", q, &resp); err != nil {
		return fmt.Errorf("list dm events: %w", err)
	}

	handles := make(map[string]string, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		handles[u.ID] = u.Username
	}

	events := newerThan(resp.Data, last)
	for _, ev := range events {
		if ev.SenderID != me && strings.TrimSpace(ev.Text) != "" {
			in := platform.Inbound{
				Platform:  domain.PlatformX,
				UserID:    ev.SenderID,
				Handle:    handles[ev.SenderID],
				MessageID: ev.ID,
				Text:      ev.Text,
			}
			if in.Handle != "" && p.client.ids != nil {
				if err := p.client.ids.SetUserID(ctx, in.Handle, in.UserID); err != nil {
					p.logger.Debug("failed to cache user id", zap.Error(err))
				}
			}
			if _, err := h.HandleMessage(ctx, in); err != nil {
				p.logger.Warn("dm not handled", zap.String("event_id", ev.ID), zap.Error(err))
			}
		}

		if err := p.offsets.SetOffset(ctx, offsetName, ev.ID); err != nil {
			return fmt.Errorf("store offset: %w", err)
		}
	}
	return nil
}

// newerThan returns events after the last seen id in ascending order. X ids are decimal
// snowflakes, so a longer id is always newer.
func newerThan(events []dmEvent, last string) []dmEvent {
	out := make([]dmEvent, 0, len(events))
	for _, ev := range events {
		if ev.EventType != "" && ev.EventType != "MessageCreate" {
			continue
		}
		if last == "" || idLess(last, ev.ID) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
