// Package twitter talks to the X API v2: profile lookups for seeding and direct messages.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/network-scout/internal/archive"
	"github.com/spigell/network-scout/internal/domain"
)

const (
	apiURL    = "https://api.x.com/2"
	userAgent = "spigell/network-scout"

	defaultRequestsPerSecond = 0.5
	defaultRecentPosts       = 10
)

var (
	ErrNotFound    = errors.New("x: not found")
	ErrRateLimited = errors.New("x: rate limited")
)

type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	Token             string        `mapstructure:"token"`
	TokenFile         string        `mapstructure:"token-file"`
	APIURL            string        `mapstructure:"api-url"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
	RecentPosts       int           `mapstructure:"recent-posts"`
	PollInterval      time.Duration `mapstructure:"poll-interval"`
	ErrorBackoff      time.Duration `mapstructure:"error-backoff"`
	MaxBackoff        time.Duration `mapstructure:"max-backoff"`
}

type Client struct {
	token       string
	logger      *zap.Logger
	limiter     *rate.Limiter
	ids         archive.UserIDCache
	recentPosts int

	mu sync.Mutex
	me string

	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(token string, cfg Config, ids archive.UserIDCache, logger *zap.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = apiURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.RecentPosts <= 0 {
		cfg.RecentPosts = defaultRecentPosts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		token:       token,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		ids:         ids,
		recentPosts: cfg.RecentPosts,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		UserAgent: userAgent,
		APIURL:    strings.TrimSuffix(cfg.APIURL, "/"),
	}
}

type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Username    string `json:"username"`
	Description string `json:"description"`
}

type Post struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Profile is what seeding knows about a person before the first message.
type Profile struct {
	User  User
	Posts []Post
}

type userResponse struct {
	Data User `json:"data"`
}

type postsResponse struct {
	Data []Post `json:"data"`
}

// LookupUser resolves a handle and caches its user id.
func (c *Client) LookupUser(ctx context.Context, handle string) (*User, error) {
	handle = domain.NormalizeHandle(handle)
	if handle == "" {
		return nil, fmt.Errorf("x: empty handle")
	}

	q := url.Values{}
	q.Set("user.fields", "description")

	var resp userResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/users/by/username/%s", c.APIURL, url.PathEscape(handle)), q, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("user %s: %w", handle, ErrNotFound)
	}

	if c.ids != nil {
		if err := c.ids.SetUserID(ctx, handle, resp.Data.ID); err != nil {
			c.logger.Warn("failed to cache user id", zap.String("handle", handle), zap.Error(err))
		}
	}
	return &resp.Data, nil
}

// UserID returns the cached id for handle, looking it up on a miss.
func (c *Client) UserID(ctx context.Context, handle string) (string, error) {
	if c.ids != nil {
		id, ok, err := c.ids.UserID(ctx, handle)
		if err != nil {
			c.logger.Warn("user id cache unavailable", zap.Error(err))
		}
		if ok {
			return id, nil
		}
	}

	u, err := c.LookupUser(ctx, handle)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// Profile loads the bio and recent original posts of a handle.
func (c *Client) Profile(ctx context.Context, handle string) (*Profile, error) {
	u, err := c.LookupUser(ctx, handle)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("max_results", strconv.Itoa(max(c.recentPosts, 5)))
	q.Set("exclude", "retweets,replies")

	var resp postsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/users/%s/tweets", c.APIURL, url.PathEscape(u.ID)), q, &resp); err != nil {
		return nil, fmt.Errorf("recent posts: %w", err)
	}

	posts := resp.Data
	if len(posts) > c.recentPosts {
		posts = posts[:c.recentPosts]
	}
	return &Profile{User: *u, Posts: posts}, nil
}

// Send delivers a direct message. A 403 from X maps to platform.ErrPermission.
func (c *Client) Send(ctx context.Context, cand *domain.Candidate, text string) error {
	handle := cand.Handle
	if handle == "" {
		handle = strings.TrimPrefix(cand.PlatformID, domain.PlatformX+":")
	}

	id, err := c.UserID(ctx, handle)
	if err != nil {
		return err
	}

	body := map[string]string{"text": text}
	endpoint := fmt.Sprintf("%s/dm_conversations/with/%s/messages", c.APIURL, url.PathEscape(id))
	if err := c.postJSON(ctx, endpoint, body, nil); err != nil {
		return fmt.Errorf("x send: %w", err)
	}
	return nil
}

// Me returns the authenticated account id.
func (c *Client) Me(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.me != "" {
		return c.me, nil
	}

	var resp userResponse
	if err := c.getJSON(ctx, c.APIURL+"/users/me", nil, &resp); err != nil {
		return "", fmt.Errorf("resolve own account: %w", err)
	}
	c.me = resp.Data.ID
	return c.me, nil
}
