// Package github reads the public work of a candidate from the GitHub REST API.
package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiURL    = "https://api.github.com"
	userAgent = "spigell/network-scout"
	// Max value for per_page on the repos endpoint.
	perPage  = 100
	maxPages = 10

	defaultRequestsPerSecond = 1
	defaultReadmes           = 5
)

var (
	ErrNotFound    = errors.New("github: not found")
	ErrRateLimited = errors.New("github: rate limited")
)

type Config struct {
	Token             string  `mapstructure:"token"`
	TokenFile         string  `mapstructure:"token-file"`
	APIURL            string  `mapstructure:"api-url"`
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
	// Readmes is how many of the most recently pushed repositories get their README fetched.
	Readmes int `mapstructure:"readmes"`
}

type Client struct {
	token      string
	logger     *zap.Logger
	limiter    *rate.Limiter
	readmes    int
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(token string, cfg Config, logger *zap.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = apiURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Readmes <= 0 {
		cfg.Readmes = defaultReadmes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		token:   token,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		readmes: cfg.Readmes,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		UserAgent: userAgent,
		APIURL:    strings.TrimSuffix(cfg.APIURL, "/"),
	}
}

type Repository struct {
	Name        string   `json:"name"`
	FullName    string   `json:"full_name"`
	Description string   `json:"description"`
	Fork        bool     `json:"fork"`
	Language    string   `json:"language"`
	Stars       int      `json:"stargazers_count"`
	Topics      []string `json:"topics"`
	PushedAt    string   `json:"pushed_at"`
	HTMLURL     string   `json:"html_url"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
	// Readme is filled by Portfolio.
	Readme string `json:"-"`
}

// Repositories lists the user's own (non-fork) repositories, most recently pushed first.
func (c *Client) Repositories(ctx context.Context, user string) ([]*Repository, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("github: empty username")
	}

	endpoint := fmt.Sprintf("%s/users/%s/repos", c.APIURL, url.PathEscape(user))
	var repos []*Repository
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("page", strconv.Itoa(page))
		q.Set("type", "owner")
		q.Set("sort", "pushed")

		var items []any
		if err := c.getJSON(ctx, endpoint, q, &items); err != nil {
			return nil, err
		}

		var decoded []*Repository
		if err := decode(items, &decoded); err != nil {
			return nil, fmt.Errorf("decode repositories: %w", err)
		}
		for _, r := range decoded {
			if !r.Fork {
				repos = append(repos, r)
			}
		}

		c.logger.Debug("got repositories page", zap.String("user", user), zap.Int("page", page), zap.Int("items", len(items)))
		if len(items) < perPage {
			break
		}
	}

	sort.SliceStable(repos, func(i, j int) bool { return repos[i].PushedAt > repos[j].PushedAt })
	return repos, nil
}

type contentResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Readme returns the decoded README of a repository. A missing README is not an error.
func (c *Client) Readme(ctx context.Context, owner, repo string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/readme", c.APIURL, url.PathEscape(owner), url.PathEscape(repo))

	var raw any
	err := c.getJSON(ctx, endpoint, nil, &raw)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var content contentResponse
	if err := decode(raw, &content); err != nil {
		return "", fmt.Errorf("decode readme: %w", err)
	}
	if content.Encoding != "base64" {
		return content.Content, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode readme content: %w", err)
	}
	return string(data), nil
}

// Portfolio lists the user's repositories and attaches READMEs to the most recent ones.
func (c *Client) Portfolio(ctx context.Context, user string) ([]*Repository, error) {
	repos, err := c.Repositories(ctx, user)
	if err != nil {
		return nil, err
	}

	for i, r := range repos {
		if i >= c.readmes {
			break
		}
		owner := r.Owner.Login
		if owner == "" {
			owner = user
		}
		readme, err := c.Readme(ctx, owner, r.Name)
		if err != nil {
			c.logger.Warn("failed to fetch readme", zap.String("repo", r.FullName), zap.Error(err))
			continue
		}
		r.Readme = readme
	}
	return repos, nil
}

func decode(input, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
