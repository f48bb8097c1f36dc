// Package search talks to the twitterapi.io search API and normalizes its
// results into domain tweets.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pulsefeed/internal/model"
)

const defaultBaseURL = "https://api.twitterapi.io"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Page is one page of search results plus the cursor for the next one.
type Page struct {
	Tweets     []model.Tweet
	HasNext    bool
	NextCursor string
}

// Client is a thin wrapper over the twitterapi.io HTTP API.
type Client struct {
	client  HTTPClient
	baseURL string
	apiKey  string
	timeout time.Duration
}

// NewClient creates a Client with the given HTTP client and API key.
func NewClient(client HTTPClient, apiKey string) *Client {
	return &Client{
		client:  client,
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		timeout: 30 * time.Second,
	}
}

// SetBaseURL overrides the API endpoint (useful for testing).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// AdvancedSearch runs one page of an advanced tweet search.
func (c *Client) AdvancedSearch(ctx context.Context, query, cursor string) (*Page, error) {
	return c.fetchPage(ctx, "/twitter/tweet/advanced_search", url.Values{
		"query":     {query},
		"queryType": {"Latest"},
		"cursor":    {cursor},
	})
}

// UserLastTweets returns one page of a user's recent timeline.
func (c *Client) UserLastTweets(ctx context.Context, userName string, includeReplies bool, cursor string) (*Page, error) {
	return c.fetchPage(ctx, "/twitter/user/last_tweets", url.Values{
		"userName":       {userName},
		"includeReplies": {fmt.Sprintf("%t", includeReplies)},
		"cursor":         {cursor},
	})
}

type apiTweet struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
	URL       string `json:"url"`
	IsReply   bool   `json:"isReply"`
	Author    struct {
		UserName  string `json:"userName"`
		ID        string `json:"id"`
		Followers int    `json:"followers"`
	} `json:"author"`
	LikeCount    int `json:"likeCount"`
	RetweetCount int `json:"retweetCount"`
	ReplyCount   int `json:"replyCount"`
}

type apiResponse struct {
	Tweets      []apiTweet `json:"tweets"`
	HasNextPage bool       `json:"has_next_page"`
	NextCursor  string     `json:"next_cursor"`
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	Msg         string     `json:"msg"`
}

// createdAtLayout matches the provider's tweet timestamps
// (Twitter's legacy format, e.g. "Mon Jan 02 15:04:05 +0000 2006").
const createdAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

func (c *Client) fetchPage(ctx context.Context, endpoint string, params url.Values) (*Page, error) {
	reqURL := c.baseURL + endpoint + "?" + params.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, permanentErr(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transientErr(fmt.Errorf("http get: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, rateLimitedErr(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, transientErr(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, permanentErr(fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, transientErr(fmt.Errorf("read body: %w", err))
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, transientErr(fmt.Errorf("parse response: %w", err))
	}

	if parsed.Status != "" && parsed.Status != "success" {
		msg := parsed.Message
		if msg == "" {
			msg = parsed.Msg
		}
		return nil, permanentErr(fmt.Errorf("api status %q: %s", parsed.Status, msg))
	}

	page := &Page{
		HasNext:    parsed.HasNextPage,
		NextCursor: parsed.NextCursor,
	}
	for _, t := range parsed.Tweets {
		page.Tweets = append(page.Tweets, normalizeTweet(t))
	}
	return page, nil
}

func normalizeTweet(t apiTweet) model.Tweet {
	tweet := model.Tweet{
		ID:              t.ID,
		Text:            t.Text,
		Author:          t.Author.UserName,
		AuthorID:        t.Author.ID,
		AuthorFollowers: t.Author.Followers,
		URL:             t.URL,
		IsReply:         t.IsReply,
		LikeCount:       t.LikeCount,
		RetweetCount:    t.RetweetCount,
		ReplyCount:      t.ReplyCount,
	}
	if tweet.URL == "" && tweet.Author != "" {
		tweet.URL = fmt.Sprintf("https://twitter.com/%s/status/%s", tweet.Author, tweet.ID)
	}
	if t.CreatedAt != "" {
		if ts, err := time.Parse(createdAtLayout, t.CreatedAt); err == nil {
			tweet.CreatedAt = ts.UTC()
		}
	}
	return tweet
}
