package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pulsefeed/internal/model"
)

// Adapter turns a monitor rule into the provider calls it needs and
// normalizes the result: one "fetch everything since T" operation,
// regardless of rule kind. It holds no state between calls.
type Adapter struct {
	client   *Client
	maxPages int
}

// NewAdapter creates an Adapter over the given client. Pagination is capped
// at maxPages per fetch to bound latency and API spend.
func NewAdapter(client *Client, maxPages int) *Adapter {
	if maxPages < 1 {
		maxPages = 1
	}
	return &Adapter{client: client, maxPages: maxPages}
}

// Fetch returns tweets matching the rule that were created strictly after
// since. The since filter is pushed into the query where the provider
// supports it and always enforced client-side as well, so a tweet older
// than since is never returned. Duplicate ids within one fetch are dropped.
func (a *Adapter) Fetch(ctx context.Context, rule *model.Rule, since time.Time) ([]model.Tweet, error) {
	var (
		tweets []model.Tweet
		err    error
	)
	switch rule.Kind {
	case model.KindKeyword:
		tweets, err = a.searchPages(ctx, keywordQuery(rule.Query, since))
	case model.KindAccount:
		tweets, err = a.timelinePages(ctx, strings.TrimPrefix(rule.Query, "@"), rule.IncludeReplies)
	case model.KindAdvanced:
		tweets, err = a.searchPages(ctx, advancedQuery(rule.Query, since))
	default:
		return nil, permanentErr(fmt.Errorf("unknown rule kind %q", rule.Kind))
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(tweets))
	kept := tweets[:0]
	for _, t := range tweets {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		if !t.CreatedAt.IsZero() && !t.CreatedAt.After(since) {
			continue
		}
		kept = append(kept, t)
	}
	return kept, nil
}

func (a *Adapter) searchPages(ctx context.Context, query string) ([]model.Tweet, error) {
	var all []model.Tweet
	cursor := ""
	for page := 0; page < a.maxPages; page++ {
		p, err := a.client.AdvancedSearch(ctx, query, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Tweets...)
		if !p.HasNext || p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	return all, nil
}

func (a *Adapter) timelinePages(ctx context.Context, userName string, includeReplies bool) ([]model.Tweet, error) {
	var all []model.Tweet
	cursor := ""
	for page := 0; page < a.maxPages; page++ {
		p, err := a.client.UserLastTweets(ctx, userName, includeReplies, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Tweets...)
		if !p.HasNext || p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	return all, nil
}

func keywordQuery(keyword string, since time.Time) string {
	return fmt.Sprintf("%s since:%s", keyword, formatSearchTime(since))
}

func advancedQuery(query string, since time.Time) string {
	if strings.Contains(query, "since:") {
		return query
	}
	return fmt.Sprintf("%s since:%s", query, formatSearchTime(since))
}

// formatSearchTime renders a timestamp in the provider's search syntax,
// e.g. "2026-01-02_15:04:05_UTC".
func formatSearchTime(t time.Time) string {
	return t.UTC().Format("2006-01-02_15:04:05") + "_UTC"
}
