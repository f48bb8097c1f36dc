// Package filter implements rule-level result filtering and match attribution.
package filter

import (
	"strings"

	"pulsefeed/internal/model"
)

// Apply returns the tweets that pass the rule's own filters: the minimum
// follower threshold and the reply-inclusion flag. The upstream query has
// already done the matching; this only trims the result set.
func Apply(tweets []model.Tweet, rule *model.Rule) []model.Tweet {
	var kept []model.Tweet
	for _, t := range tweets {
		if rule.MinFollowers > 0 && t.AuthorFollowers < rule.MinFollowers {
			continue
		}
		if t.IsReply && !rule.IncludeReplies {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// MatchedFragment reports which part of the rule's expression a tweet
// matched, for hit attribution. For keyword rules it is the first query
// term present in the tweet text; account rules attribute the handle;
// advanced rules fall back to the first recognizable bare term.
func MatchedFragment(rule *model.Rule, tweet model.Tweet) string {
	switch rule.Kind {
	case model.KindAccount:
		return "@" + strings.TrimPrefix(rule.Query, "@")
	case model.KindKeyword, model.KindAdvanced:
		if term := firstTermIn(rule.Query, tweet.Text); term != "" {
			return term
		}
		return rule.Query
	}
	return rule.Query
}

// firstTermIn returns the first whitespace-separated term of expr found in
// text, ignoring case and skipping search operators like "since:" or "-foo".
func firstTermIn(expr, text string) string {
	lower := strings.ToLower(text)
	for _, term := range strings.Fields(expr) {
		clean := strings.Trim(term, `"()`)
		if clean == "" || strings.Contains(clean, ":") || strings.HasPrefix(clean, "-") {
			continue
		}
		if strings.Contains(lower, strings.ToLower(clean)) {
			return clean
		}
	}
	return ""
}
