package search

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/h2non/gock"

	"pulsefeed/internal/model"
)

const testBaseURL = "https://search.test"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	t.Cleanup(gock.Off)

	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)

	c := NewClient(httpClient, "test-key")
	c.SetBaseURL(testBaseURL)
	return c
}

func loadFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("../../testdata/search_page.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func TestAdvancedSearch(t *testing.T) {
	client := newTestClient(t)

	gock.New(testBaseURL).
		Get("/twitter/tweet/advanced_search").
		MatchParam("query", "golang").
		MatchHeader("X-API-Key", "test-key").
		Reply(200).
		BodyString(string(loadFixture(t)))

	page, err := client.AdvancedSearch(context.Background(), "golang", "")
	if err != nil {
		t.Fatalf("advanced search: %v", err)
	}

	if diff := cmp.Diff(3, len(page.Tweets)); diff != "" {
		t.Fatalf("tweet count mismatch (-want +got):\n%s", diff)
	}
	if page.HasNext {
		t.Error("expected no next page")
	}

	want := model.Tweet{
		ID:              "1001",
		Text:            "Shipping a new release of our Go service today",
		Author:          "gopher_dev",
		AuthorID:        "501",
		AuthorFollowers: 5200,
		URL:             "https://twitter.com/gopher_dev/status/1001",
		CreatedAt:       time.Date(2025, 9, 1, 10, 15, 0, 0, time.UTC),
		LikeCount:       14,
		RetweetCount:    3,
		ReplyCount:      2,
	}
	if diff := cmp.Diff(want, page.Tweets[0]); diff != "" {
		t.Errorf("tweet mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingURLSynthesized(t *testing.T) {
	client := newTestClient(t)

	gock.New(testBaseURL).
		Get("/twitter/tweet/advanced_search").
		Reply(200).
		BodyString(string(loadFixture(t)))

	page, err := client.AdvancedSearch(context.Background(), "golang", "")
	if err != nil {
		t.Fatalf("advanced search: %v", err)
	}

	// Tweet 1002 has no url in the fixture.
	want := "https://twitter.com/hot_takes/status/1002"
	if diff := cmp.Diff(want, page.Tweets[1].URL); diff != "" {
		t.Errorf("url mismatch (-want +got):\n%s", diff)
	}
}

func TestUserLastTweets(t *testing.T) {
	client := newTestClient(t)

	gock.New(testBaseURL).
		Get("/twitter/user/last_tweets").
		MatchParam("userName", "gopher_dev").
		MatchParam("includeReplies", "true").
		Reply(200).
		BodyString(string(loadFixture(t)))

	page, err := client.UserLastTweets(context.Background(), "gopher_dev", true, "")
	if err != nil {
		t.Fatalf("user last tweets: %v", err)
	}
	if len(page.Tweets) != 3 {
		t.Errorf("expected 3 tweets, got %d", len(page.Tweets))
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"rate limited", 429, KindRateLimited},
		{"server error", 500, KindTransient},
		{"bad gateway", 502, KindTransient},
		{"bad request", 400, KindPermanent},
		{"unauthorized", 401, KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t)

			gock.New(testBaseURL).
				Get("/twitter/tweet/advanced_search").
				Reply(tt.status)

			_, err := client.AdvancedSearch(context.Background(), "golang", "")
			if err == nil {
				t.Fatal("expected error")
			}
			if diff := cmp.Diff(tt.want, KindOf(err)); diff != "" {
				t.Errorf("kind mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAPILevelErrorIsPermanent(t *testing.T) {
	client := newTestClient(t)

	gock.New(testBaseURL).
		Get("/twitter/tweet/advanced_search").
		Reply(200).
		BodyString(`{"tweets": [], "status": "error", "msg": "invalid query syntax"}`)

	_, err := client.AdvancedSearch(context.Background(), "((broken", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff(KindPermanent, KindOf(err)); diff != "" {
		t.Errorf("kind mismatch (-want +got):\n%s", diff)
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	client := newTestClient(t)

	gock.New(testBaseURL).
		Get("/twitter/tweet/advanced_search").
		ReplyError(context.DeadlineExceeded)

	_, err := client.AdvancedSearch(context.Background(), "golang", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff(KindTransient, KindOf(err)); diff != "" {
		t.Errorf("kind mismatch (-want +got):\n%s", diff)
	}
}
