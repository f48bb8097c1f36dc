package notify

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"pulsefeed/internal/model"
)

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello world", want: "hello world"},
		{name: "underscore and star", in: "go_lang *fast*", want: `go\_lang \*fast\*`},
		{name: "punctuation", in: "v1.2 done!", want: `v1\.2 done\!`},
		{name: "brackets", in: "[link](url)", want: `\[link\]\(url\)`},
		{name: "backslash", in: `a\b`, want: `a\\b`},
		{name: "unicode untouched", in: "héllo 🚨", want: "héllo 🚨"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, EscapeMarkdown(tc.in)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatHit(t *testing.T) {
	hit := &model.Hit{
		Author:         "eng_blog",
		Text:           "New release v1.0!",
		MatchedKeyword: "release",
		LikeCount:      3,
		RetweetCount:   1,
		ReplyCount:     2,
	}
	got := FormatHit(hit)

	for _, want := range []string{
		"🚨 *New match*",
		"Matched: `release`",
		`From: @eng\_blog`,
		`New release v1\.0\!`,
		"❤️ 3  🔁 1  💬 2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("message missing %q:\n%s", want, got)
		}
	}
}

func TestFormatHitTruncatesLongText(t *testing.T) {
	hit := &model.Hit{
		Author: "verbose",
		Text:   strings.Repeat("a", 600),
	}
	got := FormatHit(hit)
	if !strings.Contains(got, strings.Repeat("a", 500)+`\.\.\.`) {
		t.Errorf("expected truncated text with ellipsis:\n%s", got)
	}
	if strings.Contains(got, strings.Repeat("a", 501)) {
		t.Errorf("text not truncated at 500 characters")
	}
}

func TestFormatHitTruncatesOnRuneBoundary(t *testing.T) {
	// 498 ASCII bytes followed by a 3-byte rune straddling the cut point.
	hit := &model.Hit{
		Author: "verbose",
		Text:   strings.Repeat("a", 498) + strings.Repeat("日", 20),
	}
	got := FormatHit(hit)
	if strings.ContainsRune(got, utf8.RuneError) {
		t.Errorf("truncation split a rune:\n%s", got)
	}
	if !strings.Contains(got, `\.\.\.`) {
		t.Errorf("expected ellipsis after truncation:\n%s", got)
	}
}

func TestFormatHitOmitsEmptySections(t *testing.T) {
	hit := &model.Hit{Author: "someone", Text: "short"}
	got := FormatHit(hit)
	if strings.Contains(got, "Matched:") {
		t.Errorf("empty keyword must not be rendered:\n%s", got)
	}
	if strings.Contains(got, "❤️") {
		t.Errorf("zero stats must not be rendered:\n%s", got)
	}
}

func TestFormatLowCredit(t *testing.T) {
	got := FormatLowCredit("AI news", 0)
	if !strings.Contains(got, "Monitoring paused") {
		t.Errorf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "AI news") {
		t.Errorf("missing rule name:\n%s", got)
	}

	anon := FormatLowCredit("", 2)
	if !strings.Contains(anon, "one of your rules") {
		t.Errorf("missing fallback name:\n%s", anon)
	}
}

func TestFormatRulePaused(t *testing.T) {
	got := FormatRulePaused("AI news", "upstream rejected query")
	if !strings.Contains(got, "Monitoring paused") {
		t.Errorf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "AI news") {
		t.Errorf("missing rule name:\n%s", got)
	}
	if !strings.Contains(got, "upstream rejected query") {
		t.Errorf("missing reason:\n%s", got)
	}

	anon := FormatRulePaused("", "repeated upstream failures")
	if !strings.Contains(anon, "one of your rules") {
		t.Errorf("missing fallback name:\n%s", anon)
	}
}
