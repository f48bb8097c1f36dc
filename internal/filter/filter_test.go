package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"pulsefeed/internal/model"
)

func TestApplyMinFollowers(t *testing.T) {
	rule := &model.Rule{Kind: model.KindKeyword, Query: "golang", MinFollowers: 1000, IncludeReplies: true}
	tweets := []model.Tweet{
		{ID: "t1", AuthorFollowers: 5000},
		{ID: "t2", AuthorFollowers: 10},
		{ID: "t3", AuthorFollowers: 1000},
	}

	kept := Apply(tweets, rule)

	var ids []string
	for _, tw := range kept {
		ids = append(ids, tw.ID)
	}
	if diff := cmp.Diff([]string{"t1", "t3"}, ids); diff != "" {
		t.Errorf("kept ids mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyExcludesReplies(t *testing.T) {
	rule := &model.Rule{Kind: model.KindKeyword, Query: "golang"}
	tweets := []model.Tweet{
		{ID: "t1", IsReply: true},
		{ID: "t2"},
	}

	kept := Apply(tweets, rule)
	if len(kept) != 1 || kept[0].ID != "t2" {
		t.Errorf("expected only t2 kept, got %+v", kept)
	}

	rule.IncludeReplies = true
	kept = Apply(tweets, rule)
	if len(kept) != 2 {
		t.Errorf("expected both kept with replies included, got %d", len(kept))
	}
}

func TestApplyNoFilters(t *testing.T) {
	rule := &model.Rule{Kind: model.KindKeyword, Query: "golang", IncludeReplies: true}
	tweets := []model.Tweet{{ID: "t1"}, {ID: "t2", IsReply: true}}

	if got := Apply(tweets, rule); len(got) != 2 {
		t.Errorf("expected passthrough, got %d of 2", len(got))
	}
}

func TestMatchedFragment(t *testing.T) {
	tests := []struct {
		name  string
		rule  *model.Rule
		tweet model.Tweet
		want  string
	}{
		{
			name:  "keyword found in text",
			rule:  &model.Rule{Kind: model.KindKeyword, Query: "golang"},
			tweet: model.Tweet{Text: "I love Golang so much"},
			want:  "golang",
		},
		{
			name:  "multi-term keyword picks first present",
			rule:  &model.Rule{Kind: model.KindKeyword, Query: "rustlang golang"},
			tweet: model.Tweet{Text: "writing golang today"},
			want:  "golang",
		},
		{
			name:  "account rule attributes handle",
			rule:  &model.Rule{Kind: model.KindAccount, Query: "@gopher_dev"},
			tweet: model.Tweet{Text: "anything"},
			want:  "@gopher_dev",
		},
		{
			name:  "advanced query skips operators",
			rule:  &model.Rule{Kind: model.KindAdvanced, Query: `lang:en -spam kubernetes`},
			tweet: model.Tweet{Text: "Kubernetes 1.35 released"},
			want:  "kubernetes",
		},
		{
			name:  "no term present falls back to full query",
			rule:  &model.Rule{Kind: model.KindKeyword, Query: "zig"},
			tweet: model.Tweet{Text: "nothing relevant here"},
			want:  "zig",
		},
		{
			name:  "quoted phrase term",
			rule:  &model.Rule{Kind: model.KindAdvanced, Query: `"generics" since:2026-01-01`},
			tweet: model.Tweet{Text: "Generics land in the stdlib"},
			want:  "generics",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchedFragment(tt.rule, tt.tweet)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("fragment mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
