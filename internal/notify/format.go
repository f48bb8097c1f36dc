package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"pulsefeed/internal/model"
)

// markdownV2Specials are the characters Telegram requires escaped in
// MarkdownV2 text.
const markdownV2Specials = `_*[]()~` + "`" + `>#+-=|{}.!\`

// EscapeMarkdown escapes Telegram MarkdownV2 control characters in
// user-supplied or upstream text.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatHit renders a hit as a MarkdownV2 notification message.
func FormatHit(hit *model.Hit) string {
	var b strings.Builder
	b.WriteString("🚨 *New match*\n\n")
	if hit.MatchedKeyword != "" {
		fmt.Fprintf(&b, "Matched: `%s`\n", EscapeMarkdown(hit.MatchedKeyword))
	}
	fmt.Fprintf(&b, "From: @%s\n\n", EscapeMarkdown(hit.Author))

	text := hit.Text
	if len(text) > 500 {
		cut := 500
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	b.WriteString(EscapeMarkdown(text))

	if hit.LikeCount > 0 || hit.RetweetCount > 0 || hit.ReplyCount > 0 {
		fmt.Fprintf(&b, "\n\n❤️ %d  🔁 %d  💬 %d", hit.LikeCount, hit.RetweetCount, hit.ReplyCount)
	}
	return b.String()
}

// FormatLowCredit renders the notice sent when a rule is paused for lack
// of credits.
func FormatLowCredit(ruleName string, balance int64) string {
	return fmt.Sprintf("⚠️ *Monitoring paused*\n\n%s was deactivated: not enough credits \\(balance: %d\\)\\. Top up to resume\\.",
		EscapeMarkdown(displayRuleName(ruleName)), balance)
}

// FormatRulePaused renders the notice sent when a rule is deactivated for
// any non-credit reason.
func FormatRulePaused(ruleName, reason string) string {
	return fmt.Sprintf("⚠️ *Monitoring paused*\n\n%s was deactivated: %s\\. Review the rule to resume\\.",
		EscapeMarkdown(displayRuleName(ruleName)), EscapeMarkdown(reason))
}

func displayRuleName(name string) string {
	if name == "" {
		return "one of your rules"
	}
	return name
}
