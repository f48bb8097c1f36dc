package bot

import (
	"fmt"
	"strings"
	"time"

	"pulsefeed/internal/model"
)

// ParseMuteDuration parses the /mute argument. Accepts Go duration syntax
// plus a "d" suffix for days. The minimum is one minute and the result is
// capped to one week.
func ParseMuteDuration(args string) (time.Duration, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("duration is required")
	}

	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil || days < 1 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		s = fmt.Sprintf("%dh", days*24)
	}

	d, err := time.ParseDuration(s)
	if err != nil || d < time.Minute {
		return 0, fmt.Errorf("invalid duration %q", args)
	}
	if d > 7*24*time.Hour {
		d = 7 * 24 * time.Hour
	}
	return d, nil
}

// FormatStatus renders the /status reply.
func FormatStatus(binding *model.Binding, balance int64, rules []model.Rule, pendingHits int) string {
	var b strings.Builder
	b.WriteString("Account status:\n")
	fmt.Fprintf(&b, "Credits: %d\n", balance)
	fmt.Fprintf(&b, "Rules: %d (%d active)\n", len(rules), countActive(rules))
	if pendingHits > 0 {
		fmt.Fprintf(&b, "Alerts awaiting delivery: %d\n", pendingHits)
	}

	switch {
	case binding.MuteUntil != nil && time.Now().UTC().Before(*binding.MuteUntil):
		fmt.Fprintf(&b, "Alerts: muted until %s\n", binding.MuteUntil.Format("2006-01-02 15:04 UTC"))
	case !binding.NotificationsEnabled:
		b.WriteString("Alerts: disabled\n")
	default:
		b.WriteString("Alerts: on\n")
	}

	var inactive []string
	for _, r := range rules {
		if !r.IsActive && r.DeactivatedReason != "" {
			name := r.Name
			if name == "" {
				name = r.Query
			}
			inactive = append(inactive, fmt.Sprintf("  %s — %s", name, r.DeactivatedReason))
		}
	}
	if len(inactive) > 0 {
		b.WriteString("\nDeactivated rules:\n")
		b.WriteString(strings.Join(inactive, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
