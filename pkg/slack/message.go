package slack

import (
	"fmt"
	"time"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

const timeLayout = "2006-01-02 15:04:05 MST"

// outageFingerprint is the stable text embedded in every outage message so
// the matching recovery notice can find it in channel history.
func outageFingerprint(resource string) string {
	return fmt.Sprintf("Subscription down: %s", resource)
}

// BuildOutageMessage creates Block Kit blocks for a subscription-down notice.
func BuildOutageMessage(input OutageInput) []goslack.Block {
	header := fmt.Sprintf(":rotating_light: *%s*", outageFingerprint(input.Resource))

	body := fmt.Sprintf("Change notifications stopped at %s.", input.Since.UTC().Format(timeLayout))
	if input.SubscriptionID != "" {
		body += fmt.Sprintf("\n*Subscription:* `%s`", input.SubscriptionID)
	}
	if input.Reason != "" {
		body += fmt.Sprintf("\n*Reason:* %s", truncateForSlack(input.Reason))
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}
}

// BuildRecoveryMessage creates Block Kit blocks for a recovery notice.
func BuildRecoveryMessage(input RecoveryInput) []goslack.Block {
	text := fmt.Sprintf(":white_check_mark: *Subscription recovered: %s*\nDown since %s, recovered at %s (downtime %s).",
		input.Resource,
		input.DownSince.UTC().Format(timeLayout),
		input.RecoveredAt.UTC().Format(timeLayout),
		formatDowntime(input.RecoveredAt.Sub(input.DownSince)))

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func formatDowntime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	if d >= time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated)_"
}
