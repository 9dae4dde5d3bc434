package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/MertK96/azure-boardmetrics/internal/config"
)

// SlackNotifier posts flagged items to a Slack channel.
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlackNotifier builds a notifier from config, or returns nil when the
// sink is disabled or missing its token/channel.
func NewSlackNotifier(cfg config.SlackNotifyConfig) *SlackNotifier {
	if !cfg.Enabled {
		return nil
	}
	token := strings.TrimSpace(cfg.BotToken)
	channel := strings.TrimSpace(cfg.Channel)
	if token == "" || channel == "" {
		return nil
	}

	opts := []slack.Option{}
	if base := strings.TrimSpace(cfg.APIBase); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	return &SlackNotifier{
		api:     slack.New(token, opts...),
		channel: channel,
	}
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, ev Event) error {
	text := fmt.Sprintf(":rotating_light: *#%d %s* needs attention\n%s", ev.WorkItemID, ev.Title, ev.Reason)
	if ev.Assignee != "" {
		text += fmt.Sprintf("\nAssignee: %s", ev.Assignee)
	}
	if ev.URL != "" {
		text += fmt.Sprintf("\n<%s|Open in Azure DevOps>", ev.URL)
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
