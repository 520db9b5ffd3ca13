package events

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// SlackSink publishes terminal events (state.done, state.failed) as
// messages to a configured Slack channel, using github.com/slack-go/slack
// as a reference external collaborator for the event sink interface
// described in §4.8 and §6.
type SlackSink struct {
	client  *slack.Client
	channel string
	// notifyAll, when false, restricts publishing to terminal events only
	// (the volume a human audience actually wants).
	notifyAll bool
}

// NewSlackSink builds a sink posting to channel via a bot token.
func NewSlackSink(token, channel string, notifyAll bool) *SlackSink {
	return &SlackSink{client: slack.New(token), channel: channel, notifyAll: notifyAll}
}

func (s *SlackSink) Publish(ctx context.Context, ev selfheal.Event) error {
	if !s.notifyAll && ev.Type != selfheal.EventStateDone && ev.Type != selfheal.EventStateFailed {
		return nil
	}
	text := formatSlackMessage(ev)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	return err
}

func formatSlackMessage(ev selfheal.Event) string {
	switch ev.Type {
	case selfheal.EventStateDone:
		return fmt.Sprintf(":white_check_mark: %s run %s (%s) self-healed successfully.", ev.Repository, ev.RunID, ev.HeadSHA)
	case selfheal.EventStateFailed:
		reason, _ := ev.Data["reason"].(string)
		return fmt.Sprintf(":x: %s run %s (%s) could not be self-healed: %s", ev.Repository, ev.RunID, ev.HeadSHA, reason)
	default:
		return fmt.Sprintf("%s: %s run %s now in %s", ev.Type, ev.Repository, ev.RunID, ev.State)
	}
}
