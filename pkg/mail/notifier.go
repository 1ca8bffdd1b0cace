package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telekom/k8s-chartdeploy/pkg/events"
)

// Notifier is an events.Sink that mails the recipients about failed
// deployments. Other event types are ignored.
type Notifier struct {
	sender     Sender
	recipients []string
}

func NewNotifier(sender Sender, recipients []string) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("mail notifier requires a sender")
	}
	if len(recipients) == 0 {
		return nil, errors.New("mail notifier requires at least one recipient")
	}
	return &Notifier{sender: sender, recipients: recipients}, nil
}

func (n *Notifier) Write(ctx context.Context, e *events.Event) error {
	if e.Type != events.TypeFailed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := DeploymentFailedParams{
		TaskID:     e.TaskID,
		ClusterID:  e.ClusterID,
		Namespace:  e.Namespace,
		Release:    e.Release,
		Repository: e.Repository,
		Chart:      e.Chart,
		Version:    e.Version,
		Reason:     e.Reason,
		Message:    e.Message,
		FailedAt:   e.Timestamp.Format(time.RFC3339),
	}
	if e.Duration > 0 {
		p.Duration = e.Duration.Round(time.Second).String()
	}
	body, err := RenderDeploymentFailed(p)
	if err != nil {
		return fmt.Errorf("rendering failure notification: %w", err)
	}
	subject := fmt.Sprintf("[chartdeploy] Deployment of %s to cluster %s failed", e.Release, e.ClusterID)
	return n.sender.Send(n.recipients, subject, body)
}

func (n *Notifier) Close() error { return nil }

func (n *Notifier) Name() string { return "mail" }
