// Package notification delivers finished triage reports to chat channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olegiv/logtriage-ai-go/internal/ai"
)

// Report is the notification payload for one completed analysis.
type Report struct {
	ID           string
	SourceName   string
	IssueKey     string
	Category     string
	MobileScore  int
	DesktopScore int
	Analysis     string
	Diagram      string
	Stats        *ai.Stats
	// Alert marks logs that show a crash or a failed run.
	Alert bool
}

// Notifier sends a report somewhere.
type Notifier interface {
	Notify(ctx context.Context, report *Report) error
	Name() string
}

// Multi fans a report out to several notifiers and joins their errors.
type Multi []Notifier

// Notify calls every notifier, even when an earlier one fails.
func (m Multi) Notify(ctx context.Context, report *Report) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name lists the wrapped notifiers.
func (m Multi) Name() string {
	name := "multi("
	for i, n := range m {
		if i > 0 {
			name += ","
		}
		name += n.Name()
	}
	return name + ")"
}

// sleep waits for d or until ctx is done. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
