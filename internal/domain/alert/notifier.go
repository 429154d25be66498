package alert

import "context"

// Notifier forwards operational alerts (failed sweep passes) to operators.
type Notifier interface {
	Alert(ctx context.Context, text string) error
}
