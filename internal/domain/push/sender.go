package push

import "context"

// Message is the platform-neutral notification payload.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers a push notification to one device. With dryRun set the
// message is validated but not delivered.
type Sender interface {
	SendPush(ctx context.Context, deviceToken string, msg Message, dryRun bool) error
}
