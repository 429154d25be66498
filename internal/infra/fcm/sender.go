// Package fcm delivers push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"sweep_notifier/internal/domain/push"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

var (
	ErrNoCredentials    = errors.New("fcm: no service account credentials configured")
	ErrBadCredentials   = errors.New("fcm: failed to parse service account credentials")
	ErrMissingProjectID = errors.New("fcm: project_id not found in service account or FCM_PROJECT_ID")
)

// messenger is the subset of *messaging.Client the sender uses.
type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, message *messaging.Message) (string, error)
}

// Sender implements push.Sender on top of the Firebase Admin SDK.
type Sender struct {
	client    messenger
	projectID string
	logger    *logrus.Entry
}

// NewSender initializes a Firebase app from a credentials file or from
// inline service account JSON (raw or base64). The file wins when both are set.
func NewSender(ctx context.Context, credentialsFile, serviceAccountJSON, projectID string, logger *logrus.Entry) (*Sender, error) {
	var credJSON []byte
	switch {
	case credentialsFile != "":
		raw, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCredentials, err)
		}
		credJSON = raw
	case serviceAccountJSON != "":
		decoded, err := decodeCredentials(serviceAccountJSON)
		if err != nil {
			return nil, err
		}
		credJSON = decoded
	default:
		return nil, ErrNoCredentials
	}

	resolvedProject, err := resolveProjectID(credJSON, projectID)
	if err != nil {
		return nil, err
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: resolvedProject}, option.WithCredentialsJSON(credJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	logger.WithField("project_id", resolvedProject).Info("FCM client initialized")
	return &Sender{client: client, projectID: resolvedProject, logger: logger}, nil
}

// decodeCredentials accepts service account JSON as-is or base64 encoded.
func decodeCredentials(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		if !json.Valid([]byte(trimmed)) {
			return nil, ErrBadCredentials
		}
		return []byte(trimmed), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}
	if !json.Valid(decoded) {
		return nil, ErrBadCredentials
	}
	return decoded, nil
}

func resolveProjectID(credJSON []byte, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	var sa struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(credJSON, &sa); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}
	if sa.ProjectID == "" {
		return "", ErrMissingProjectID
	}
	return sa.ProjectID, nil
}

func buildMessage(deviceToken string, msg push.Message) *messaging.Message {
	return &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
}

// SendPush delivers msg to one device. With dryRun the message is validated
// by FCM without being delivered.
func (s *Sender) SendPush(ctx context.Context, deviceToken string, msg push.Message, dryRun bool) error {
	message := buildMessage(deviceToken, msg)

	var (
		id  string
		err error
	)
	if dryRun {
		id, err = s.client.SendDryRun(ctx, message)
	} else {
		id, err = s.client.Send(ctx, message)
	}
	if err != nil {
		return fmt.Errorf("failed to send FCM message: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"message_id": id, "dry_run": dryRun}).Debug("FCM message accepted")
	return nil
}
