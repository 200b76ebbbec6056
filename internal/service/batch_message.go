package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/logging"
)

// BatchUploadMessage is the envelope the gateway enqueues for buffered
// uploads that arrive while the API is unreachable.
type BatchUploadMessage struct {
	RequestID  string                   `json:"request_id"`
	UserID     string                   `json:"user_id"`
	DeviceUUID string                   `json:"device_uuid"`
	Platform   string                   `json:"platform"`
	Locations  []map[string]interface{} `json:"locations"`
}

// ProcessBatchMessage is the MQ consumer entry point. A returned error
// NACKs the delivery to the DLQ.
func (s *IngestService) ProcessBatchMessage(ctx context.Context, body []byte) error {
	var msg BatchUploadMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal batch upload: %w", err)
	}

	reqLogger := logging.WithRequestID(s.logger, msg.RequestID)

	userID, err := uuid.Parse(msg.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", msg.UserID, err)
	}

	member, err := s.store.GetMember(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve member: %w", err)
	}
	if member == nil {
		return fmt.Errorf("unknown user %s", userID)
	}

	auth := &AuthContext{
		UserID:             member.UserID,
		FamilyID:           member.FamilyID,
		DisplayName:        member.DisplayName,
		SharingEnabled:     member.SharingEnabled,
		SubscriptionActive: member.SubscriptionActive,
	}

	result, err := s.ProcessBatch(ctx, auth, &BatchRequest{
		DeviceUUID: msg.DeviceUUID,
		Platform:   msg.Platform,
		Locations:  msg.Locations,
	})
	if err != nil {
		return fmt.Errorf("failed to process batch upload: %w", err)
	}

	stored := 0
	for _, item := range result.Items {
		if item.Status == StatusStored {
			stored++
		}
	}

	reqLogger.Info("batch upload processed",
		zap.String("user_id", msg.UserID),
		zap.Int("items", len(result.Items)),
		zap.Int("stored", stored),
		zap.Bool("promoted", result.Promoted),
	)

	return nil
}
