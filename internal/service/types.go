package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
)

// Status of one processed fix. Policy rejections (duplicate, accuracy)
// are acknowledged, not errors, so clients don't retry with backoff for
// expected steady-state outcomes.
type Status string

const (
	StatusStored       Status = "stored"
	StatusSkipped      Status = "skipped"
	StatusDeduplicated Status = "deduplicated"
	StatusError        Status = "error"
)

// Rejection codes surfaced to clients.
const (
	CodeInvalidCoordinates = "invalid_coordinates"
	CodeAccuracyTooLow     = "accuracy_too_low"
	CodeRateLimited        = "rate_limited"
	CodeUnauthorized       = "unauthorized"
	CodeSubscriptionLocked = "subscription_locked"
	CodeNotFound           = "not_found"
)

// PipelineError is a hard rejection: the fix never reached storage.
type PipelineError struct {
	Code       string
	Message    string
	Fields     []fix.FieldError
	RetryAfter time.Duration
}

func (e *PipelineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// AuthContext is what the external auth collaborator resolved for the
// caller. Fixes from locked or unknown accounts never enter the pipeline.
type AuthContext struct {
	UserID             uuid.UUID
	FamilyID           uuid.UUID
	DisplayName        string
	SharingEnabled     bool
	SubscriptionActive bool
}

// FixResult is the outcome of a single-fix ingestion.
type FixResult struct {
	Status        Status          `json:"status"`
	MotionState   fix.MotionState `json:"motion_state,omitempty"`
	StoredHistory bool            `json:"stored_history"`
	Promoted      bool            `json:"promoted"`
	AlreadyExists bool            `json:"already_exists,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// BatchRequest is the buffered-upload envelope. The size cap is
// enforced against the configured maximum, not a struct tag.
type BatchRequest struct {
	DeviceUUID string                   `json:"device_uuid" validate:"required"`
	Platform   string                   `json:"platform"`
	Locations  []map[string]interface{} `json:"locations" validate:"required,min=1"`
}

// BatchItemResult reports one batch item. Items fail individually; the
// batch as a whole only fails before any item is touched.
type BatchItemResult struct {
	Index         int    `json:"index"`
	Status        Status `json:"status"`
	Reason        string `json:"reason,omitempty"`
	AlreadyExists bool   `json:"already_exists,omitempty"`
}

// BatchResult is the outcome of one batch upload.
type BatchResult struct {
	Items    []BatchItemResult `json:"items"`
	Promoted bool              `json:"promoted"`
}

// Presence staleness classes, derived at read time.
const (
	PresenceOnline     = "online"
	PresenceIdle       = "idle"
	PresenceOffline    = "offline"
	PresenceNoLocation = "no_location"
)

// MemberPresence is one family member's current position plus the
// derived staleness class.
type MemberPresence struct {
	UserID      uuid.UUID           `json:"user_id"`
	DisplayName string              `json:"display_name"`
	State       string              `json:"state"`
	Location    *db.CurrentLocation `json:"-"`
}

// settings are the effective per-family pipeline tunables after
// falling back to service defaults.
type settings struct {
	accuracyCeilingM   float64
	dedupeRadiusM      float64
	dedupeWindow       time.Duration
	speedThresholdMPS  float64
	distanceThresholdM float64
	idleHeartbeat      time.Duration
	minFixInterval     time.Duration
}
