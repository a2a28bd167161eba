// Package domain contains the core domain models for keygate.
// These types serve as the Single Source of Truth (SSOT) for every layer:
// the registry, the store, the validator and the embedding transports.
package domain

import (
	"time"
)

// ActivationCodeType enumerates the policies an activation code can carry
type ActivationCodeType string

const (
	CodeTypePermanent    ActivationCodeType = "PERMANENT"
	CodeTypeTimeLimited  ActivationCodeType = "TIME_LIMITED"
	CodeTypeUsageLimited ActivationCodeType = "USAGE_LIMITED"
	CodeTypeCombined     ActivationCodeType = "COMBINED"
	CodeTypeDeviceBound  ActivationCodeType = "DEVICE_BOUND"
)

// CodeTypes lists every known code type
var CodeTypes = []ActivationCodeType{
	CodeTypePermanent,
	CodeTypeTimeLimited,
	CodeTypeUsageLimited,
	CodeTypeCombined,
	CodeTypeDeviceBound,
}

// Valid reports whether t is one of the known code types
func (t ActivationCodeType) Valid() bool {
	for _, known := range CodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActivationCode is an immutable registry entry baked into the exported package.
// Optional limits are nil when absent.
type ActivationCode struct {
	Code        string             `json:"code"`
	Type        ActivationCodeType `json:"type"`
	TimeLimit   *time.Duration     `json:"time_limit,omitempty"`
	UsageLimit  *int               `json:"usage_limit,omitempty"`
	DeviceBound bool               `json:"device_bound"`
	Note        *string            `json:"note,omitempty"`
}

// RequiresBinding reports whether activation must pin the record to a device
func (c ActivationCode) RequiresBinding() bool {
	return c.DeviceBound || c.Type == CodeTypeDeviceBound
}

// HasTimeLimit reports whether the time condition applies to this code
func (c ActivationCode) HasTimeLimit() bool {
	switch c.Type {
	case CodeTypeTimeLimited, CodeTypeCombined, CodeTypeDeviceBound:
		return c.TimeLimit != nil
	}
	return false
}

// HasUsageLimit reports whether the usage condition applies to this code
func (c ActivationCode) HasUsageLimit() bool {
	switch c.Type {
	case CodeTypeUsageLimited, CodeTypeCombined, CodeTypeDeviceBound:
		return c.UsageLimit != nil
	}
	return false
}

// ActivationRecord is the single persisted activation state of an installation
type ActivationRecord struct {
	Code                 string        `json:"code"`
	ActivatedAtWall      time.Time     `json:"activated_at_wall"`
	ActivatedAtMonotonic time.Duration `json:"activated_at_monotonic"`
	UsageCount           int           `json:"usage_count"`
	DeviceID             *string       `json:"device_id,omitempty"`
	LastSeenWall         time.Time     `json:"last_seen_wall"`
	LastSeenMonotonic    time.Duration `json:"last_seen_monotonic"`
	LastSeenBootID       string        `json:"last_seen_boot_id,omitempty"`
	AccruedElapsed       time.Duration `json:"accrued_elapsed"`
	ClockTampered        bool          `json:"clock_tampered,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing DeviceID
func (r ActivationRecord) Clone() ActivationRecord {
	if r.DeviceID != nil {
		id := *r.DeviceID
		r.DeviceID = &id
	}
	return r
}

// ActivationState is the per-installation lifecycle state
type ActivationState string

const (
	StateNotActivated ActivationState = "NOT_ACTIVATED"
	StateActive       ActivationState = "ACTIVE"
	StateExpired      ActivationState = "EXPIRED"
	StateInvalid      ActivationState = "INVALID"
)

// ActivationStatus is the read-only view shown by the embedding UI
type ActivationStatus struct {
	IsActivated     bool               `json:"is_activated"`
	IsValid         bool               `json:"is_valid"`
	State           ActivationState    `json:"state"`
	Result          ActivationResult   `json:"result"`
	CodeType        ActivationCodeType `json:"code_type,omitempty"`
	ActivatedTime   time.Time          `json:"activated_time"`
	ExpireTime      *time.Time         `json:"expire_time,omitempty"`
	RemainingTimeMs *int64             `json:"remaining_time_ms,omitempty"`
	UsageCount      int                `json:"usage_count"`
	UsageLimit      *int               `json:"usage_limit,omitempty"`
	RemainingUsage  *int               `json:"remaining_usage,omitempty"`
	DeviceID        *string            `json:"device_id,omitempty"`
}

// ResultKind is the closed set of activation outcomes
type ResultKind string

const (
	ResultSuccess          ResultKind = "SUCCESS"
	ResultInvalid          ResultKind = "INVALID"
	ResultDeviceMismatch   ResultKind = "DEVICE_MISMATCH"
	ResultExpired          ResultKind = "EXPIRED"
	ResultUsageExceeded    ResultKind = "USAGE_EXCEEDED"
	ResultAlreadyActivated ResultKind = "ALREADY_ACTIVATED"
	ResultEmpty            ResultKind = "EMPTY"
)

// ActivationResult is the typed outcome of activate/recordUsage/check.
// Reason is only set for ResultInvalid.
type ActivationResult struct {
	Kind   ResultKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
}

// Reasons carried by Invalid results
const (
	ReasonNotRecognized = "code not recognized"
	ReasonNotActivated  = "not activated"
	ReasonCodeWithdrawn = "activated code no longer recognized"
)

func Success() ActivationResult          { return ActivationResult{Kind: ResultSuccess} }
func DeviceMismatch() ActivationResult   { return ActivationResult{Kind: ResultDeviceMismatch} }
func Expired() ActivationResult          { return ActivationResult{Kind: ResultExpired} }
func UsageExceeded() ActivationResult    { return ActivationResult{Kind: ResultUsageExceeded} }
func AlreadyActivated() ActivationResult { return ActivationResult{Kind: ResultAlreadyActivated} }
func Empty() ActivationResult            { return ActivationResult{Kind: ResultEmpty} }

// Invalid builds an Invalid result with the given reason
func Invalid(reason string) ActivationResult {
	return ActivationResult{Kind: ResultInvalid, Reason: reason}
}

// OK reports whether the result grants access
func (r ActivationResult) OK() bool {
	return r.Kind == ResultSuccess
}

// String returns a compact representation for logs
func (r ActivationResult) String() string {
	if r.Reason != "" {
		return string(r.Kind) + ": " + r.Reason
	}
	return string(r.Kind)
}
