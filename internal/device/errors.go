package device

import "errors"

// Sentinel errors. Use errors.Is to check.
var (
	// ErrUnsupportedTopic is returned for topics the device does not have,
	// including topics whose DPS is not configured. Callers ignore it.
	ErrUnsupportedTopic = errors.New("device: unsupported topic")

	// ErrProbeInconclusive is returned when neither mode probe identifies a
	// known DPS family. The device is left in StatusFailed.
	ErrProbeInconclusive = errors.New("device: capability probe inconclusive")

	// ErrInvalidCommand is returned for command payloads that cannot be
	// converted to a device value.
	ErrInvalidCommand = errors.New("device: invalid command payload")

	// ErrNotActive is returned for commands sent before activation finished
	// or after it failed.
	ErrNotActive = errors.New("device: not active")
)
