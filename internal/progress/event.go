// Package progress defines the telemetry events emitted while validation runs
// execute, and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunStopped Stage = "RUN_STOPPED"
	StageRunError   Stage = "RUN_ERROR"
	StageCheckDone  Stage = "CHECK_DONE"
)

// Event captures a single milestone of a validation run. This is telemetry:
// the hub may drop events under backpressure, so nothing that affects run
// results may depend on delivery.
type Event struct {
	// RunID identifies the run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or check milestone occurred.
	Stage Stage
	// Link is the original link for check events.
	Link string
	// Status carries the terminal status for check events.
	Status check.Status
	// Dur captures check latency or total run wall time.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunStopped, StageRunError:
	case StageCheckDone:
		if e.Link == "" {
			return errors.New("check done requires link")
		}
		if !e.Status.Terminal() {
			return fmt.Errorf("check done requires terminal status, got %q", e.Status)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
