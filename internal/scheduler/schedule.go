package scheduler

import (
	"encoding/json"
	"time"
)

// Mode is a field unit's self-reported duty-cycle phase.
type Mode string

const (
	ModeUnknown Mode = "unknown"
	ModeData    Mode = "data"
	ModeCmd     Mode = "cmd"
)

// ScheduleMetadata is a device's window timing as reported by its latest
// telemetry. Each report replaces the previous one wholesale.
type ScheduleMetadata struct {
	Mode           Mode
	WindowOpensIn  time.Duration
	WindowDuration time.Duration
	ReceivedAt     time.Time

	// opensInReported distinguishes an explicit cmd_in:0 from a missing key.
	opensInReported bool
}

// scheduleBlock is the {mode, cmd_in, cmd_dur} block, in seconds.
type scheduleBlock struct {
	Mode   string   `json:"mode"`
	CmdIn  *float64 `json:"cmd_in"`
	CmdDur *float64 `json:"cmd_dur"`
}

type scheduleCarrier struct {
	Meta *scheduleBlock `json:"m"`
	scheduleBlock
}

// ParseScheduleMetadata extracts the schedule block from a telemetry
// document: the "m" object if present, else top-level keys. It returns
// false when the document carries no recognised mode.
func ParseScheduleMetadata(doc []byte, receivedAt time.Time, defaultWindow time.Duration) (ScheduleMetadata, bool) {
	var carrier scheduleCarrier
	if err := json.Unmarshal(doc, &carrier); err != nil {
		return ScheduleMetadata{}, false
	}
	block := carrier.scheduleBlock
	if carrier.Meta != nil {
		block = *carrier.Meta
	}

	meta := ScheduleMetadata{ReceivedAt: receivedAt, WindowDuration: defaultWindow}
	switch Mode(block.Mode) {
	case ModeCmd:
		meta.Mode = ModeCmd
	case ModeData:
		meta.Mode = ModeData
	default:
		return ScheduleMetadata{}, false
	}

	if block.CmdIn != nil && *block.CmdIn >= 0 {
		meta.WindowOpensIn = seconds(*block.CmdIn)
		meta.opensInReported = true
	}
	if block.CmdDur != nil && *block.CmdDur > 0 {
		meta.WindowDuration = seconds(*block.CmdDur)
	}
	return meta, true
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// WindowOpen reports whether the device is listening for commands: it says
// so, or it reports its window opening now.
func (m ScheduleMetadata) WindowOpen() bool {
	return m.Mode == ModeCmd || (m.opensInReported && m.WindowOpensIn == 0)
}

// OpenAt reports whether the window reported at ReceivedAt is still open at
// now.
func (m ScheduleMetadata) OpenAt(now time.Time) bool {
	return m.WindowOpen() && now.Before(m.ReceivedAt.Add(m.WindowDuration))
}

// TimeUntilWindow returns how long until the window opens. ok is false when
// the window is open or its timing is unknown.
func (m ScheduleMetadata) TimeUntilWindow(now time.Time) (time.Duration, bool) {
	if m.WindowOpen() || m.WindowOpensIn <= 0 {
		return 0, false
	}
	remaining := m.ReceivedAt.Add(m.WindowOpensIn).Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// Imminent reports whether the window opens within threshold.
func (m ScheduleMetadata) Imminent(now time.Time, threshold time.Duration) bool {
	remaining, ok := m.TimeUntilWindow(now)
	return ok && remaining < threshold
}
