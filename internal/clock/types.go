package clock

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zappabad/tickreplay/internal/date"
)

var (
	// ErrNoData is returned by Start when no enabled stock has any history.
	ErrNoData = errors.New("no price data for enabled stocks")
	// ErrInvalidInterval is returned for negative tick intervals.
	ErrInvalidInterval = errors.New("invalid tick interval")
)

// State is the run state of the market clock.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stopped", "":
		*s = StateStopped
	case "running":
		*s = StateRunning
	case "paused":
		*s = StatePaused
	default:
		return fmt.Errorf("unknown clock state %q", b)
	}
	return nil
}

// Event says why a Status was published.
type Event int

const (
	EventRefresh Event = iota
	EventStarted
	EventPaused
	EventStopped
	EventTick
	EventEndOfData
)

func (e Event) String() string {
	switch e {
	case EventRefresh:
		return "refresh"
	case EventStarted:
		return "started"
	case EventPaused:
		return "paused"
	case EventStopped:
		return "stopped"
	case EventTick:
		return "tick"
	case EventEndOfData:
		return "end_of_data"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Event) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Event) UnmarshalText(b []byte) error {
	for _, v := range []Event{EventRefresh, EventStarted, EventPaused, EventStopped, EventTick, EventEndOfData} {
		if v.String() == string(b) {
			*e = v
			return nil
		}
	}
	return fmt.Errorf("unknown clock event %q", b)
}

// Transition reports whether the event changed the clock settings.
func (e Event) Transition() bool {
	switch e {
	case EventStarted, EventPaused, EventStopped, EventEndOfData:
		return true
	}
	return false
}

// Settings is the persisted exchange clock configuration.
type Settings struct {
	StartDate    date.Date
	TickInterval time.Duration
	Running      bool
}

type settingsJSON struct {
	StartDate   date.Date `json:"startDate"`
	TickSeconds float64   `json:"tickSeconds"`
	Running     bool      `json:"running"`
}

// MarshalJSON encodes the tick interval in seconds.
func (s Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(settingsJSON{
		StartDate:   s.StartDate,
		TickSeconds: s.TickInterval.Seconds(),
		Running:     s.Running,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Settings) UnmarshalJSON(b []byte) error {
	var v settingsJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Settings{
		StartDate:    v.StartDate,
		TickInterval: Seconds(v.TickSeconds),
		Running:      v.Running,
	}
	return nil
}

// Seconds converts a fractional number of seconds to a Duration.
func Seconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// Status is a point-in-time view of the clock.
type Status struct {
	State       State     `json:"state"`
	CurrentDate date.Date `json:"currentDate"`
	Settings    Settings  `json:"settings"`
	Ticks       uint64    `json:"ticks"`
	Event       Event     `json:"event"`
	At          time.Time `json:"at"`
}

// StartRequest carries the optional parameters of Start. Zero fields keep the
// current settings.
type StartRequest struct {
	StartDate    date.Date
	TickInterval time.Duration
}
