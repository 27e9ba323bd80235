package model

import (
	"errors"
	"fmt"
	"time"
)

// RaceState is a point-in-time snapshot of a live session.
// Once published it must not be modified, use Clone to derive a new one.
type RaceState struct {
	Series      Series        `json:"series"`
	SessionName string        `json:"sessionName"`
	SessionKey  string        `json:"sessionKey"`
	CurrentLap  int           `json:"currentLap"`
	TotalLaps   int           `json:"totalLaps"`
	FlagStatus  FlagStatus    `json:"flagStatus"`
	LastUpdated time.Time     `json:"lastUpdated"`
	Drivers     []DriverState `json:"drivers"`
	// optional vendor extras
	TimeRemaining string `json:"timeRemaining,omitempty"`
	LeadChanges   int    `json:"leadChanges,omitempty"`
	CautionLaps   int    `json:"cautionLaps,omitempty"`
}

type DriverState struct {
	DriverID      string       `json:"driverId"`
	Name          string       `json:"name"`
	Team          string       `json:"team"`
	Position      int          `json:"position"`
	GapToLeader   *float64     `json:"gapToLeader"` // nil for the leader
	GapToAhead    *float64     `json:"gapToAhead"`  // nil for the leader
	LastLapTime   float64      `json:"lastLapTime"` // 0 means unknown
	BestLapTime   float64      `json:"bestLapTime"` // 0 means unknown
	TireCompound  string       `json:"tireCompound"`
	TireAge       int          `json:"tireAge"`
	PitStops      int          `json:"pitStops"`
	Status        DriverStatus `json:"status"`
	IsOnTrack     bool         `json:"isOnTrack"`
	LapsCompleted int          `json:"lapsCompleted,omitempty"`
	LapsLed       int          `json:"lapsLed,omitempty"`
}

var (
	ErrDuplicatePosition = errors.New("duplicate position")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrNegativeGap       = errors.New("negative gap")
)

func Gap(v float64) *float64 {
	return &v
}

// Clone returns a deep copy
func (r *RaceState) Clone() *RaceState {
	if r == nil {
		return nil
	}
	ret := *r
	ret.Drivers = make([]DriverState, len(r.Drivers))
	for i := range r.Drivers {
		ret.Drivers[i] = r.Drivers[i].clone()
	}
	return &ret
}

func (d DriverState) clone() DriverState {
	if d.GapToLeader != nil {
		d.GapToLeader = Gap(*d.GapToLeader)
	}
	if d.GapToAhead != nil {
		d.GapToAhead = Gap(*d.GapToAhead)
	}
	return d
}

// Leader returns the driver in position 1 or nil
func (r *RaceState) Leader() *DriverState {
	for i := range r.Drivers {
		if r.Drivers[i].Position == 1 {
			return &r.Drivers[i]
		}
	}
	return nil
}

func (r *RaceState) DriverByID(id string) *DriverState {
	for i := range r.Drivers {
		if r.Drivers[i].DriverID == id {
			return &r.Drivers[i]
		}
	}
	return nil
}

// Validate checks the ranking and gap invariants of the snapshot
func (r *RaceState) Validate() error {
	last := 0
	for i := range r.Drivers {
		d := &r.Drivers[i]
		if d.Position <= 0 {
			return fmt.Errorf("%w: driver %s has position %d",
				ErrInvalidPosition, d.DriverID, d.Position)
		}
		if d.Position <= last {
			return fmt.Errorf("%w: %d (driver %s)",
				ErrDuplicatePosition, d.Position, d.DriverID)
		}
		last = d.Position
		if d.Position == 1 && (d.GapToLeader != nil || d.GapToAhead != nil) {
			return fmt.Errorf("%w: leader %s carries gap values",
				ErrInvalidPosition, d.DriverID)
		}
		for _, g := range []*float64{d.GapToLeader, d.GapToAhead} {
			if g != nil && *g < 0 {
				return fmt.Errorf("%w: driver %s", ErrNegativeGap, d.DriverID)
			}
		}
	}
	return nil
}
