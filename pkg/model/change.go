package model

import "strconv"

type ChangeType string

const (
	ChangeFlag     ChangeType = "FLAG_CHANGED"
	ChangeLeader   ChangeType = "LEADER_CHANGED"
	ChangePosition ChangeType = "POSITION_CHANGED"
)

// ChangeEvent describes an edge between two consecutive snapshots.
type ChangeEvent struct {
	Type     ChangeType `json:"type"`
	Series   Series     `json:"series"`
	DriverID string     `json:"driverId,omitempty"`
	Old      string     `json:"old"`
	New      string     `json:"new"`
}

// Diff computes the change events between prev and cur. A nil prev yields no
// events. Flag changes are only reported when both flags are known.
func Diff(prev, cur *RaceState) []ChangeEvent {
	if prev == nil || cur == nil {
		return nil
	}
	ret := []ChangeEvent{}
	if prev.FlagStatus != "" && cur.FlagStatus != "" && prev.FlagStatus != cur.FlagStatus {
		ret = append(ret, ChangeEvent{
			Type: ChangeFlag, Series: cur.Series,
			Old: string(prev.FlagStatus), New: string(cur.FlagStatus),
		})
	}
	oldLeader, newLeader := prev.Leader(), cur.Leader()
	if oldLeader != nil && newLeader != nil && oldLeader.DriverID != newLeader.DriverID {
		ret = append(ret, ChangeEvent{
			Type: ChangeLeader, Series: cur.Series,
			Old: oldLeader.DriverID, New: newLeader.DriverID,
		})
	}
	before := make(map[string]int, len(prev.Drivers))
	for i := range prev.Drivers {
		before[prev.Drivers[i].DriverID] = prev.Drivers[i].Position
	}
	for i := range cur.Drivers {
		d := &cur.Drivers[i]
		if pos, ok := before[d.DriverID]; ok && pos != d.Position {
			ret = append(ret, ChangeEvent{
				Type: ChangePosition, Series: cur.Series, DriverID: d.DriverID,
				Old: strconv.Itoa(pos), New: strconv.Itoa(d.Position),
			})
		}
	}
	return ret
}
