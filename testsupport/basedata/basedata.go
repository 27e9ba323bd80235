package basedata

import (
	"time"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

func TestTime() time.Time {
	t, _ := time.Parse(time.RFC3339, "2024-04-28T11:10:12Z")
	return t
}

// SampleRaceState returns a valid three car snapshot for series
func SampleRaceState(series model.Series) *model.RaceState {
	return &model.RaceState{
		Series:      series,
		SessionName: "Sample Race",
		SessionKey:  "sample-1",
		CurrentLap:  12,
		TotalLaps:   50,
		FlagStatus:  model.FlagGreen,
		LastUpdated: TestTime(),
		Drivers: []model.DriverState{
			{
				DriverID: "1", Name: "Driver One", Team: "Team A", Position: 1,
				LastLapTime: 91.234, BestLapTime: 90.5, Status: model.StatusRunning,
				IsOnTrack: true, LapsCompleted: 12,
			},
			{
				DriverID: "44", Name: "Driver Two", Team: "Team B", Position: 2,
				GapToLeader: model.Gap(1.5), GapToAhead: model.Gap(1.5),
				LastLapTime: 91.5, BestLapTime: 90.8, Status: model.StatusRunning,
				IsOnTrack: true, LapsCompleted: 12,
			},
			{
				DriverID: "16", Name: "Driver Three", Team: "Team C", Position: 3,
				GapToLeader: model.Gap(4.25), GapToAhead: model.Gap(2.75),
				LastLapTime: 92.1, BestLapTime: 91.0, Status: model.StatusPit,
				PitStops: 1, LapsCompleted: 11,
			},
		},
	}
}
