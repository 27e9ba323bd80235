package signalr

import (
	"slices"
	"sort"
)

const HubName = "Streaming"

// StandardTopics are the topics published by the F1 live timing hub.
// DriverList comes first, other topics refer to its entries.
var StandardTopics = []string{
	"DriverList",
	"Heartbeat",
	"SessionInfo",
	"SessionData",
	"LapCount",
	"TrackStatus",
	"TimingData",
	"TimingAppData",
	"TimingStats",
	"TopThree",
	"RaceControlMessages",
	"RcmSeries",
	"TeamRadio",
	"WeatherData",
	"ExtrapolatedClock",
	"ChampionshipPrediction",
	"CarData.z",
	"Position.z",
}

func sortTopics(topics []string) {
	rank := func(t string) int {
		if idx := slices.Index(StandardTopics, t); idx >= 0 {
			return idx
		}
		return len(StandardTopics)
	}
	sort.SliceStable(topics, func(i, j int) bool {
		ri, rj := rank(topics[i]), rank(topics[j])
		if ri != rj {
			return ri < rj
		}
		return topics[i] < topics[j]
	})
}
