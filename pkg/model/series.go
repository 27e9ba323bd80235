package model

import (
	"fmt"
	"strings"
)

type Series string

const (
	SeriesF1      Series = "F1"
	SeriesIMSA    Series = "IMSA"
	SeriesWEC     Series = "WEC"
	SeriesNASCAR  Series = "NASCAR"
	SeriesIndyCar Series = "INDYCAR"
)

var AllSeries = []Series{SeriesF1, SeriesIMSA, SeriesWEC, SeriesNASCAR, SeriesIndyCar}

func ParseSeries(s string) (Series, error) {
	for _, v := range AllSeries {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown series %q", s)
}

type FlagStatus string

const (
	FlagGreen     FlagStatus = "GREEN"
	FlagYellow    FlagStatus = "YELLOW"
	FlagRed       FlagStatus = "RED"
	FlagSC        FlagStatus = "SC"
	FlagVSC       FlagStatus = "VSC"
	FlagWhite     FlagStatus = "WHITE"
	FlagCheckered FlagStatus = "CHECKERED"
	FlagCold      FlagStatus = "COLD"
	FlagWarmup    FlagStatus = "WARMUP"
)

type DriverStatus string

const (
	StatusRunning DriverStatus = "RUNNING"
	StatusPit     DriverStatus = "PIT"
	StatusDNF     DriverStatus = "DNF"
	StatusOut     DriverStatus = "OUT"
)
