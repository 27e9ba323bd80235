package util

import (
	"fmt"
	"os"
	"time"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/config"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling/indycar"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling/nascar"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

func ParseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

// SetupLogger creates the logger according to the log settings and installs
// it as default logger.
func SetupLogger() (*log.Logger, error) {
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			ParseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	default:
		logger = log.DevLogger(
			os.Stderr,
			ParseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}
	logger, err := logger.WithFilter(config.LogFilter)
	if err != nil {
		return nil, fmt.Errorf("invalid log filter %q: %w", config.LogFilter, err)
	}
	log.ResetDefault(logger)
	return logger, nil
}

// ParseDuration returns defaultVal if s is empty or invalid
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		log.Warn("Invalid duration value, using default",
			log.String("value", s), log.Duration("default", defaultVal))
		return defaultVal
	}
	return d
}

// ParseSeries resolves series names. Empty input selects all series.
func ParseSeries(names []string) ([]model.Series, error) {
	if len(names) == 0 {
		return model.AllSeries, nil
	}
	ret := make([]model.Series, 0, len(names))
	for _, n := range names {
		s, err := model.ParseSeries(n)
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, nil
}

// PollingSources creates the NASCAR and IndyCar adapters from the feed settings.
func PollingSources() []polling.Source {
	nascarOpts := []nascar.Option{nascar.WithSeriesID(config.NascarSeriesID)}
	if config.NascarRaceID > 0 {
		nascarOpts = append(nascarOpts, nascar.WithRaceID(config.NascarRaceID))
	}
	indycarOpts := []indycar.Option{}
	if config.IndycarNXT {
		indycarOpts = append(indycarOpts, indycar.WithNXT())
	}
	return []polling.Source{
		nascar.New(nascarOpts...),
		indycar.New(indycarOpts...),
	}
}
