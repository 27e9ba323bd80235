package imsa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/doccache"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/processing/timeparse"
)

// field lookups accept several spellings since the documents differ between
// events and software versions

func lookup(f doccache.Fields, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func str(f doccache.Fields, keys ...string) string {
	v, ok := lookup(f, keys...)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func num(f doccache.Fields, keys ...string) int {
	v, ok := lookup(f, keys...)
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}

func flag(f doccache.Fields, keys ...string) bool {
	v, ok := lookup(f, keys...)
	if !ok {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	case float64:
		return x != 0
	default:
		return false
	}
}

// seconds reads a time value. Numbers are milliseconds, strings use the
// m:ss.sss notation.
func seconds(f doccache.Fields, gap bool, keys ...string) (float64, bool) {
	v, ok := lookup(f, keys...)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return max(timeparse.Millis(int64(x)), 0), true
	case string:
		if gap {
			return timeparse.Gap(x), x != ""
		}
		return timeparse.LapTime(x), x != ""
	default:
		return 0, false
	}
}

// sessionEntry is the typed view of a document of the sessions collection
type sessionEntry struct {
	id            string
	name          string
	flag          string
	currentLap    int
	totalLaps     int
	timeRemaining string
	active        bool
}

func toSessionEntry(doc *doccache.Document) sessionEntry {
	f := doc.Fields
	return sessionEntry{
		id:            lo.CoalesceOrEmpty(str(f, "sessionId", "key"), doc.ID),
		name:          str(f, "name", "sessionName", "description"),
		flag:          str(f, "flag", "currentFlag", "trackStatus"),
		currentLap:    num(f, "currentLap", "lap", "laps"),
		totalLaps:     num(f, "totalLaps", "lapsTotal", "scheduledLaps"),
		timeRemaining: str(f, "timeRemaining", "remaining", "remainingTime"),
		active:        flag(f, "active", "isActive", "running"),
	}
}

// participantEntry is the typed view of a document of the participants
// collection
type participantEntry struct {
	id     string
	number string
	driver string
	team   string
	class  string
}

func toParticipantEntry(doc *doccache.Document) participantEntry {
	f := doc.Fields
	return participantEntry{
		id:     doc.ID,
		number: str(f, "number", "carNumber", "startNumber"),
		driver: lo.CoalesceOrEmpty(str(f, "driver", "driverName", "currentDriver"), driverFromList(f)),
		team:   str(f, "team", "teamName"),
		class:  str(f, "class", "className", "category"),
	}
}

// driverFromList picks the current driver from a drivers list
func driverFromList(f doccache.Fields) string {
	v, ok := lookup(f, "drivers")
	if !ok {
		return ""
	}
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	idx := num(f, "currentDriverIndex", "driverIndex")
	if idx < 0 || idx >= len(list) {
		idx = 0
	}
	switch d := list[idx].(type) {
	case string:
		return d
	case map[string]any:
		name := str(d, "name", "fullName")
		if name == "" {
			name = strings.TrimSpace(str(d, "firstName") + " " + str(d, "lastName"))
		}
		return name
	default:
		return ""
	}
}

// timingEntry is the typed view of a document of the timing collection
type timingEntry struct {
	id            string
	participantID string
	number        string
	position      int
	gap           *float64
	interval      *float64
	lastLap       float64
	bestLap       float64
	pitStops      int
	status        string
	inPit         bool
	laps          int
}

func toTimingEntry(doc *doccache.Document) timingEntry {
	f := doc.Fields
	e := timingEntry{
		id:            doc.ID,
		participantID: str(f, "participantId", "participant"),
		number:        str(f, "number", "carNumber", "startNumber"),
		position:      num(f, "position", "overallPosition", "pos"),
		pitStops:      num(f, "pitStops", "pits", "numberOfPitStops"),
		status:        str(f, "status", "state"),
		inPit:         flag(f, "inPit", "isInPit", "pit"),
		laps:          num(f, "laps", "lapsCompleted"),
	}
	e.lastLap, _ = seconds(f, false, "lastLap", "lastLapTime")
	e.bestLap, _ = seconds(f, false, "bestLap", "bestLapTime")
	if v, ok := seconds(f, true, "gap", "gapFirst", "gapToLeader"); ok {
		e.gap = &v
	}
	if v, ok := seconds(f, true, "interval", "gapPrevious", "gapToAhead"); ok {
		e.interval = &v
	}
	return e
}
