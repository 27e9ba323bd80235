package f1

import (
	"encoding/json"
	"strconv"
)

// decodeNumericMap decodes objects keyed by racing number (or stint index) and
// drops bookkeeping entries like "_kf": true.
func decodeNumericMap[T any](data []byte) (map[string]T, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	ret := make(map[string]T, len(m))
	for k, v := range m {
		if _, err := strconv.Atoi(k); err != nil {
			continue
		}
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			continue
		}
		ret[k] = item
	}
	return ret, nil
}

// decodeListOrMap handles values sent as list in the initial state and as map
// keyed by index in updates
func decodeListOrMap[T any](data []byte) (map[string]T, error) {
	m := make(map[string]T)
	if err := json.Unmarshal(data, &m); err == nil {
		return m, nil
	}
	var l []T
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	for i := range l {
		m[strconv.Itoa(i)] = l[i]
	}
	return m, nil
}

type driverList map[string]driverListItem

func (dl *driverList) UnmarshalJSON(data []byte) error {
	m, err := decodeNumericMap[driverListItem](data)
	if err != nil {
		return err
	}
	*dl = m
	return nil
}

type driverListItem struct {
	RacingNumber  *string `json:"RacingNumber"`
	BroadcastName *string `json:"BroadcastName"`
	FullName      *string `json:"FullName"`
	Tla           *string `json:"Tla"`
	Line          *int    `json:"Line"`
	TeamName      *string `json:"TeamName"`
	FirstName     *string `json:"FirstName"`
	LastName      *string `json:"LastName"`
	NameFormat    *string `json:"NameFormat"`
}

type timingData struct {
	Lines timingLines `json:"Lines"`
}

type timingLines map[string]timingLine

func (tl *timingLines) UnmarshalJSON(data []byte) error {
	m, err := decodeNumericMap[timingLine](data)
	if err != nil {
		return err
	}
	*tl = m
	return nil
}

type timingLine struct {
	Line                    *int        `json:"Line"`
	Position                *string     `json:"Position"`
	Retired                 *bool       `json:"Retired"`
	InPit                   *bool       `json:"InPit"`
	PitOut                  *bool       `json:"PitOut"`
	Stopped                 *bool       `json:"Stopped"`
	KnockedOut              *bool       `json:"KnockedOut"`
	Status                  *int        `json:"Status"`
	GapToLeader             *string     `json:"GapToLeader"`
	IntervalToPositionAhead *valueField `json:"IntervalToPositionAhead"`
	TimeDiffToFastest       *string     `json:"TimeDiffToFastest"`
	TimeDiffToPositionAhead *string     `json:"TimeDiffToPositionAhead"`
	BestLapTime             *valueField `json:"BestLapTime"`
	LastLapTime             *valueField `json:"LastLapTime"`
	NumberOfLaps            *int        `json:"NumberOfLaps"`
	NumberOfPitStops        *int        `json:"NumberOfPitStops"`
}

type valueField struct {
	Value *string `json:"Value"`
}

type timingAppData struct {
	Lines appLines `json:"Lines"`
}

type appLines map[string]appLine

func (al *appLines) UnmarshalJSON(data []byte) error {
	m, err := decodeNumericMap[appLine](data)
	if err != nil {
		return err
	}
	*al = m
	return nil
}

type appLine struct {
	Line   *int   `json:"Line"`
	Stints stints `json:"Stints"`
}

type stints map[string]stint

func (s *stints) UnmarshalJSON(data []byte) error {
	m, err := decodeListOrMap[stint](data)
	if err != nil {
		return err
	}
	*s = m
	return nil
}

type stint struct {
	Compound  *string `json:"Compound"`
	New       *string `json:"New"`
	TotalLaps *int    `json:"TotalLaps"`
	StartLaps *int    `json:"StartLaps"`
}

type lapCount struct {
	CurrentLap *int `json:"CurrentLap"`
	TotalLaps  *int `json:"TotalLaps"`
}

type trackStatus struct {
	Status  *string `json:"Status"`
	Message *string `json:"Message"`
}

type sessionInfo struct {
	Meeting struct {
		Name *string `json:"Name"`
	} `json:"Meeting"`
	Key  *int    `json:"Key"`
	Type *string `json:"Type"`
	Name *string `json:"Name"`
}

type extrapolatedClock struct {
	Remaining     *string `json:"Remaining"`
	Extrapolating *bool   `json:"Extrapolating"`
}
