package domain

import (
	"strconv"
	"strings"
)

const (
	MinValidTemp     = -20
	MaxValidTemp     = 60
	MinValidHumidity = 0
	MaxValidHumidity = 100
)

// ValidTemp reports whether t is a plausible greenhouse temperature.
func ValidTemp(t float64) bool {
	return t >= MinValidTemp && t <= MaxValidTemp
}

// ValidHumidity reports whether h is a relative humidity percentage.
func ValidHumidity(h float64) bool {
	return h >= MinValidHumidity && h <= MaxValidHumidity
}

// Slots holds the partially extracted activity data of one interview.
// Numeric fields are nil when absent. Out-of-range numbers are never stored.
type Slots struct {
	MaxTemp       *float64 `json:"max_temp,omitempty"`
	MinTemp       *float64 `json:"min_temp,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	WorkLog       string   `json:"work_log,omitempty"`
	PlantStatus   string   `json:"plant_status,omitempty"`
	Fertilizer    string   `json:"fertilizer,omitempty"`
	PestStatus    string   `json:"pest_status,omitempty"`
	HarvestAmount string   `json:"harvest_amount,omitempty"`
	MaterialCost  string   `json:"material_cost,omitempty"`
	WorkDuration  string   `json:"work_duration,omitempty"`
	FuelCost      string   `json:"fuel_cost,omitempty"`
	Location      string   `json:"location,omitempty"`
}

// SetMaxTemp stores t when it is in range and reports whether it was stored.
func (s *Slots) SetMaxTemp(t float64) bool {
	if !ValidTemp(t) {
		return false
	}
	s.MaxTemp = &t
	return true
}

// SetMinTemp stores t when it is in range and reports whether it was stored.
func (s *Slots) SetMinTemp(t float64) bool {
	if !ValidTemp(t) {
		return false
	}
	s.MinTemp = &t
	return true
}

// SetHumidity stores h when it is in range and reports whether it was stored.
func (s *Slots) SetHumidity(h float64) bool {
	if !ValidHumidity(h) {
		return false
	}
	s.Humidity = &h
	return true
}

// HasHouseData reports whether any greenhouse measurement is present.
func (s Slots) HasHouseData() bool {
	return s.MaxTemp != nil || s.MinTemp != nil || s.Humidity != nil
}

// Merge overlays the non-empty fields of other onto s. Numbers go through the range checks.
func (s *Slots) Merge(other Slots) {
	if other.MaxTemp != nil {
		s.SetMaxTemp(*other.MaxTemp)
	}
	if other.MinTemp != nil {
		s.SetMinTemp(*other.MinTemp)
	}
	if other.Humidity != nil {
		s.SetHumidity(*other.Humidity)
	}
	mergeText(&s.WorkLog, other.WorkLog)
	mergeText(&s.PlantStatus, other.PlantStatus)
	mergeText(&s.Fertilizer, other.Fertilizer)
	mergeText(&s.PestStatus, other.PestStatus)
	mergeText(&s.HarvestAmount, other.HarvestAmount)
	mergeText(&s.MaterialCost, other.MaterialCost)
	mergeText(&s.WorkDuration, other.WorkDuration)
	mergeText(&s.FuelCost, other.FuelCost)
	mergeText(&s.Location, other.Location)
}

// Clone returns a deep copy.
func (s Slots) Clone() Slots {
	out := s
	out.MaxTemp = cloneFloat(s.MaxTemp)
	out.MinTemp = cloneFloat(s.MinTemp)
	out.Humidity = cloneFloat(s.Humidity)
	return out
}

func mergeText(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v, for building Slots literals.
func Float(v float64) *float64 {
	return &v
}

// FormatNumber renders a slot number without a trailing ".0".
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
