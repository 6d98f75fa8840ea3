package model

import (
	"math"

	"github.com/google/uuid"
)

// Alert threshold constants. Pressure thresholds apply after PSI→bar
// conversion.
const (
	LowPressureBar  = 90.0
	HighPressureBar = 135.0
	HighTemperature = 95.0
	LowDepthMM      = 3.0
	GPSTimeoutMin   = 30
)

// Alert types and names.
const (
	TypePressure    = "pressure"
	TypeTemperature = "temperature"
	TypeDepth       = "depth"
	TypeGPS         = "gps"

	NameLowPressure     = "low_pressure"
	NameHighPressure    = "high_pressure"
	NameHighTemperature = "high_temperature"
	NameLowDepth        = "low_depth"
	NameGPSTimeout      = "gps_timeout"
)

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Alert is the short form embedded on sensor and load documents. The
// bootstrap reconciliation reads these back to decide which stored alerts
// are still live.
type Alert struct {
	Type   string  `json:"type" bson:"type"`
	Name   string  `json:"name" bson:"name"`
	Value  float64 `json:"value" bson:"value"`
	TireID string  `json:"tireId,omitempty" bson:"tireId,omitempty"`
}

// AlertDoc is the full document persisted in the Alerts collection and
// broadcast on the alerts stream.
type AlertDoc struct {
	Folio              string  `json:"folio" bson:"folio"`
	Status             string  `json:"status" bson:"status"`
	Type               string  `json:"type" bson:"type"`
	Name               string  `json:"name" bson:"name"`
	Value              float64 `json:"value" bson:"value"`
	TireID             string  `json:"tireId,omitempty" bson:"tireId,omitempty"`
	LicensePlateNumber string  `json:"licensePlateNumber" bson:"licensePlateNumber"`
	VehicleID          string  `json:"vehicleId" bson:"vehicleId"`
	RealPosition       *int    `json:"realPosition,omitempty" bson:"realPosition,omitempty"`
	ReceiveTime        string  `json:"receiveTime,omitempty" bson:"receiveTime,omitempty"`
	UnitIdentifier     string  `json:"unitIdentifier,omitempty" bson:"unitIdentifier,omitempty"`
	UnitType           string  `json:"unitType,omitempty" bson:"unitType,omitempty"`
	CompanyID          int     `json:"companyId,omitempty" bson:"companyId,omitempty"`
}

// NewFolio returns a short user-visible alert id: the first 8 hex characters
// of a v4 UUID.
func NewFolio() string {
	return uuid.NewString()[:8]
}

// PSIToBar converts a raw PSI reading to bar, rounded to 2 decimals. All
// persisted and broadcast pressures are in bar.
func PSIToBar(psi float64) float64 {
	return math.Round(psi/6.895*100) / 100
}

// EvaluateSensorAlerts applies the pressure and temperature thresholds.
// pressureBar must already be converted to bar. The returned order is
// pressure first, then temperature.
func EvaluateSensorAlerts(pressureBar, temperature *float64, tireID string) []Alert {
	var alerts []Alert
	if pressureBar != nil {
		switch {
		case *pressureBar < LowPressureBar:
			alerts = append(alerts, Alert{Type: TypePressure, Name: NameLowPressure, Value: *pressureBar, TireID: tireID})
		case *pressureBar > HighPressureBar:
			alerts = append(alerts, Alert{Type: TypePressure, Name: NameHighPressure, Value: *pressureBar, TireID: tireID})
		}
	}
	if temperature != nil && *temperature > HighTemperature {
		alerts = append(alerts, Alert{Type: TypeTemperature, Name: NameHighTemperature, Value: *temperature, TireID: tireID})
	}
	return alerts
}

// EvaluateLoadAlerts applies the tread-depth threshold.
func EvaluateLoadAlerts(depth *float64, tireID string) []Alert {
	if depth != nil && *depth < LowDepthMM {
		return []Alert{{Type: TypeDepth, Name: NameLowDepth, Value: *depth, TireID: tireID}}
	}
	return nil
}

// SpareTireNote returns the annotation for spare tire positions, or "".
func SpareTireNote(realPosition int) string {
	switch realPosition {
	case 11:
		return "Spare tire 1"
	case 12:
		return "Spare tire 2"
	default:
		return ""
	}
}
