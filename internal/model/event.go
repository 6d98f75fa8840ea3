// Package model defines the inbound telemetry event types, the enrichment
// fields joined onto them, and the alert documents derived from them.
package model

import "encoding/json"

// Kind discriminates the three inbound event variants.
type Kind string

const (
	KindGPS     Kind = "gps"
	KindSensor  Kind = "sensor"
	KindLoad    Kind = "load"
	KindUnknown Kind = "unknown"
)

// Enrichment carries the fields joined onto every event from the truck
// catalog and the SmartTyre API.
type Enrichment struct {
	UnitStatus     string  `json:"unitStatus,omitempty" bson:"unitStatus,omitempty"`
	UnitIdentifier string  `json:"unitIdentifier,omitempty" bson:"unitIdentifier,omitempty"`
	UnitType       string  `json:"unitType,omitempty" bson:"unitType,omitempty"`
	LatestDataTime string  `json:"latestDataTime,omitempty" bson:"latestDataTime,omitempty"`
	LoadData       float64 `json:"loadData,omitempty" bson:"loadData,omitempty"`
	OrgID          string  `json:"orgId,omitempty" bson:"orgId,omitempty"`
	TotalMileage   float64 `json:"totalMileage,omitempty" bson:"totalMileage,omitempty"`
	TractorName    string  `json:"tractorName,omitempty" bson:"tractorName,omitempty"`
}

// Merge overlays non-empty fields of d onto e. TractorName is only taken from
// d when e has none: tractor/trailer reassignment stores the original plate
// there and must not be clobbered by API data.
func (e *Enrichment) Merge(d Enrichment) {
	if d.UnitStatus != "" {
		e.UnitStatus = d.UnitStatus
	}
	if d.UnitIdentifier != "" {
		e.UnitIdentifier = d.UnitIdentifier
	}
	if d.UnitType != "" {
		e.UnitType = d.UnitType
	}
	if d.LatestDataTime != "" {
		e.LatestDataTime = d.LatestDataTime
	}
	if d.LoadData != 0 {
		e.LoadData = d.LoadData
	}
	if d.OrgID != "" {
		e.OrgID = d.OrgID
	}
	if d.TotalMileage != 0 {
		e.TotalMileage = d.TotalMileage
	}
	if d.TractorName != "" && e.TractorName == "" {
		e.TractorName = d.TractorName
	}
}

// GPSMessage is a position report for a tractor (and optionally its trailer).
type GPSMessage struct {
	VehicleID                 string  `json:"vehicleId" bson:"vehicleId"`
	LicensePlateNumber        string  `json:"licensePlateNumber" bson:"licensePlateNumber"`
	TrailerLicensePlateNumber string  `json:"trailerLicensePlateNumber,omitempty" bson:"trailerLicensePlateNumber,omitempty"`
	ReceiveTime               string  `json:"receiveTime" bson:"receiveTime"`
	Latitude                  float64 `json:"latitude" bson:"latitude"`
	Longitude                 float64 `json:"longitude" bson:"longitude"`
	Speed                     float64 `json:"spkm" bson:"spkm"`

	Enrichment `bson:",inline"`
}

// Clone returns a full value copy for trailer dual dispatch. GPSMessage holds
// no reference types, so a plain copy never aliases the original.
func (m *GPSMessage) Clone() *GPSMessage {
	cp := *m
	return &cp
}

// SensorMessage is a tire pressure/temperature reading.
type SensorMessage struct {
	VehicleID                 string   `json:"vehicleId" bson:"vehicleId"`
	LicensePlateNumber        string   `json:"licensePlateNumber" bson:"licensePlateNumber"`
	TrailerLicensePlateNumber string   `json:"trailerLicensePlateNumber,omitempty" bson:"trailerLicensePlateNumber,omitempty"`
	ReceiveTime               string   `json:"receiveTime" bson:"receiveTime"`
	TyreCode                  string   `json:"tyreCode,omitempty" bson:"tyreCode,omitempty"`
	TyreID                    string   `json:"tyreId,omitempty" bson:"tyreId,omitempty"`
	AxleIndex                 int      `json:"axleIndex" bson:"axleIndex"`
	WheelIndex                int      `json:"wheelIndex" bson:"wheelIndex"`
	Pressure                  *float64 `json:"pressure,omitempty" bson:"pressure,omitempty"`
	Temperature               *float64 `json:"temperature,omitempty" bson:"temperature,omitempty"`
	RealPosition              *int     `json:"realPosition,omitempty" bson:"realPosition,omitempty"`
	SpareTireNote             string   `json:"spareTireNote,omitempty" bson:"spareTireNote,omitempty"`
	Alerts                    []Alert  `json:"alerts,omitempty" bson:"alerts,omitempty"`

	Enrichment `bson:",inline"`
}

// LoadMessage is a tire load / tread-depth reading.
type LoadMessage struct {
	VehicleID                 string   `json:"vehicleId" bson:"vehicleId"`
	LicensePlateNumber        string   `json:"licensePlateNumber" bson:"licensePlateNumber"`
	TrailerLicensePlateNumber string   `json:"trailerLicensePlateNumber,omitempty" bson:"trailerLicensePlateNumber,omitempty"`
	ReceiveTime               string   `json:"receiveTime,omitempty" bson:"receiveTime,omitempty"`
	CalculateTime             string   `json:"calculateTime" bson:"calculateTime"`
	TyreCode                  string   `json:"tyreCode,omitempty" bson:"tyreCode,omitempty"`
	TyreID                    string   `json:"tyreId,omitempty" bson:"tyreId,omitempty"`
	AxleIndex                 int      `json:"axleIndex" bson:"axleIndex"`
	WheelIndex                int      `json:"wheelIndex" bson:"wheelIndex"`
	NowThreadDepth            *float64 `json:"nowThreadDepth,omitempty" bson:"nowThreadDepth,omitempty"`
	RealPosition              *int     `json:"realPosition,omitempty" bson:"realPosition,omitempty"`
	SpareTireNote             string   `json:"spareTireNote,omitempty" bson:"spareTireNote,omitempty"`
	Alerts                    []Alert  `json:"alerts,omitempty" bson:"alerts,omitempty"`

	Enrichment `bson:",inline"`
}

// Classify inspects a raw JSON payload and reports which event variant it is.
// GPS carries coordinates, sensors carry pressure+temperature, loads carry a
// tread depth.
func Classify(raw []byte) Kind {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return KindUnknown
	}
	has := func(k string) bool {
		_, ok := fields[k]
		return ok
	}
	switch {
	case has("latitude") && has("longitude"):
		return KindGPS
	case has("pressure") && has("temperature"):
		return KindSensor
	case has("nowThreadDepth"):
		return KindLoad
	default:
		return KindUnknown
	}
}
