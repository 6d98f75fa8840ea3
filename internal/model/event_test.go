package model

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"gps", `{"vehicleId":"v1","latitude":19.43,"longitude":-99.13,"spkm":80}`, KindGPS},
		{"sensor", `{"vehicleId":"v1","pressure":110.2,"temperature":40.1}`, KindSensor},
		{"load", `{"vehicleId":"v1","nowThreadDepth":7.5}`, KindLoad},
		{"gps missing longitude", `{"latitude":19.43}`, KindUnknown},
		{"empty object", `{}`, KindUnknown},
		{"invalid json", `{`, KindUnknown},
		{"null values still classify", `{"pressure":null,"temperature":null}`, KindSensor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify([]byte(tc.raw)); got != tc.want {
				t.Errorf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEnrichmentMerge(t *testing.T) {
	e := Enrichment{TractorName: "ORIG-1", UnitStatus: "active"}
	e.Merge(Enrichment{
		UnitStatus:     "inactive",
		UnitIdentifier: "U-7",
		TractorName:    "API-NAME",
	})

	if e.UnitStatus != "inactive" {
		t.Errorf("UnitStatus = %s, want inactive", e.UnitStatus)
	}
	if e.UnitIdentifier != "U-7" {
		t.Errorf("UnitIdentifier = %s, want U-7", e.UnitIdentifier)
	}
	// A tractor name set by reassignment must survive API data.
	if e.TractorName != "ORIG-1" {
		t.Errorf("TractorName = %s, want ORIG-1", e.TractorName)
	}
}

func TestEnrichmentMergeFillsEmptyTractorName(t *testing.T) {
	var e Enrichment
	e.Merge(Enrichment{TractorName: "API-NAME"})
	if e.TractorName != "API-NAME" {
		t.Errorf("TractorName = %s, want API-NAME", e.TractorName)
	}
}

func TestEnrichmentMergeKeepsExistingOnEmpty(t *testing.T) {
	e := Enrichment{UnitStatus: "active", OrgID: "org-1"}
	e.Merge(Enrichment{})
	if e.UnitStatus != "active" || e.OrgID != "org-1" {
		t.Errorf("empty merge clobbered fields: %+v", e)
	}
}

func TestGPSClone(t *testing.T) {
	m := &GPSMessage{
		VehicleID:                 "v1",
		LicensePlateNumber:        "AAA-111",
		TrailerLicensePlateNumber: "BBB-222",
		Latitude:                  19.43,
	}
	cp := m.Clone()
	cp.LicensePlateNumber = "BBB-222"
	cp.UnitIdentifier = "trailer-unit"

	if m.LicensePlateNumber != "AAA-111" {
		t.Errorf("clone mutated original plate: %s", m.LicensePlateNumber)
	}
	if m.UnitIdentifier != "" {
		t.Errorf("clone mutated original enrichment: %s", m.UnitIdentifier)
	}
}
