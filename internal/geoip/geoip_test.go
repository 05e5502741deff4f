package geoip

import (
	"path/filepath"
	"testing"
)

type stubRegions struct {
	radii map[string]float64
	names map[string]string
}

func (s stubRegions) RegionMaxRadius(code string) (float64, bool) {
	radius, ok := s.radii[code]
	return radius, ok
}

func (s stubRegions) RegionName(code string) string {
	return s.names[code]
}

func testRegions() stubRegions {
	return stubRegions{
		radii: map[string]float64{
			"GB": 563000,
			"FI": 595000,
			"XW": 71000,
		},
		names: map[string]string{
			"GB": "United Kingdom",
			"FI": "Finland",
			"XW": "West Bank and Gaza",
		},
	}
}

func TestNull(t *testing.T) {
	var db Null
	if record := db.Lookup("81.2.69.160"); record != nil {
		t.Errorf("Null.Lookup() = %+v, want nil", record)
	}
	if db.Ping() {
		t.Error("Null.Ping() = true, want false")
	}
	if age := db.AgeInDays(); age != -1 {
		t.Errorf("Null.AgeInDays() = %d, want -1", age)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Null.Close() = %v", err)
	}
}

func cityHit() cityRecord {
	var rec cityRecord
	rec.Country.ISOCode = "GB"
	rec.Location.Latitude = 51.5
	rec.Location.Longitude = -0.1
	rec.City.GeoNameID = 2643743
	rec.City.Names = map[string]string{"en": "London"}
	rec.Subdivisions = []struct {
		ISOCode string `maxminddb:"iso_code"`
	}{{ISOCode: "ENG"}}
	return rec
}

func TestBuildRecord(t *testing.T) {
	reader := &Reader{regions: testRegions()}

	t.Run("city resolution", func(t *testing.T) {
		record := reader.buildRecord(cityHit())
		if record == nil {
			t.Fatal("buildRecord() = nil, want a record")
		}
		if record.Latitude != 51.5 || record.Longitude != -0.1 {
			t.Errorf("position = (%v, %v)", record.Latitude, record.Longitude)
		}
		if record.Radius != 25000 {
			t.Errorf("Radius = %v, want the city cap", record.Radius)
		}
		if record.RegionRadius != 563000 {
			t.Errorf("RegionRadius = %v, want the dataset radius", record.RegionRadius)
		}
		if !record.City {
			t.Error("City = false, want true")
		}
		if record.RegionCode != "GB" || record.RegionName != "United Kingdom" {
			t.Errorf("region = %q %q", record.RegionCode, record.RegionName)
		}
		if record.Score != 0.9 {
			t.Errorf("Score = %v, want 0.9", record.Score)
		}
	})

	t.Run("subdivision resolution", func(t *testing.T) {
		rec := cityHit()
		rec.City.GeoNameID = 0
		rec.City.Names = nil
		record := reader.buildRecord(rec)
		if record == nil {
			t.Fatal("buildRecord() = nil, want a record")
		}
		if record.Radius != 200000 {
			t.Errorf("Radius = %v, want the subdivision cap", record.Radius)
		}
		if record.City {
			t.Error("City = true, want false")
		}
	})

	t.Run("country resolution", func(t *testing.T) {
		rec := cityHit()
		rec.City.GeoNameID = 0
		rec.City.Names = nil
		rec.Subdivisions = nil
		record := reader.buildRecord(rec)
		if record == nil {
			t.Fatal("buildRecord() = nil, want a record")
		}
		if record.Radius != 563000 {
			t.Errorf("Radius = %v, want the full region radius", record.Radius)
		}
	})

	t.Run("small regions bound the subdivision cap", func(t *testing.T) {
		rec := cityHit()
		rec.Country.ISOCode = "PS"
		rec.Location.Latitude = 31.9
		rec.Location.Longitude = 35.2
		rec.City.GeoNameID = 0
		rec.City.Names = nil
		record := reader.buildRecord(rec)
		if record == nil {
			t.Fatal("buildRecord() = nil, want a record")
		}
		if record.RegionCode != "XW" {
			t.Errorf("RegionCode = %q, want the dataset alias", record.RegionCode)
		}
		if record.Radius != 71000 {
			t.Errorf("Radius = %v, want the region radius under the caps", record.Radius)
		}
	})

	t.Run("iso alias", func(t *testing.T) {
		rec := cityHit()
		rec.Country.ISOCode = "AX"
		record := reader.buildRecord(rec)
		if record == nil {
			t.Fatal("buildRecord() = nil, want a record")
		}
		if record.RegionCode != "FI" || record.RegionName != "Finland" {
			t.Errorf("region = %q %q, want the Finnish mainland", record.RegionCode, record.RegionName)
		}
	})

	t.Run("unknown radius falls back to the default", func(t *testing.T) {
		reader := &Reader{regions: stubRegions{
			radii: map[string]float64{},
			names: map[string]string{"GB": "United Kingdom"},
		}}
		rec := cityHit()
		rec.City.GeoNameID = 0
		rec.City.Names = nil
		rec.Subdivisions = nil
		record := reader.buildRecord(rec)
		if record == nil {
			t.Fatal("buildRecord() = nil, want a record")
		}
		if record.Radius != 5000000 {
			t.Errorf("Radius = %v, want the default region radius", record.Radius)
		}
	})

	t.Run("dropped records", func(t *testing.T) {
		noCountry := cityHit()
		noCountry.Country.ISOCode = ""

		noPosition := cityHit()
		noPosition.Location.Latitude = 0
		noPosition.Location.Longitude = 0

		unknownRegion := cityHit()
		unknownRegion.Country.ISOCode = "ZZ"

		for name, rec := range map[string]cityRecord{
			"no country":     noCountry,
			"no position":    noPosition,
			"unknown region": unknownRegion,
		} {
			if record := reader.buildRecord(rec); record != nil {
				t.Errorf("%s: buildRecord() = %+v, want nil", name, record)
			}
		}
	})
}

func TestReaderWithoutDatabase(t *testing.T) {
	reader := &Reader{regions: testRegions()}

	if record := reader.Lookup("81.2.69.160"); record != nil {
		t.Errorf("Lookup() = %+v, want nil without a database", record)
	}
	if reader.Ping() {
		t.Error("Ping() = true without a database")
	}
	if age := reader.AgeInDays(); age != -1 {
		t.Errorf("AgeInDays() = %d, want -1", age)
	}
	if err := reader.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.mmdb")
	if _, err := Open(path, testRegions()); err == nil {
		t.Error("Open(missing file) = nil error, want failure")
	}
}
