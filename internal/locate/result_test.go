package locate

import (
	"testing"
)

func TestNewPositionRoundsCoordinates(t *testing.T) {
	result := NewPosition(SourceInternal, 51.123456789, -0.987654321, 100, 1)
	if result.Lat != 51.1234568 {
		t.Errorf("Lat = %v, want 51.1234568", result.Lat)
	}
	if result.Lon != -0.9876543 {
		t.Errorf("Lon = %v, want -0.9876543", result.Lon)
	}
}

func TestResultEmpty(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		empty  bool
	}{
		{"zero position", EmptyPosition(), true},
		{"position without accuracy", Result{Kind: KindPosition, Lat: 51.5, Lon: -0.1}, true},
		{"position", NewPosition(SourceInternal, 51.5, -0.1, 100, 1), false},
		{"zero region", EmptyRegion(), true},
		{"region", NewRegion(SourceInternal, "GB", "United Kingdom", 500000, 1), false},
		{"region code without accuracy", Result{Kind: KindRegion, RegionCode: "GB"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Empty(); got != tt.empty {
				t.Errorf("Empty() = %v, want %v", got, tt.empty)
			}
		})
	}
}

func TestResultDataAccuracy(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   DataAccuracy
	}{
		{"empty position", EmptyPosition(), AccuracyNone},
		{"empty region", EmptyRegion(), AccuracyNone},
		{"wifi grade position", NewPosition(SourceInternal, 51.5, -0.1, 150, 1), AccuracyHigh},
		{"cell grade position", NewPosition(SourceInternal, 51.5, -0.1, 25000, 1), AccuracyMedium},
		{"geoip grade position", NewPosition(SourceGeoIP, 51.5, -0.1, 2000000, 0.9), AccuracyLow},
		{"region is at best low", NewRegion(SourceInternal, "GB", "United Kingdom", 100, 1), AccuracyLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.DataAccuracy(); got != tt.want {
				t.Errorf("DataAccuracy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultKindString(t *testing.T) {
	if got := KindPosition.String(); got != "position" {
		t.Errorf("KindPosition.String() = %q", got)
	}
	if got := KindRegion.String(); got != "region" {
		t.Errorf("KindRegion.String() = %q", got)
	}
}

func TestResultListBest(t *testing.T) {
	t.Run("empty list yields empty result of its kind", func(t *testing.T) {
		best := NewResultList(KindRegion).Best()
		if !best.Empty() || best.Kind != KindRegion {
			t.Errorf("Best() = %+v, want empty region", best)
		}
	})

	t.Run("highest score wins", func(t *testing.T) {
		list := NewResultList(KindPosition)
		list.Add(
			NewPosition(SourceGeoIP, 1, 1, 25000, 0.9),
			NewPosition(SourceInternal, 2, 2, 100, 1.5),
			NewPosition(SourceInternal, 3, 3, 5000, 1.0),
		)
		if best := list.Best(); best.Lat != 2 {
			t.Errorf("Best() = %+v, want the score 1.5 result", best)
		}
	})

	t.Run("ties keep the earliest", func(t *testing.T) {
		list := NewResultList(KindPosition)
		list.Add(
			NewPosition(SourceInternal, 1, 1, 100, 1.0),
			NewPosition(SourceInternal, 2, 2, 100, 1.0),
		)
		if best := list.Best(); best.Lat != 1 {
			t.Errorf("Best() = %+v, want the first result", best)
		}
	})

	t.Run("empty results never win", func(t *testing.T) {
		list := NewResultList(KindPosition)
		list.Add(EmptyPosition(), NewPosition(SourceInternal, 1, 1, 100, 0.1), EmptyPosition())
		if best := list.Best(); best.Empty() || best.Lat != 1 {
			t.Errorf("Best() = %+v, want the single non-empty result", best)
		}
	})
}

func TestResultListExtend(t *testing.T) {
	list := NewResultList(KindPosition)
	list.Add(EmptyPosition())

	other := NewResultList(KindPosition)
	other.Add(NewPosition(SourceInternal, 1, 1, 100, 1))

	list.Extend(other)
	list.Extend(nil)

	if list.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", list.Len())
	}
	if results := list.Results(); results[1].Lat != 1 {
		t.Errorf("Results()[1] = %+v, want the extended result", results[1])
	}
}

func TestResultListSatisfies(t *testing.T) {
	q, err := NewQuery(Params{
		Type: TypeLocate,
		Wifis: []WifiObservation{
			{MAC: "0123456789ab"},
			{MAC: "0123456789ac"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := AccuracyHigh; q.ExpectedAccuracy() != want {
		t.Fatalf("ExpectedAccuracy() = %v, want %v", q.ExpectedAccuracy(), want)
	}

	list := NewResultList(KindPosition)
	if list.Satisfies(q) {
		t.Error("an empty list cannot satisfy a wifi query")
	}
	list.Add(NewPosition(SourceInternal, 1, 1, 30000, 1))
	if list.Satisfies(q) {
		t.Error("a city grade result cannot satisfy a wifi query")
	}
	list.Add(NewPosition(SourceInternal, 1, 1, 200, 2))
	if !list.Satisfies(q) {
		t.Error("a street grade result satisfies a wifi query")
	}
}
