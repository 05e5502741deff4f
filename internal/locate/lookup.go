package locate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Radio is a cell radio network type.
type Radio string

const (
	RadioGSM   Radio = "gsm"
	RadioCDMA  Radio = "cdma"
	RadioWCDMA Radio = "wcdma"
	RadioLTE   Radio = "lte"
)

// Valid reports whether the radio type is one we understand.
func (r Radio) Valid() bool {
	switch r {
	case RadioGSM, RadioCDMA, RadioWCDMA, RadioLTE:
		return true
	}
	return false
}

func (r Radio) String() string {
	return string(r)
}

var (
	macPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)
	macStrip   = strings.NewReplacer(":", "", "-", "", ".", "")

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("mac12", func(fl validator.FieldLevel) bool {
		mac := fl.Field().String()
		if !macPattern.MatchString(mac) {
			return false
		}
		// all-zero and broadcast addresses carry no location signal
		return mac != "000000000000" && mac != "ffffffffffff"
	})
	if err != nil {
		panic(fmt.Sprintf("locate: register mac validator: %v", err))
	}
	return v
}

// CellObservation is a raw, unvalidated cell network report as decoded
// from a request body. Optional fields stay nil when absent.
type CellObservation struct {
	Radio  string
	MCC    *int
	MNC    *int
	LAC    *int
	CID    *int
	PSC    *int
	Signal *int
	TA     *int
	Age    *int
}

// WifiObservation is a raw, unvalidated Wi-Fi network report.
type WifiObservation struct {
	MAC       string
	Age       *int
	Channel   *int
	Frequency *int
	Signal    *int
	SNR       *int
	SSID      string
}

// FallbackObservation carries the raw fallback toggles of a request.
// Nil fields mean the client did not specify a preference.
type FallbackObservation struct {
	LACF *bool
	IPF  *bool
}

// CellLookup is a validated cell tower observation.
type CellLookup struct {
	Radio  Radio `json:"radio" validate:"required,oneof=gsm cdma wcdma lte"`
	MCC    int   `json:"mcc" validate:"min=1,max=999"`
	MNC    int   `json:"mnc" validate:"min=0,max=999"`
	LAC    int   `json:"lac" validate:"min=1,max=65533"`
	CID    int   `json:"cid" validate:"min=1,max=268435455"`
	Signal *int  `json:"signal,omitempty" validate:"omitempty,min=-140,max=-1"`
	TA     *int  `json:"ta,omitempty" validate:"omitempty,min=0,max=63"`
	PSC    *int  `json:"psc,omitempty" validate:"omitempty,min=0,max=511"`
	Age    *int  `json:"age,omitempty"`
}

// maxGSMCID is the highest cell id a GSM network can assign. WCDMA and
// LTE use longer ids.
const maxGSMCID = 65535

// NewCellLookup validates a raw observation into a cell lookup. The
// second return value is false when any provided field is out of range
// or a required field is missing.
func NewCellLookup(obs CellObservation) (CellLookup, bool) {
	if obs.MCC == nil || obs.MNC == nil || obs.LAC == nil || obs.CID == nil {
		return CellLookup{}, false
	}
	lookup := CellLookup{
		Radio:  Radio(obs.Radio),
		MCC:    *obs.MCC,
		MNC:    *obs.MNC,
		LAC:    *obs.LAC,
		CID:    *obs.CID,
		Signal: obs.Signal,
		TA:     obs.TA,
		PSC:    obs.PSC,
		Age:    obs.Age,
	}
	if err := validate.Struct(lookup); err != nil {
		return CellLookup{}, false
	}
	if lookup.Radio == RadioGSM && lookup.CID > maxGSMCID {
		return CellLookup{}, false
	}
	return lookup, true
}

// CellID is the canonical identity of the tower, also used as the
// storage key.
func (c CellLookup) CellID() string {
	return fmt.Sprintf("%s:%d:%d:%d:%d", c.Radio, c.MCC, c.MNC, c.LAC, c.CID)
}

// AreaID identifies the cell area the tower belongs to.
func (c CellLookup) AreaID() string {
	return fmt.Sprintf("%s:%d:%d:%d", c.Radio, c.MCC, c.MNC, c.LAC)
}

// Better reports whether c is a strictly better observation of the
// same tower than other. Any one comparable criterion in c's favor is
// enough: stronger signal, lower age or lower timing advance.
func (c CellLookup) Better(other CellLookup) bool {
	if intGreater(c.Signal, other.Signal) {
		return true
	}
	if intLess(c.Age, other.Age) {
		return true
	}
	return intLess(c.TA, other.TA)
}

// CellAreaLookup is a validated cell observation missing the cell id,
// identifying only the larger coverage area.
type CellAreaLookup struct {
	Radio  Radio `json:"radio" validate:"required,oneof=gsm cdma wcdma lte"`
	MCC    int   `json:"mcc" validate:"min=1,max=999"`
	MNC    int   `json:"mnc" validate:"min=0,max=999"`
	LAC    int   `json:"lac" validate:"min=1,max=65533"`
	Signal *int  `json:"signal,omitempty" validate:"omitempty,min=-140,max=-1"`
	TA     *int  `json:"ta,omitempty" validate:"omitempty,min=0,max=63"`
	Age    *int  `json:"age,omitempty"`
}

// NewCellAreaLookup validates a raw observation into an area lookup.
// The cell id is not required.
func NewCellAreaLookup(obs CellObservation) (CellAreaLookup, bool) {
	if obs.MCC == nil || obs.MNC == nil || obs.LAC == nil {
		return CellAreaLookup{}, false
	}
	lookup := CellAreaLookup{
		Radio:  Radio(obs.Radio),
		MCC:    *obs.MCC,
		MNC:    *obs.MNC,
		LAC:    *obs.LAC,
		Signal: obs.Signal,
		TA:     obs.TA,
		Age:    obs.Age,
	}
	if err := validate.Struct(lookup); err != nil {
		return CellAreaLookup{}, false
	}
	return lookup, true
}

// AreaID is the canonical identity of the area, also used as the
// storage key.
func (a CellAreaLookup) AreaID() string {
	return fmt.Sprintf("%s:%d:%d:%d", a.Radio, a.MCC, a.MNC, a.LAC)
}

// Better reports whether a is a strictly better observation of the
// same area than other.
func (a CellAreaLookup) Better(other CellAreaLookup) bool {
	if intGreater(a.Signal, other.Signal) {
		return true
	}
	if intLess(a.Age, other.Age) {
		return true
	}
	return intLess(a.TA, other.TA)
}

// WifiLookup is a validated Wi-Fi network observation. The MAC address
// is canonicalized to twelve lowercase hex digits. The SSID is never
// forwarded outside the process.
type WifiLookup struct {
	MAC       string `json:"mac" validate:"required,mac12"`
	Signal    *int   `json:"signal,omitempty" validate:"omitempty,min=-100,max=-1"`
	SNR       *int   `json:"snr,omitempty" validate:"omitempty,min=0,max=100"`
	Channel   *int   `json:"channel,omitempty" validate:"omitempty,min=1,max=196"`
	Frequency *int   `json:"frequency,omitempty" validate:"omitempty,min=2400,max=5999"`
	Age       *int   `json:"age,omitempty"`
	SSID      string `json:"-"`
}

// NewWifiLookup validates a raw observation into a Wi-Fi lookup.
func NewWifiLookup(obs WifiObservation) (WifiLookup, bool) {
	lookup := WifiLookup{
		MAC:       CanonicalMAC(obs.MAC),
		Signal:    obs.Signal,
		SNR:       obs.SNR,
		Channel:   obs.Channel,
		Frequency: obs.Frequency,
		Age:       obs.Age,
		SSID:      obs.SSID,
	}
	if err := validate.Struct(lookup); err != nil {
		return WifiLookup{}, false
	}
	return lookup, true
}

// Better reports whether w is a strictly better observation of the
// same network than other.
func (w WifiLookup) Better(other WifiLookup) bool {
	if intGreater(w.Signal, other.Signal) {
		return true
	}
	return intLess(w.Age, other.Age)
}

// CanonicalMAC lowercases a MAC address and strips separator
// characters. It does not validate the result.
func CanonicalMAC(mac string) string {
	return macStrip.Replace(strings.ToLower(strings.TrimSpace(mac)))
}

// FallbackLookup holds the validated fallback toggles of a query. Both
// default to enabled.
type FallbackLookup struct {
	// LACF allows cell area based position estimates.
	LACF bool `json:"lacf"`
	// IPF allows GeoIP based position estimates.
	IPF bool `json:"ipf"`
}

// NewFallbackLookup applies defaults to a raw fallback observation. A
// nil observation enables everything.
func NewFallbackLookup(obs *FallbackObservation) FallbackLookup {
	lookup := FallbackLookup{LACF: true, IPF: true}
	if obs == nil {
		return lookup
	}
	if obs.LACF != nil {
		lookup.LACF = *obs.LACF
	}
	if obs.IPF != nil {
		lookup.IPF = *obs.IPF
	}
	return lookup
}

// filterCells validates and de-duplicates raw cell observations. Every
// area-valid observation contributes an area lookup, whether or not it
// is also a complete cell. Duplicate identities keep the better
// observation, with later reports replacing earlier equals.
func filterCells(obs []CellObservation) ([]CellAreaLookup, []CellLookup) {
	var (
		areaOrder []string
		areas     = make(map[string]CellAreaLookup)
		cellOrder []string
		cells     = make(map[string]CellLookup)
	)
	for _, o := range obs {
		if area, ok := NewCellAreaLookup(o); ok {
			id := area.AreaID()
			existing, seen := areas[id]
			if !seen {
				areaOrder = append(areaOrder, id)
				areas[id] = area
			} else if !existing.Better(area) {
				areas[id] = area
			}
		}
		if cell, ok := NewCellLookup(o); ok {
			id := cell.CellID()
			existing, seen := cells[id]
			if !seen {
				cellOrder = append(cellOrder, id)
				cells[id] = cell
			} else if !existing.Better(cell) {
				cells[id] = cell
			}
		}
	}
	areaList := make([]CellAreaLookup, 0, len(areaOrder))
	for _, id := range areaOrder {
		areaList = append(areaList, areas[id])
	}
	cellList := make([]CellLookup, 0, len(cellOrder))
	for _, id := range cellOrder {
		cellList = append(cellList, cells[id])
	}
	return areaList, cellList
}

// filterWifis validates and de-duplicates raw Wi-Fi observations.
// Fewer than MinWifisInQuery surviving networks yields none at all.
func filterWifis(obs []WifiObservation) []WifiLookup {
	var (
		order []string
		wifis = make(map[string]WifiLookup)
	)
	for _, o := range obs {
		wifi, ok := NewWifiLookup(o)
		if !ok {
			continue
		}
		existing, seen := wifis[wifi.MAC]
		if !seen {
			order = append(order, wifi.MAC)
			wifis[wifi.MAC] = wifi
		} else if !existing.Better(wifi) {
			wifis[wifi.MAC] = wifi
		}
	}
	if len(order) < MinWifisInQuery {
		return nil
	}
	list := make([]WifiLookup, 0, len(order))
	for _, id := range order {
		list = append(list, wifis[id])
	}
	return list
}

func intGreater(a, b *int) bool {
	return a != nil && b != nil && *a > *b
}

func intLess(a, b *int) bool {
	return a != nil && b != nil && *a < *b
}
