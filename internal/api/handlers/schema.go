package handlers

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/meridian-geo/meridian/internal/locate"
)

// geolocateRequest mirrors the public geolocate body, which follows
// the Google geolocation API. Unknown fields are ignored. The carrier
// and home network fields are accepted for wire compatibility but
// carry no weight in positioning.
type geolocateRequest struct {
	Carrier               string             `json:"carrier"`
	ConsiderIP            *bool              `json:"considerIp"`
	HomeMobileCountryCode *int               `json:"homeMobileCountryCode"`
	HomeMobileNetworkCode *int               `json:"homeMobileNetworkCode"`
	RadioType             string             `json:"radioType"`
	CellTowers            []cellTowerRequest `json:"cellTowers"`
	WifiAccessPoints      []wifiRequest      `json:"wifiAccessPoints"`
	Fallbacks             *fallbackRequest   `json:"fallbacks"`
}

// cellTowerRequest accepts both the documented radioType and the bare
// radio some firmwares send. When both appear, radioType wins.
type cellTowerRequest struct {
	Radio             string `json:"radio"`
	RadioType         string `json:"radioType"`
	MobileCountryCode *int   `json:"mobileCountryCode"`
	MobileNetworkCode *int   `json:"mobileNetworkCode"`
	LocationAreaCode  *int   `json:"locationAreaCode"`
	CellID            *int   `json:"cellId"`
	Age               *int   `json:"age"`
	PSC               *int   `json:"psc"`
	SignalStrength    *int   `json:"signalStrength"`
	TimingAdvance     *int   `json:"timingAdvance"`
}

type wifiRequest struct {
	MACAddress         string `json:"macAddress"`
	Age                *int   `json:"age"`
	Channel            *int   `json:"channel"`
	Frequency          *int   `json:"frequency"`
	SignalStrength     *int   `json:"signalStrength"`
	SignalToNoiseRatio *int   `json:"signalToNoiseRatio"`
	SSID               string `json:"ssid"`
}

type fallbackRequest struct {
	LACF *bool `json:"lacf"`
	IPF  *bool `json:"ipf"`
}

var validRadioTypes = map[string]bool{
	"gsm":   true,
	"cdma":  true,
	"wcdma": true,
	"lte":   true,
}

// decodeGeolocateRequest reads and parses the request body, handling
// gzip content encoding. An empty body decodes to the zero request,
// which resolves as an IP-only lookup. Malformed gzip, malformed JSON
// and out-of-range radio types fail the whole request.
func decodeGeolocateRequest(r *http.Request) (*geolocateRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return &geolocateRequest{}, nil
	}

	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("decode gzip: %w", err)
		}
		body, err = io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("decode gzip: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("decode gzip: %w", err)
		}
		if len(body) == 0 {
			return &geolocateRequest{}, nil
		}
	}

	var req geolocateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func (req *geolocateRequest) validate() error {
	if req.RadioType != "" && !validRadioTypes[req.RadioType] {
		return fmt.Errorf("invalid radioType %q", req.RadioType)
	}
	for _, cell := range req.CellTowers {
		if cell.Radio != "" && !validRadioTypes[cell.Radio] {
			return fmt.Errorf("invalid radio %q", cell.Radio)
		}
		if cell.RadioType != "" && !validRadioTypes[cell.RadioType] {
			return fmt.Errorf("invalid radioType %q", cell.RadioType)
		}
	}
	return nil
}

// observations converts the wire request into raw observations for
// query canonicalization. The top-level radio type fills in cells that
// did not name their own.
func (req *geolocateRequest) observations() ([]locate.CellObservation, []locate.WifiObservation, *locate.FallbackObservation) {
	var cells []locate.CellObservation
	for _, tower := range req.CellTowers {
		radio := tower.RadioType
		if radio == "" {
			radio = tower.Radio
		}
		if radio == "" {
			radio = req.RadioType
		}
		cells = append(cells, locate.CellObservation{
			Radio:  radio,
			MCC:    tower.MobileCountryCode,
			MNC:    tower.MobileNetworkCode,
			LAC:    tower.LocationAreaCode,
			CID:    tower.CellID,
			PSC:    tower.PSC,
			Signal: tower.SignalStrength,
			TA:     tower.TimingAdvance,
			Age:    tower.Age,
		})
	}

	var wifis []locate.WifiObservation
	for _, network := range req.WifiAccessPoints {
		wifis = append(wifis, locate.WifiObservation{
			MAC:       network.MACAddress,
			Age:       network.Age,
			Channel:   network.Channel,
			Frequency: network.Frequency,
			Signal:    network.SignalStrength,
			SNR:       network.SignalToNoiseRatio,
			SSID:      network.SSID,
		})
	}

	// An explicit fallbacks object overrides considerIp entirely;
	// otherwise considerIp (default true) decides the IP fallback.
	var fallback *locate.FallbackObservation
	if req.Fallbacks != nil {
		fallback = &locate.FallbackObservation{
			LACF: req.Fallbacks.LACF,
			IPF:  req.Fallbacks.IPF,
		}
	} else {
		considerIP := true
		if req.ConsiderIP != nil {
			considerIP = *req.ConsiderIP
		}
		fallback = &locate.FallbackObservation{IPF: &considerIP}
	}

	return cells, wifis, fallback
}
