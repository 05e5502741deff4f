package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-geo/meridian/internal/geoip"
	"github.com/meridian-geo/meridian/internal/locate"
	"github.com/meridian-geo/meridian/internal/ratelimit"
	"github.com/meridian-geo/meridian/internal/storage"
)

// stubSource hands the searcher a fixed result list.
type stubSource struct {
	results *locate.ResultList
}

func (s *stubSource) Name() locate.DataSource { return locate.SourceInternal }

func (s *stubSource) ShouldSearch(*locate.Query, *locate.ResultList) bool { return true }

func (s *stubSource) Search(context.Context, *locate.Query) *locate.ResultList {
	return s.results
}

func positionList(fallback string) *locate.ResultList {
	results := locate.NewResultList(locate.KindPosition)
	result := locate.NewPosition(locate.SourceInternal, 51.5, -0.1, 500, 2)
	result.Fallback = fallback
	results.Add(result)
	return results
}

type mapKeys map[string]storage.APIKey

func (m mapKeys) Get(_ context.Context, key string) (storage.APIKey, error) {
	if k, ok := m[key]; ok {
		return k, nil
	}
	return storage.APIKey{}, storage.ErrKeyNotFound
}

type downKeys struct{}

func (downKeys) Get(context.Context, string) (storage.APIKey, error) {
	return storage.APIKey{}, errors.New("connection refused")
}

func demoKey() storage.APIKey {
	return storage.APIKey{Key: "demo", Name: "demo", AllowLocate: true, AllowRegion: true}
}

// testDeps builds deps with an unusable Redis. Keys without a request
// cap never touch the limiter, which is exactly what these tests rely
// on.
func testDeps(keys storage.KeyStore) LocateDeps {
	return LocateDeps{
		Keys:    keys,
		Limiter: ratelimit.New(nil),
		GeoIP:   geoip.Null{},
	}
}

const wifiBody = `{"wifiAccessPoints":[
	{"macAddress":"01:23:45:67:89:ab","signalStrength":-60},
	{"macAddress":"01:23:45:67:89:ac","signalStrength":-70}]}`

func postGeolocate(handler *GeolocateHandler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Locate(w, req)
	return w
}

func TestGeolocateSuccess(t *testing.T) {
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("")})
	handler := NewGeolocateHandler(testDeps(mapKeys{"demo": demoKey()}), searcher)

	w := postGeolocate(handler, "/v1/geolocate?key=demo", wifiBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"location":{"lat":51.5,"lng":-0.1},"accuracy":500}`, w.Body.String())
}

func TestGeolocateReportsDegradedLookup(t *testing.T) {
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("lacf")})
	handler := NewGeolocateHandler(testDeps(mapKeys{"demo": demoKey()}), searcher)

	w := postGeolocate(handler, "/v1/geolocate?key=demo", wifiBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"location":{"lat":51.5,"lng":-0.1},"accuracy":500,"fallback":"lacf"}`, w.Body.String())
}

func TestGeolocateMiss(t *testing.T) {
	handler := NewGeolocateHandler(testDeps(mapKeys{"demo": demoKey()}), locate.NewSearcher(locate.KindPosition))

	w := postGeolocate(handler, "/v1/geolocate?key=demo", wifiBody)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error": {
		"errors": [{"domain": "geolocation", "reason": "notFound", "message": "Not found"}],
		"code": 404,
		"message": "Not found"
	}}`, w.Body.String())
}

func TestGeolocateParseError(t *testing.T) {
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("")})
	handler := NewGeolocateHandler(testDeps(mapKeys{"demo": demoKey()}), searcher)

	w := postGeolocate(handler, "/v1/geolocate?key=demo", "{not json")

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": {
		"errors": [{"domain": "global", "reason": "parseError", "message": "Parse Error"}],
		"code": 400,
		"message": "Parse Error"
	}}`, w.Body.String())
}

func TestGeolocateRejectsMissingKey(t *testing.T) {
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("")})
	handler := NewGeolocateHandler(testDeps(mapKeys{"demo": demoKey()}), searcher)

	w := postGeolocate(handler, "/v1/geolocate", wifiBody)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "keyInvalid")
}

func TestGeolocateRejectsUnknownKey(t *testing.T) {
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("")})
	handler := NewGeolocateHandler(testDeps(mapKeys{"demo": demoKey()}), searcher)

	w := postGeolocate(handler, "/v1/geolocate?key=nope", wifiBody)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "keyInvalid")
}

func TestGeolocateRejectsKeyWithoutAccess(t *testing.T) {
	key := demoKey()
	key.AllowLocate = false
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("")})
	handler := NewGeolocateHandler(testDeps(mapKeys{"demo": key}), searcher)

	w := postGeolocate(handler, "/v1/geolocate?key=demo", wifiBody)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "keyInvalid")
}

func TestGeolocateSurvivesKeyStoreOutage(t *testing.T) {
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("")})
	handler := NewGeolocateHandler(testDeps(downKeys{}), searcher)

	w := postGeolocate(handler, "/v1/geolocate?key=demo", wifiBody)

	require.Equal(t, http.StatusOK, w.Code, "positioning keeps working while the key store is down")
}

func TestGeolocateDailyQuota(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	key := demoKey()
	key.MaxReq = 1
	deps := LocateDeps{
		Keys:    mapKeys{"demo": key},
		Limiter: ratelimit.New(rdb),
		GeoIP:   geoip.Null{},
	}
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("")})
	handler := NewGeolocateHandler(deps, searcher)

	first := postGeolocate(handler, "/v1/geolocate?key=demo", wifiBody)
	require.Equal(t, http.StatusOK, first.Code)

	second := postGeolocate(handler, "/v1/geolocate?key=demo", wifiBody)
	require.Equal(t, http.StatusForbidden, second.Code)
	assert.Contains(t, second.Body.String(), "dailyLimitExceeded")
}

func TestGeolocateQuotaBackendDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	key := demoKey()
	key.MaxReq = 1
	deps := LocateDeps{
		Keys:    mapKeys{"demo": key},
		Limiter: ratelimit.New(rdb),
		GeoIP:   geoip.Null{},
	}
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("")})
	handler := NewGeolocateHandler(deps, searcher)

	w := postGeolocate(handler, "/v1/geolocate?key=demo", wifiBody)

	require.Equal(t, http.StatusServiceUnavailable, w.Code, "a capped key must not get a free pass")
	assert.Contains(t, w.Body.String(), "serviceUnavailable")
}

func TestGeolocateAcceptsGzip(t *testing.T) {
	searcher := locate.NewSearcher(locate.KindPosition, &stubSource{results: positionList("")})
	handler := NewGeolocateHandler(testDeps(mapKeys{"demo": demoKey()}), searcher)

	body := gzipBody(t, wifiBody)
	req := httptest.NewRequest(http.MethodPost, "/v1/geolocate?key=demo", strings.NewReader(string(body)))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.Locate(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"location":{"lat":51.5,"lng":-0.1},"accuracy":500}`, w.Body.String())
}
