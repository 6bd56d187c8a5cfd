package enrich

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	chromeDesktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	safariMobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	googlebotUA     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestDeviceFromUserAgent(t *testing.T) {
	e := NewEnricher("")
	defer e.Close()

	d := e.Device(chromeDesktopUA, "203.0.113.9")
	assert.Equal(t, "Chrome", d.Browser)
	assert.Equal(t, "desktop", d.DeviceType)
	assert.NotEmpty(t, d.OS)
	assert.Empty(t, d.Country, "no geo database, no geo fields")

	d = e.Device(safariMobileUA, "")
	assert.Equal(t, "mobile", d.DeviceType)

	d = e.Device(googlebotUA, "")
	assert.Equal(t, "bot", d.DeviceType)
}

func TestDeviceEmptyUserAgent(t *testing.T) {
	e := NewEnricher("")
	defer e.Close()

	d := e.Device("", "203.0.113.9")
	assert.Empty(t, d.Browser)
	assert.Empty(t, d.DeviceType)
}

func TestEnricherToleratesMissingGeoDatabase(t *testing.T) {
	e := NewEnricher("/nonexistent/GeoLite2-City.mmdb")
	defer e.Close()

	d := e.Device(chromeDesktopUA, "203.0.113.9")
	assert.Equal(t, "desktop", d.DeviceType)
	assert.Empty(t, d.Country)
}

func TestClientIPHeaderPrecedence(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/sessions", nil)
	r.RemoteAddr = "10.0.0.1:54321"

	assert.Equal(t, "10.0.0.1", ClientIP(r), "falls back to remote address host")

	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.2, 10.0.0.3")
	assert.Equal(t, "198.51.100.7", ClientIP(r), "first forwarded hop is the client")

	r.Header.Set("X-Real-IP", "192.0.2.44")
	assert.Equal(t, "192.0.2.44", ClientIP(r), "X-Real-IP wins over X-Forwarded-For")
}

func TestClientIPSingleForwardedHop(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/sessions", nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(r))
}
