package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/cnweather/internal/apperrors"
	"github.com/kjstillabower/cnweather/internal/models"
)

var cityCandidate = models.QueryCandidate{
	Province: "广东省",
	Place:    "深圳市",
	Label:    "city: 深圳市",
	Tier:     models.TierCity,
}

func successPayload() map[string]interface{} {
	return map[string]interface{}{
		"code":        200,
		"place":       "中国, 广东, 深圳",
		"temperature": 28.5,
		"weather1":    "多云",
		"weather2":    "晴",
		"humidity":    70,
		"windScale":   "3级",
		"windSpeed":   4.2,
	}
}

func jsonHandler(t *testing.T, status int, payload interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode payload: %v", err)
		}
	}
}

func newTestClient(t *testing.T, url string, timeout time.Duration) *TianqiClient {
	t.Helper()
	c, err := NewTianqiClient(url, "10006646", "test-app-key", timeout)
	if err != nil {
		t.Fatalf("NewTianqiClient() error = %v", err)
	}
	return c
}

func TestNewTianqiClient_Validation(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		appID    string
		appKey   string
		wantErr  bool
	}{
		{"valid", "https://cn.apihz.cn/api/tianqi/tqyb.php", "id", "key", false},
		{"empty endpoint", "", "id", "key", true},
		{"relative endpoint", "api/tianqi", "id", "key", true},
		{"missing app id", "https://cn.apihz.cn/api/tianqi/tqyb.php", "", "key", true},
		{"missing app key", "https://cn.apihz.cn/api/tianqi/tqyb.php", "id", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewTianqiClient(tt.endpoint, tt.appID, tt.appKey, 0)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewTianqiClient() expected error, got nil")
				}
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Errorf("NewTianqiClient() error = %v, want ErrValidation", err)
				}
				if c != nil {
					t.Error("NewTianqiClient() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTianqiClient() unexpected error: %v", err)
			}
			if c.timeout != DefaultTimeout {
				t.Errorf("timeout = %v, want default %v", c.timeout, DefaultTimeout)
			}
		})
	}
}

func TestTianqiClient_Fetch_Success(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		want := map[string]string{"id": "10006646", "key": "test-app-key", "sheng": "广东省", "place": "深圳市"}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("query %s = %q, want %q", k, got, v)
			}
		}
		jsonHandler(t, http.StatusOK, successPayload())(w, r)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 2*time.Second)
	fixed := time.Date(2024, 7, 1, 16, 0, 0, 0, time.FixedZone("CST", 8*3600))
	c.now = func() time.Time { return fixed }

	got, err := c.Fetch(context.Background(), cityCandidate)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	want := models.WeatherResult{
		Place:        "中国, 广东, 深圳",
		Temperature:  28.5,
		Weather1:     "多云",
		Weather2:     "晴",
		Humidity:     70,
		WindScale:    "3级",
		WindSpeed:    4.2,
		TimestampUTC: fixed.UTC(),
		QueryLevel:   "city: 深圳市",
	}
	if got != want {
		t.Errorf("Fetch() = %+v, want %+v", got, want)
	}
	if got.TimestampUTC.Location() != time.UTC {
		t.Errorf("TimestampUTC location = %v, want UTC", got.TimestampUTC.Location())
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("upstream calls = %d, want exactly 1", n)
	}
}

func TestTianqiClient_Fetch_NumericStrings(t *testing.T) {
	payload := map[string]interface{}{
		"code":        "200",
		"place":       "南山区",
		"temperature": "27.1",
		"weather1":    "阵雨",
		"weather2":    "多云",
		"humidity":    "85%",
		"windScale":   2,
		"windSpeed":   "3.4",
	}
	server := httptest.NewServer(jsonHandler(t, http.StatusOK, payload))
	defer server.Close()

	got, err := newTestClient(t, server.URL, 2*time.Second).Fetch(context.Background(), cityCandidate)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Temperature != 27.1 || got.Humidity != 85 || got.WindSpeed != 3.4 || got.WindScale != "2" {
		t.Errorf("Fetch() = %+v, want numeric fields decoded from strings", got)
	}
}

func TestTianqiClient_Fetch_Errors(t *testing.T) {
	missing := func(field string) map[string]interface{} {
		p := successPayload()
		delete(p, field)
		return p
	}
	nullPlace := successPayload()
	nullPlace["place"] = nil

	tests := []struct {
		name    string
		handler func(*testing.T) http.HandlerFunc
		wantErr error
	}{
		{
			name: "500 server error",
			handler: func(t *testing.T) http.HandlerFunc {
				return jsonHandler(t, http.StatusInternalServerError, map[string]string{})
			},
			wantErr: apperrors.ErrNetwork,
		},
		{
			name:    "404 not found",
			handler: func(t *testing.T) http.HandlerFunc { return jsonHandler(t, http.StatusNotFound, map[string]string{}) },
			wantErr: apperrors.ErrNetwork,
		},
		{
			name: "api error code",
			handler: func(t *testing.T) http.HandlerFunc {
				return jsonHandler(t, http.StatusOK, map[string]interface{}{"code": 400, "msg": "通讯秘钥错误"})
			},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "missing place",
			handler: func(t *testing.T) http.HandlerFunc { return jsonHandler(t, http.StatusOK, missing("place")) },
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "missing temperature",
			handler: func(t *testing.T) http.HandlerFunc { return jsonHandler(t, http.StatusOK, missing("temperature")) },
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "missing windSpeed",
			handler: func(t *testing.T) http.HandlerFunc { return jsonHandler(t, http.StatusOK, missing("windSpeed")) },
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "null place",
			handler: func(t *testing.T) http.HandlerFunc { return jsonHandler(t, http.StatusOK, nullPlace) },
			wantErr: apperrors.ErrValidation,
		},
		{
			name: "non-numeric temperature",
			handler: func(t *testing.T) http.HandlerFunc {
				p := successPayload()
				p["temperature"] = "hot"
				return jsonHandler(t, http.StatusOK, p)
			},
			wantErr: apperrors.ErrValidation,
		},
		{
			name: "invalid json",
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte("<html>maintenance</html>"))
				}
			},
			wantErr: apperrors.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler(t))
			defer server.Close()

			_, err := newTestClient(t, server.URL, 2*time.Second).Fetch(context.Background(), cityCandidate)
			if err == nil {
				t.Fatal("Fetch() expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTianqiClient_Fetch_APIErrorMessage(t *testing.T) {
	server := httptest.NewServer(jsonHandler(t, http.StatusOK, map[string]interface{}{"code": 400, "msg": "地点不存在"}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 2*time.Second).Fetch(context.Background(), cityCandidate)
	if err == nil || !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Fetch() error = %v, want ErrValidation", err)
	}
	if want := "地点不存在"; !strings.Contains(err.Error(), want) {
		t.Errorf("Fetch() error = %q, want message containing %q", err, want)
	}
}

func TestTianqiClient_Fetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, err := newTestClient(t, server.URL, 50*time.Millisecond).Fetch(context.Background(), cityCandidate)
	if err == nil {
		t.Fatal("Fetch() expected timeout error, got nil")
	}
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("Fetch() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fetch() took %v, want roughly the 50ms budget", elapsed)
	}
}

// TestTianqiClient_Fetch_ConnectionRefused verifies a transport failure maps to
// ErrNetwork and its message carries neither the request URL nor credentials.
func TestTianqiClient_Fetch_ConnectionRefused(t *testing.T) {
	// Arrange: a server that is already closed
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	// Act
	_, err := newTestClient(t, url, time.Second).Fetch(context.Background(), cityCandidate)

	// Assert
	if err == nil {
		t.Fatal("Fetch() expected error, got nil")
	}
	if !errors.Is(err, apperrors.ErrNetwork) {
		t.Errorf("Fetch() error = %v, want ErrNetwork", err)
	}
	msg := err.Error()
	for _, secret := range []string{"test-app-key", "key=", "10006646", url} {
		if strings.Contains(msg, secret) {
			t.Errorf("Fetch() error %q exposes %q", msg, secret)
		}
	}
}

func TestTransportCause(t *testing.T) {
	inner := errors.New("connection refused")
	wrapped := &neturl.Error{Op: "Get", URL: "https://cn.apihz.cn/api?id=1&key=secret", Err: inner}

	if got := transportCause(wrapped); got != inner {
		t.Errorf("transportCause(*url.Error) = %v, want the inner error", got)
	}
	if got := transportCause(inner); got != inner {
		t.Errorf("transportCause(plain) = %v, want it unchanged", got)
	}
}

func TestTianqiClient_Fetch_ParentCanceled(t *testing.T) {
	server := httptest.NewServer(jsonHandler(t, http.StatusOK, successPayload()))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, server.URL, time.Second).Fetch(ctx, cityCandidate)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
}

func TestTianqiClient_Fetch_ForwardsCorrelationID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-123" {
			t.Errorf("X-Correlation-ID = %q, want corr-123", got)
		}
		jsonHandler(t, http.StatusOK, successPayload())(w, r)
	}))
	defer server.Close()

	ctx := context.WithValue(context.Background(), "correlation_id", "corr-123")
	if _, err := newTestClient(t, server.URL, time.Second).Fetch(ctx, cityCandidate); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
}

func TestTianqiClient_ValidateCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("place") != "北京市" {
			t.Errorf("probe place = %q, want 北京市", r.URL.Query().Get("place"))
		}
		jsonHandler(t, http.StatusOK, map[string]interface{}{"code": 400, "msg": "通讯秘钥错误"})(w, r)
	}))
	defer server.Close()

	err := newTestClient(t, server.URL, time.Second).ValidateCredentials(context.Background())
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("ValidateCredentials() error = %v, want ErrValidation", err)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{200: "success", 204: "success", 429: "rate_limited", 404: "client_error", 503: "server_error", 302: "error"}
	for code, want := range tests {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
