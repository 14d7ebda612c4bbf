package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/cnweather/internal/apperrors"
	"github.com/kjstillabower/cnweather/internal/models"
	"github.com/kjstillabower/cnweather/internal/observability"
)

// DefaultTimeout is the per-call response budget.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// requiredFields must all be present (and non-null) in a successful payload.
var requiredFields = []string{"place", "temperature", "weather1", "weather2", "humidity", "windScale", "windSpeed"}

// WeatherClient fetches current weather for one query candidate.
type WeatherClient interface {
	Fetch(ctx context.Context, candidate models.QueryCandidate) (models.WeatherResult, error)
}

// TianqiClient calls the apihz.cn current-weather endpoint. Each Fetch makes
// exactly one HTTP request; it never retries and never caches.
type TianqiClient struct {
	endpoint string
	appID    string
	appKey   string
	timeout  time.Duration
	client   *http.Client
	now      func() time.Time
}

// NewTianqiClient creates a client for endpoint using the given credentials.
// A non-positive timeout selects DefaultTimeout.
func NewTianqiClient(endpoint, appID, appKey string, timeout time.Duration) (*TianqiClient, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%w: endpoint is required", apperrors.ErrValidation)
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint: %v", apperrors.ErrValidation, err)
	}
	if appID == "" || appKey == "" {
		return nil, fmt.Errorf("%w: app id and app key are required", apperrors.ErrValidation)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &TianqiClient{
		endpoint: endpoint,
		appID:    appID,
		appKey:   appKey,
		timeout:  timeout,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}, nil
}

// Fetch requests weather for candidate and validates the payload. Errors wrap
// apperrors.ErrNetwork (transport failure, non-2xx), apperrors.ErrTimeout (no
// response within the budget) or apperrors.ErrValidation (bad payload).
func (c *TianqiClient) Fetch(ctx context.Context, candidate models.QueryCandidate) (models.WeatherResult, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, candidate)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.WeatherResult{}, fmt.Errorf("build request: %w", err)
	}

	corrID := extractCorrelationID(ctx)
	if corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		if isTimeout(err) && ctx.Err() == nil {
			observability.WeatherAPICallsTotal.WithLabelValues("timeout").Inc()
			observability.WeatherAPIDuration.WithLabelValues("timeout").Observe(duration)
			return models.WeatherResult{}, fmt.Errorf("%w after %s", apperrors.ErrTimeout, c.timeout)
		}
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)
		if ctx.Err() != nil {
			return models.WeatherResult{}, fmt.Errorf("request canceled: %w", ctx.Err())
		}
		return models.WeatherResult{}, fmt.Errorf("%w: %v", apperrors.ErrNetwork, transportCause(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.WeatherResult{}, fmt.Errorf("%w: HTTP %d", apperrors.ErrNetwork, resp.StatusCode)
	}
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return models.WeatherResult{}, fmt.Errorf("%w reading body after %s", apperrors.ErrTimeout, c.timeout)
		}
		return models.WeatherResult{}, fmt.Errorf("%w: read response body: %v", apperrors.ErrNetwork, err)
	}

	result, err := parseResponse(body)
	if err != nil {
		return models.WeatherResult{}, err
	}
	result.TimestampUTC = c.now().UTC()
	result.QueryLevel = candidate.Label
	return result, nil
}

// ValidateCredentials makes one probe request (province-as-self for Beijing)
// and returns its error, if any.
func (c *TianqiClient) ValidateCredentials(ctx context.Context) error {
	_, err := c.Fetch(ctx, models.QueryCandidate{
		Province: "北京市",
		Place:    "北京市",
		Label:    "province: 北京市",
		Tier:     models.TierProvince,
	})
	if err != nil {
		return fmt.Errorf("credential probe: %w", err)
	}
	return nil
}

// buildRequest encodes GET {endpoint}?id=&key=&sheng=&place= with parameters
// in that order.
func (c *TianqiClient) buildRequest(ctx context.Context, candidate models.QueryCandidate) (*http.Request, error) {
	baseURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	query := "id=" + url.QueryEscape(c.appID) +
		"&key=" + url.QueryEscape(c.appKey) +
		"&sheng=" + url.QueryEscape(candidate.Province) +
		"&place=" + url.QueryEscape(candidate.Place)
	if baseURL.RawQuery != "" {
		query = baseURL.RawQuery + "&" + query
	}
	baseURL.RawQuery = query

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseResponse validates the decoded payload. The API reports failures in
// band as {"code": 400, "msg": "..."}; those and missing fields are
// validation errors.
func parseResponse(body []byte) (models.WeatherResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return models.WeatherResult{}, fmt.Errorf("%w: parse response: %v", apperrors.ErrValidation, err)
	}

	if raw, ok := fields["code"]; ok && !isNull(raw) {
		code, err := decodeFloat(raw)
		if err != nil || code != 200 {
			msg, _ := decodeString(fields["msg"])
			if msg == "" {
				msg = "unexpected code " + strings.Trim(string(raw), `"`)
			}
			return models.WeatherResult{}, fmt.Errorf("%w: api error: %s", apperrors.ErrValidation, msg)
		}
	}

	for _, name := range requiredFields {
		if raw, ok := fields[name]; !ok || isNull(raw) {
			return models.WeatherResult{}, fmt.Errorf("%w: missing field %q", apperrors.ErrValidation, name)
		}
	}

	var r models.WeatherResult
	var err error
	if r.Place, err = decodeString(fields["place"]); err != nil || strings.TrimSpace(r.Place) == "" {
		return models.WeatherResult{}, fieldError("place", err)
	}
	if r.Temperature, err = decodeFloat(fields["temperature"]); err != nil {
		return models.WeatherResult{}, fieldError("temperature", err)
	}
	if r.Weather1, err = decodeString(fields["weather1"]); err != nil {
		return models.WeatherResult{}, fieldError("weather1", err)
	}
	if r.Weather2, err = decodeString(fields["weather2"]); err != nil {
		return models.WeatherResult{}, fieldError("weather2", err)
	}
	if r.Humidity, err = decodeFloat(fields["humidity"]); err != nil {
		return models.WeatherResult{}, fieldError("humidity", err)
	}
	if r.WindScale, err = decodeString(fields["windScale"]); err != nil {
		return models.WeatherResult{}, fieldError("windScale", err)
	}
	if r.WindSpeed, err = decodeFloat(fields["windSpeed"]); err != nil {
		return models.WeatherResult{}, fieldError("windSpeed", err)
	}
	return r, nil
}

func fieldError(name string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: empty field %q", apperrors.ErrValidation, name)
	}
	return fmt.Errorf("%w: field %q: %v", apperrors.ErrValidation, name, err)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// decodeString accepts a JSON string or number.
func decodeString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("not a string or number: %s", raw)
	}
	return n.String(), nil
}

// decodeFloat accepts a JSON number or a numeric string, tolerating a unit
// suffix such as "%" or "℃".
func decodeFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "%℃°Cm/s ")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

// transportCause strips the *url.Error wrapper, whose text carries the full
// request URL including the app key.
func transportCause(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
