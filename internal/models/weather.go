package models

import "time"

// WeatherResult is the current weather for one resolved place. Values are never
// mutated after construction; copies are handed to the presentation layer.
type WeatherResult struct {
	Place        string    `json:"place"`
	Temperature  float64   `json:"temperature"`
	Weather1     string    `json:"weather1"`
	Weather2     string    `json:"weather2"`
	Humidity     float64   `json:"humidity"`
	WindScale    string    `json:"windScale"`
	WindSpeed    float64   `json:"windSpeed"`
	TimestampUTC time.Time `json:"timestamp"`
	QueryLevel   string    `json:"queryLevel"`
	FromCache    bool      `json:"fromCache,omitempty"` // Served from ResultCache rather than the API
}
