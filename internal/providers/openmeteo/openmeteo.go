// Package openmeteo reads current and next-day weather from the Open-Meteo forecast API.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"agrivoice/internal/domain"
)

const defaultBaseURL = "https://api.open-meteo.com/v1"

var errShortForecast = errors.New("forecast has no entry for tomorrow")

type Config struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	Timezone  string
	Timeout   time.Duration
}

// Client implements ports.WeatherSource.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Tokyo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Describe maps a WMO weather code to the short label spoken to the farmer.
func Describe(code int) string {
	switch {
	case code == 0:
		return "快晴"
	case code <= 3:
		return "晴れ"
	case code <= 49:
		return "曇り"
	case code <= 69:
		return "雨"
	case code <= 79:
		return "雪"
	default:
		return "荒天"
	}
}

func (c *Client) Current(ctx context.Context) (domain.OutdoorWeather, error) {
	var body struct {
		Current struct {
			Temperature float64 `json:"temperature"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	if err := c.get(ctx, url.Values{"current_weather": {"true"}}, &body); err != nil {
		return domain.OutdoorWeather{}, fmt.Errorf("failed to fetch current weather: %w", err)
	}
	return domain.OutdoorWeather{
		Description: Describe(body.Current.WeatherCode),
		Temperature: body.Current.Temperature,
		Code:        body.Current.WeatherCode,
	}, nil
}

func (c *Client) Tomorrow(ctx context.Context) (domain.Forecast, error) {
	var body struct {
		Daily struct {
			WeatherCode []int     `json:"weathercode"`
			MaxTemp     []float64 `json:"temperature_2m_max"`
			MinTemp     []float64 `json:"temperature_2m_min"`
		} `json:"daily"`
	}
	q := url.Values{
		"daily":         {"weathercode,temperature_2m_max,temperature_2m_min"},
		"forecast_days": {"2"},
	}
	if err := c.get(ctx, q, &body); err != nil {
		return domain.Forecast{}, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	d := body.Daily
	if len(d.WeatherCode) < 2 || len(d.MaxTemp) < 2 || len(d.MinTemp) < 2 {
		return domain.Forecast{}, errShortForecast
	}
	return domain.Forecast{Description: Describe(d.WeatherCode[1]), MaxTemp: d.MaxTemp[1], MinTemp: d.MinTemp[1]}, nil
}

func (c *Client) get(ctx context.Context, q url.Values, out any) error {
	q.Set("latitude", strconv.FormatFloat(c.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(c.cfg.Longitude, 'f', -1, 64))
	q.Set("timezone", c.cfg.Timezone)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/forecast?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open-meteo status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
