package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/voltwatch/voltwatch/pkg/common"
	"github.com/voltwatch/voltwatch/pkg/log"
	"github.com/voltwatch/voltwatch/pkg/types"
)

// Conditions reported on samples.
const (
	ConditionClear        = "clear"
	ConditionPartlyCloudy = "partly_cloudy"
	ConditionCloudy       = "cloudy"
	ConditionFog          = "fog"
	ConditionDrizzle      = "drizzle"
	ConditionRain         = "rain"
	ConditionSnow         = "snow"
	ConditionThunderstorm = "thunderstorm"
)

// open-meteo returns local times without an offset
const openMeteoTimeLayout = "2006-01-02T15:04"

// OpenMeteo implements Provider using the Open-Meteo forecast API, which
// also serves recent history.
type OpenMeteo struct {
	apiURL string
	client *http.Client
}

var _ Provider = (*OpenMeteo)(nil)

func configuredOpenMeteo() *OpenMeteo {
	o := &OpenMeteo{}
	apiURL := lflag.String("weather-api-url", "https://api.open-meteo.com/v1/forecast", "URL for the Open-Meteo forecast API")
	timeout := lflag.Duration("weather-timeout", 10*time.Second, "Timeout for each weather request")

	lflag.Do(func() {
		o.apiURL = *apiURL
		o.client = common.HTTPClient(*timeout)
	})

	return o
}

// NewOpenMeteo returns an OpenMeteo provider for the given API URL.
func NewOpenMeteo(apiURL string, client *http.Client) *OpenMeteo {
	return &OpenMeteo{apiURL: apiURL, client: client}
}

// Validate ensures the configuration is valid.
func (o *OpenMeteo) Validate() error {
	if o.apiURL == "" {
		return fmt.Errorf("weather-api-url is required")
	}
	if _, err := url.Parse(o.apiURL); err != nil {
		return fmt.Errorf("failed to parse weather url (%s): %w", o.apiURL, err)
	}
	return nil
}

type openMeteoResponse struct {
	Hourly struct {
		Time               []string   `json:"time"`
		Temperature        []*float64 `json:"temperature_2m"`
		RelativeHumidity   []*float64 `json:"relative_humidity_2m"`
		CloudCover         []*float64 `json:"cloud_cover"`
		ShortwaveRadiation []*float64 `json:"shortwave_radiation"`
		WeatherCode        []*int     `json:"weather_code"`
	} `json:"hourly"`
	Daily struct {
		Time    []string `json:"time"`
		Sunrise []string `json:"sunrise"`
		Sunset  []string `json:"sunset"`
	} `json:"daily"`
}

// SampleAt implements Provider.
func (o *OpenMeteo) SampleAt(ctx context.Context, site types.Site, at time.Time) (types.WeatherSample, error) {
	at = at.UTC()
	u, err := url.Parse(o.apiURL)
	if err != nil {
		return types.WeatherSample{}, fmt.Errorf("invalid api url: %w", err)
	}

	// the day either side covers sites far from UTC whose local day spans
	// two UTC dates
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(site.Latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(site.Longitude, 'f', 4, 64))
	params.Set("hourly", "temperature_2m,relative_humidity_2m,cloud_cover,shortwave_radiation,weather_code")
	params.Set("daily", "sunrise,sunset")
	params.Set("timezone", "UTC")
	params.Set("start_date", at.AddDate(0, 0, -1).Format(time.DateOnly))
	params.Set("end_date", at.AddDate(0, 0, 1).Format(time.DateOnly))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return types.WeatherSample{}, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching weather from open-meteo", "url", u.String())

	resp, err := o.client.Do(req)
	if err != nil {
		return types.WeatherSample{}, fmt.Errorf("failed to fetch weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.WeatherSample{}, fmt.Errorf("open-meteo returned status: %d", resp.StatusCode)
	}

	var data openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return types.WeatherSample{}, fmt.Errorf("failed to decode response: %w", err)
	}

	sample, err := data.sampleAt(at)
	if err != nil {
		return types.WeatherSample{}, err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched weather",
		slog.Time("hour", sample.Timestamp),
		slog.Float64("irradiance", sample.IrradianceWM2),
		slog.String("condition", sample.Condition),
	)
	return sample, nil
}

func (r *openMeteoResponse) sampleAt(at time.Time) (types.WeatherSample, error) {
	hour := at.Truncate(time.Hour)
	idx := -1
	for i, ts := range r.Hourly.Time {
		t, err := time.ParseInLocation(openMeteoTimeLayout, ts, time.UTC)
		if err != nil {
			return types.WeatherSample{}, fmt.Errorf("failed to parse hourly time (%s): %w", ts, err)
		}
		if t.Equal(hour) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return types.WeatherSample{}, fmt.Errorf("no hourly weather for %s", hour.Format(time.RFC3339))
	}

	temp, ok := valueAt(r.Hourly.Temperature, idx)
	if !ok {
		return types.WeatherSample{}, fmt.Errorf("missing temperature for %s", hour.Format(time.RFC3339))
	}
	humidity, _ := valueAt(r.Hourly.RelativeHumidity, idx)
	cloud, _ := valueAt(r.Hourly.CloudCover, idx)
	radiation, _ := valueAt(r.Hourly.ShortwaveRadiation, idx)
	var code int
	if idx < len(r.Hourly.WeatherCode) && r.Hourly.WeatherCode[idx] != nil {
		code = *r.Hourly.WeatherCode[idx]
	}

	sunrise, sunset, err := r.daylight(at)
	if err != nil {
		return types.WeatherSample{}, err
	}

	return types.WeatherSample{
		Timestamp:     hour,
		TemperatureC:  temp,
		Humidity:      humidity,
		CloudCover:    min(100, max(0, cloud)),
		IrradianceWM2: max(0, radiation),
		Sunrise:       sunrise,
		Sunset:        sunset,
		Condition:     Condition(code),
	}, nil
}

// daylight returns the sunrise and sunset of the latest day whose sunrise is
// not after at.
func (r *openMeteoResponse) daylight(at time.Time) (sunrise, sunset time.Time, err error) {
	n := min(len(r.Daily.Sunrise), len(r.Daily.Sunset))
	if n == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("no daily sunrise/sunset returned")
	}
	for i := 0; i < n; i++ {
		rise, err := time.ParseInLocation(openMeteoTimeLayout, r.Daily.Sunrise[i], time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("failed to parse sunrise (%s): %w", r.Daily.Sunrise[i], err)
		}
		set, err := time.ParseInLocation(openMeteoTimeLayout, r.Daily.Sunset[i], time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("failed to parse sunset (%s): %w", r.Daily.Sunset[i], err)
		}
		if i > 0 && rise.After(at) {
			break
		}
		sunrise, sunset = rise, set
	}
	return sunrise, sunset, nil
}

func valueAt(values []*float64, idx int) (float64, bool) {
	if idx >= len(values) || values[idx] == nil {
		return 0, false
	}
	return *values[idx], true
}

// Condition maps a WMO weather interpretation code onto a condition tag.
func Condition(code int) string {
	switch {
	case code == 0:
		return ConditionClear
	case code == 1 || code == 2:
		return ConditionPartlyCloudy
	case code == 3:
		return ConditionCloudy
	case code == 45 || code == 48:
		return ConditionFog
	case code >= 51 && code <= 57:
		return ConditionDrizzle
	case (code >= 61 && code <= 67) || (code >= 80 && code <= 82):
		return ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return ConditionSnow
	case code >= 95 && code <= 99:
		return ConditionThunderstorm
	default:
		return ConditionCloudy
	}
}
