package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/servihub/servihub/services/booking-service/internal/slotplan"
)

// HTTPClient resolves schedules against the catalog service's internal API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type dayScheduleResponse struct {
	Timezone        string `json:"timezone"`
	Open            bool   `json:"open"`
	OpenMinute      int    `json:"open_minute"`
	CloseMinute     int    `json:"close_minute"`
	ServiceName     string `json:"service_name"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (c *HTTPClient) DaySchedule(ctx context.Context, providerID, serviceID, date string) (DaySchedule, error) {
	q := url.Values{}
	q.Set("provider_id", providerID)
	q.Set("service_id", serviceID)
	q.Set("date", date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/internal/v1/schedule?"+q.Encode(), nil)
	if err != nil {
		return DaySchedule{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return DaySchedule{}, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return DaySchedule{}, ErrNotFound
	default:
		return DaySchedule{}, fmt.Errorf("catalog responded %d", resp.StatusCode)
	}

	var body dayScheduleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return DaySchedule{}, fmt.Errorf("decode catalog response: %w", err)
	}

	return DaySchedule{
		Timezone: body.Timezone,
		Open:     body.Open,
		Window: slotplan.OperatingWindow{
			StartMinute: body.OpenMinute,
			EndMinute:   body.CloseMinute,
			SlotMinutes: body.DurationMinutes,
		},
		ServiceName:     body.ServiceName,
		DurationMinutes: body.DurationMinutes,
	}, nil
}
