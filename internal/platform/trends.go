package platform

import (
	"context"
	"net/http"
	"time"

	logx "trendbot/pkg/logx"
)

// TrendingTopic is the wire shape of one topic from the trends feed.
// ObservedAt is optional; feeds that omit it get the fetch time instead.
type TrendingTopic struct {
	Topic      string    `json:"topic"`
	Category   string    `json:"category"`
	Volume     int64     `json:"volume"`
	Growth     float64   `json:"growth_rate"`
	ObservedAt time.Time `json:"observed_at"`
}

// TrendsClient fetches the current trending topics.
type TrendsClient struct {
	c *client
}

func NewTrendsClient(ep Endpoint, log logx.Logger) *TrendsClient {
	return &TrendsClient{c: newClient(ep, log.With(logx.String("client", "trends")))}
}

func (t *TrendsClient) Fetch(ctx context.Context) ([]TrendingTopic, error) {
	var out struct {
		Topics []TrendingTopic `json:"topics"`
	}
	if err := t.c.doJSON(ctx, "trends.fetch", http.MethodGet, "/v1/trends", nil, &out); err != nil {
		return nil, err
	}
	return out.Topics, nil
}
