package platform

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	logx "trendbot/pkg/logx"
)

// ContentMetrics is the engagement snapshot for one published content id.
type ContentMetrics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Shares   int64 `json:"shares"`
	Comments int64 `json:"comments"`
}

// AnalyticsClient fetches post-publication metrics.
type AnalyticsClient struct {
	c *client
}

func NewAnalyticsClient(ep Endpoint, log logx.Logger) *AnalyticsClient {
	return &AnalyticsClient{c: newClient(ep, log.With(logx.String("client", "analytics")))}
}

// Metrics returns the current metrics for contentID. Content the platform
// has not indexed yet (202 or 404) comes back as ErrNotReady, to be retried
// on a later reconcile pass.
func (a *AnalyticsClient) Metrics(ctx context.Context, contentID string) (ContentMetrics, error) {
	var out ContentMetrics
	err := a.c.doJSON(ctx, "analytics.metrics", http.MethodGet, "/v1/metrics/"+url.PathEscape(contentID), nil, &out)
	if err != nil {
		var pe *PermanentError
		if errors.As(err, &pe) && pe.Status == http.StatusNotFound {
			return ContentMetrics{}, ErrNotReady
		}
		return ContentMetrics{}, err
	}
	return out, nil
}
