package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	logx "trendbot/pkg/logx"
)

// PublishRequest asks the publisher to post the content behind PayloadRef
// for a topic. DecisionID doubles as the idempotency key so a
// crash-recovered re-attempt cannot double-post.
type PublishRequest struct {
	DecisionID  string `json:"decision_id"`
	CandidateID string `json:"candidate_id"`
	Topic       string `json:"topic"`
	Category    string `json:"category"`
	PayloadRef  string `json:"payload_ref"`
}

// PublishReceipt identifies the published content.
type PublishReceipt struct {
	ContentID string `json:"content_id"`
}

type publishInitRequest struct {
	DecisionID string `json:"decision_id"`
	PayloadRef string `json:"payload_ref"`
}

type publishInitResponse struct {
	UploadURL string `json:"upload_url"`
	PublishID string `json:"publish_id"`
}

type publishUploadRequest struct {
	PayloadRef string `json:"payload_ref"`
}

type publishCommitRequest struct {
	PublishID string `json:"publish_id"`
	Topic     string `json:"topic"`
	Category  string `json:"category"`
}

// PublisherClient drives the platform's three-step posting flow: init a
// session, upload the payload to the handed-out URL, then publish the
// session. Any step failing fails the whole attempt; the next attempt
// restarts from init under the same decision id.
type PublisherClient struct {
	c *client
}

func NewPublisherClient(ep Endpoint, log logx.Logger) *PublisherClient {
	return &PublisherClient{c: newClient(ep, log.With(logx.String("client", "publisher")))}
}

func (p *PublisherClient) Publish(ctx context.Context, req PublishRequest) (PublishReceipt, error) {
	var init publishInitResponse
	err := p.c.doJSON(ctx, "publisher.init", http.MethodPost, "/v1/publish/init",
		publishInitRequest{DecisionID: req.DecisionID, PayloadRef: req.PayloadRef}, &init)
	if err != nil {
		return PublishReceipt{}, err
	}
	if strings.TrimSpace(init.UploadURL) == "" || strings.TrimSpace(init.PublishID) == "" {
		return PublishReceipt{}, &TransientError{
			Op: "publisher.init", Err: fmt.Errorf("response missing upload target"),
		}
	}

	err = p.c.doJSON(ctx, "publisher.upload", http.MethodPut, init.UploadURL,
		publishUploadRequest{PayloadRef: req.PayloadRef}, nil)
	if err != nil {
		return PublishReceipt{}, err
	}

	var out PublishReceipt
	err = p.c.doJSON(ctx, "publisher.publish", http.MethodPost, "/v1/publish",
		publishCommitRequest{PublishID: init.PublishID, Topic: req.Topic, Category: req.Category}, &out)
	if err != nil {
		return PublishReceipt{}, err
	}
	if strings.TrimSpace(out.ContentID) == "" {
		// A success without a content id cannot be reconciled later; treat
		// it as retryable so the next attempt can return a usable receipt.
		return PublishReceipt{}, &TransientError{
			Op: "publisher.publish", Err: fmt.Errorf("response missing content_id"),
		}
	}
	return out, nil
}
