package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "trendbot/pkg/logx"
)

func TestTrendsFetchSendsBearerAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"topics": []map[string]any{
				{"topic": "local ai models", "category": "ai", "volume": 125000, "growth_rate": 0.8},
				{"topic": "gpu shortage", "category": "gpu_tech", "volume": 50000, "growth_rate": 0.3},
			},
		})
	}))
	defer srv.Close()

	tc := NewTrendsClient(Endpoint{BaseURL: srv.URL, Token: "tok-123"}, logx.Nop())
	topics, err := tc.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotPath != "/v1/trends" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(topics) != 2 || topics[0].Topic != "local ai models" || topics[0].Volume != 125000 {
		t.Fatalf("decoded topics = %+v", topics)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status     int
		retryAfter string
		transient  bool
	}{
		{status: 408, transient: true},
		{status: 429, retryAfter: "7", transient: true},
		{status: 500, transient: true},
		{status: 503, transient: true},
		{status: 400, transient: false},
		{status: 403, transient: false},
		{status: 404, transient: false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc.retryAfter != "" {
				w.Header().Set("Retry-After", tc.retryAfter)
			}
			http.Error(w, "nope", tc.status)
		}))

		cl := NewTrendsClient(Endpoint{BaseURL: srv.URL}, logx.Nop())
		_, err := cl.Fetch(context.Background())
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if IsTransient(err) != tc.transient {
			t.Fatalf("status %d: IsTransient = %v, want %v (%v)", tc.status, IsTransient(err), tc.transient, err)
		}
		if IsPermanent(err) == tc.transient {
			t.Fatalf("status %d: IsPermanent = %v, want %v", tc.status, IsPermanent(err), !tc.transient)
		}
		if tc.retryAfter != "" {
			var te *TransientError
			if !errors.As(err, &te) || te.RetryAfter != 7*time.Second {
				t.Fatalf("status %d: retry-after not carried: %v", tc.status, err)
			}
		}
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cl := NewTrendsClient(Endpoint{BaseURL: srv.URL, Timeout: 30 * time.Millisecond}, logx.Nop())
	_, err := cl.Fetch(context.Background())
	if !IsTransient(err) {
		t.Fatalf("timeout should classify transient, got %v", err)
	}
}

func TestPublisherDrivesThreeStepFlow(t *testing.T) {
	var initBody, uploadBody, commitBody map[string]any
	var uploadMethod string

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/v1/publish/init", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&initBody)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"upload_url": srv.URL + "/upload/session-1",
			"publish_id": "pub-1",
		})
	})
	mux.HandleFunc("/upload/session-1", func(w http.ResponseWriter, r *http.Request) {
		uploadMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&uploadBody)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/publish", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&commitBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"content_id": "content-9"})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	pc := NewPublisherClient(Endpoint{BaseURL: srv.URL, Token: "tok"}, logx.Nop())
	rec, err := pc.Publish(context.Background(), PublishRequest{
		DecisionID:  "dec-42",
		CandidateID: "cand-1",
		Topic:       "local ai models",
		Category:    "ai",
		PayloadRef:  "decisions/dec-42/payload",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if rec.ContentID != "content-9" {
		t.Fatalf("content id = %q", rec.ContentID)
	}
	if initBody["decision_id"] != "dec-42" || initBody["payload_ref"] != "decisions/dec-42/payload" {
		t.Fatalf("init body = %v", initBody)
	}
	if uploadMethod != http.MethodPut || uploadBody["payload_ref"] != "decisions/dec-42/payload" {
		t.Fatalf("upload: method=%s body=%v", uploadMethod, uploadBody)
	}
	if commitBody["publish_id"] != "pub-1" || commitBody["topic"] != "local ai models" {
		t.Fatalf("commit body = %v", commitBody)
	}
}

func TestPublisherInitWithoutUploadTargetIsTransient(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	pc := NewPublisherClient(Endpoint{BaseURL: srv.URL}, logx.Nop())
	_, err := pc.Publish(context.Background(), PublishRequest{DecisionID: "d", PayloadRef: "p"})
	if !IsTransient(err) {
		t.Fatalf("expected transient, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("init failure must stop the flow, calls = %d", calls)
	}
}

func TestPublisherEmptyReceiptIsTransient(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/v1/publish/init", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"upload_url": srv.URL + "/u", "publish_id": "p"})
	})
	mux.HandleFunc("/u", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/publish", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	pc := NewPublisherClient(Endpoint{BaseURL: srv.URL}, logx.Nop())
	_, err := pc.Publish(context.Background(), PublishRequest{DecisionID: "d", PayloadRef: "p"})
	if !IsTransient(err) {
		t.Fatalf("success without content id must be retryable, got %v", err)
	}
}

func TestAnalyticsNotReadyThenMetrics(t *testing.T) {
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/metrics/content-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		call++
		switch call {
		case 1:
			w.WriteHeader(http.StatusAccepted)
		case 2:
			http.Error(w, "unknown content", http.StatusNotFound)
		default:
			_ = json.NewEncoder(w).Encode(ContentMetrics{Views: 5000, Likes: 200, Shares: 50, Comments: 30})
		}
	}))
	defer srv.Close()

	ac := NewAnalyticsClient(Endpoint{BaseURL: srv.URL}, logx.Nop())
	for i := 0; i < 2; i++ {
		if _, err := ac.Metrics(context.Background(), "content-9"); !errors.Is(err, ErrNotReady) {
			t.Fatalf("call %d: err = %v, want ErrNotReady", i+1, err)
		}
	}
	m, err := ac.Metrics(context.Background(), "content-9")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Views != 5000 || m.Comments != 30 {
		t.Fatalf("metrics = %+v", m)
	}
}
