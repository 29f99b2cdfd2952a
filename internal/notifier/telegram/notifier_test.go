package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookfeed-bot/bookfeed/internal/delivery"
	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/internal/renderer"
	"github.com/bookfeed-bot/bookfeed/pkg/retry"
)

// fakeAPI records Bot API calls and answers them.
type fakeAPI struct {
	mu      sync.Mutex
	methods []string
	status  func(method string) (int, string) // optional error injection
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		f.mu.Lock()
		f.methods = append(f.methods, method)
		inject := f.status
		f.mu.Unlock()

		if inject != nil {
			if code, desc := inject(method); code != 0 {
				w.WriteHeader(http.StatusOK)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"ok":          false,
					"error_code":  code,
					"description": desc,
				})
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":42,"type":"private"}}}`))
	}
}

func (f *fakeAPI) calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.methods {
		if m == method {
			n++
		}
	}
	return n
}

func newTestNotifier(t *testing.T, api *fakeAPI) *Notifier {
	t.Helper()

	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig("test-token")
	cfg.BaseURL = srv.URL
	return NewNotifier(NewClient(cfg), nil)
}

func sampleDelivery(pages ...int) delivery.Delivery {
	user := &reading.User{ID: 42, Username: "reader"}
	doc := &reading.Document{ID: "doc-1", OwnerID: 42, Title: "moby-dick.pdf", PageCount: 600}

	artifacts := make([]renderer.Artifact, 0, len(pages))
	for _, p := range pages {
		artifacts = append(artifacts, renderer.Artifact{
			DocumentID: doc.ID,
			Page:       p,
			Quality:    reading.QualityStandard,
			Format:     "pdf",
			Data:       []byte("%PDF"),
		})
	}

	return delivery.Delivery{
		User:      user,
		Document:  doc,
		Artifacts: artifacts,
		FromPage:  pages[0],
		ToPage:    pages[len(pages)-1],
	}
}

func TestNotifier_DeliverSendsEveryPage(t *testing.T) {
	api := &fakeAPI{}
	n := newTestNotifier(t, api)

	err := n.Deliver(context.Background(), sampleDelivery(4, 5, 6))
	require.NoError(t, err)

	assert.Equal(t, 3, api.calls("sendDocument"))
	assert.Equal(t, 0, api.calls("sendMessage"))
}

func TestNotifier_DeliverCompletionSendsSummary(t *testing.T) {
	api := &fakeAPI{}
	n := newTestNotifier(t, api)

	d := sampleDelivery(599, 600)
	d.Completed = true
	d.Deltas.CompletionBonus = true
	d.Deltas.AchievementsUnlocked = []string{"book_complete"}

	err := n.Deliver(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, 2, api.calls("sendDocument"))
	assert.Equal(t, 1, api.calls("sendMessage"))
}

func TestNotifier_BlockedUserIsPermanent(t *testing.T) {
	api := &fakeAPI{
		status: func(method string) (int, string) {
			if method == "sendDocument" {
				return 403, "Forbidden: bot was blocked by the user"
			}
			return 0, ""
		},
	}
	n := newTestNotifier(t, api)

	err := n.Deliver(context.Background(), sampleDelivery(1))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestNotifier_ServerErrorIsRetryable(t *testing.T) {
	api := &fakeAPI{
		status: func(method string) (int, string) {
			if method == "sendDocument" {
				return 502, "Bad Gateway"
			}
			return 0, ""
		},
	}
	n := newTestNotifier(t, api)

	err := n.Deliver(context.Background(), sampleDelivery(1))
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
}

func TestClient_RetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &APIError{Code: 429, Description: "Too Many Requests"}, true},
		{"server error", &APIError{Code: 502, Description: "Bad Gateway"}, true},
		{"bad request", &APIError{Code: 400, Description: "chat not found"}, false},
		{"forbidden", &APIError{Code: 403, Description: "bot was blocked"}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestPageFileName(t *testing.T) {
	doc := &reading.Document{Title: "war/and:peace?.pdf"}
	assert.Equal(t, "war_and_peace_ - p007.pdf", pageFileName(doc, 7))
}
