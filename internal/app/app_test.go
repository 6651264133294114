package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/api"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/config"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeHostedGateway answers charges with TXN1 and reports success once
// statusCalls reaches succeedOn (0 means never).
type fakeHostedGateway struct {
	mu          sync.Mutex
	charges     int
	statusCalls int
	succeedOn   int
}

func (g *fakeHostedGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/charges":
		g.charges++
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"reference":"TXN1","instructions":"Approve the prompt on your phone"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/charges/TXN1":
		g.statusCalls++
		status := "pending"
		if g.succeedOn > 0 && g.statusCalls >= g.succeedOn {
			status = "successful"
		}
		_, _ = io.WriteString(w, `{"status":"`+status+`"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestApp(t *testing.T, gw *fakeHostedGateway) (*App, *gin.Engine) {
	t.Helper()
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	v := viper.New()
	v.Set("gateway_base_url", srv.URL)
	v.Set("gateway_secret_key", "sk_test")
	v.Set("gateway_webhook_secret", "whsec")
	v.Set("poll_interval", "5ms")
	v.Set("poll_attempts", 400)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Checkout.Shutdown(ctx)
		_ = a.Close()
	})

	gin.SetMode(gin.TestMode)
	return a, a.Server().Router(api.Config{})
}

type paymentView struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Attempts  int    `json:"attempts"`
	Breakdown struct {
		TotalCharged string `json:"total_charged"`
	} `json:"breakdown"`
}

func startDonation(t *testing.T, router *gin.Engine) paymentView {
	t.Helper()
	body := `{"kind":"donation","subject_id":"campaign-1","amount":"100","method":"mobile_money","provider":"mtn","phone":"0961234567","payer_name":"Chanda"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var view paymentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func getPayment(t *testing.T, router *gin.Engine, id string) paymentView {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/payments/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var view paymentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

// statusOf is safe to call from Eventually's goroutine.
func statusOf(router *gin.Engine, id string) string {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/payments/"+id, nil))
	var view paymentView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		return ""
	}
	return view.Status
}

func TestDonationSettlesThroughPolling(t *testing.T) {
	gw := &fakeHostedGateway{succeedOn: 2}
	_, router := newTestApp(t, gw)

	started := startDonation(t, router)
	assert.Equal(t, "TXN1", started.Reference)
	assert.Equal(t, "105.00", started.Breakdown.TotalCharged)

	require.Eventually(t, func() bool {
		return statusOf(router, started.PaymentID) == "active"
	}, 2*time.Second, 10*time.Millisecond)

	final := getPayment(t, router, started.PaymentID)
	assert.Equal(t, 2, final.Attempts)
	gw.mu.Lock()
	assert.Equal(t, 1, gw.charges)
	gw.mu.Unlock()
}

func TestDonationSettlesThroughWebhook(t *testing.T) {
	gw := &fakeHostedGateway{}
	a, router := newTestApp(t, gw)

	started := startDonation(t, router)

	body := `{"event_id":"ev-1","reference":"TXN1","status":"successful"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.NewHostedProcessor(a.Config.GatewayWebhookSecret).Sign([]byte(body)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		return statusOf(router, started.PaymentID) == "active"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeperUsesAppReconciler(t *testing.T) {
	gw := &fakeHostedGateway{}
	a, _ := newTestApp(t, gw)
	sw := a.Sweeper()
	summary, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Checked)
}
