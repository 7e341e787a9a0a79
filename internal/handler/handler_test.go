package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"defi-scout/internal/domain"
	"defi-scout/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

func f64(v float64) *float64 { return &v }

func newTestRouter(t *testing.T, agg TokenAggregator, apiKey string, setup ...func(*Handler)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := New(trace.NewNoopTracerProvider().Tracer("handler-test"), nil, stubResolver{}, agg)
	h.SetMetrics(observability.NewMetrics("test", prometheus.NewRegistry()))
	for _, fn := range setup {
		fn(h)
	}
	r := gin.New()
	h.RegisterRoutes(r, apiKey)
	return r
}

func serve(r *gin.Engine, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func uniProfile() domain.Outcome {
	return domain.Outcome{Profile: &domain.AggregatedTokenProfile{
		Symbol: "UNI",
		Name:   "Uniswap",
		Market: &domain.MarketMetrics{PriceUSD: f64(7.25), MarketCapUSD: f64(4400000000)},
	}}
}

func TestResolveRoute(t *testing.T) {
	r := newTestRouter(t, &stubAggregator{}, "")

	w := serve(r, http.MethodGet, "/api/resolve?q=uniswap", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body ResolveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if !body.Resolved || body.Symbol != "UNI" {
		t.Fatalf("unexpected response: %+v", body)
	}

	w = serve(r, http.MethodGet, "/api/resolve?q=nope", nil, nil)
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Resolved || body.Suggestion == "" {
		t.Fatalf("expected suggestion for unknown input, got %+v", body)
	}

	w = serve(r, http.MethodGet, "/api/resolve", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", w.Code)
	}
}

func TestGetTokenProfile(t *testing.T) {
	agg := &stubAggregator{out: uniProfile()}
	r := newTestRouter(t, agg, "")

	w := serve(r, http.MethodGet, "/api/tokens/$uni", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if agg.input != "$uni" {
		t.Fatalf("expected raw query to reach the aggregator, got %q", agg.input)
	}
	var body struct {
		Success bool `json:"success"`
		Profile struct {
			Symbol string `json:"symbol"`
			Market struct {
				Price float64 `json:"current_price"`
			} `json:"market_data"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if !body.Success || body.Profile.Symbol != "UNI" || body.Profile.Market.Price != 7.25 {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}
}

func TestGetTokenFailureIsNotAnError(t *testing.T) {
	agg := &stubAggregator{out: domain.Outcome{Failure: &domain.AggregationFailure{Symbol: "UNI", Message: "no data"}}}
	r := newTestRouter(t, agg, "")

	w := serve(r, http.MethodGet, "/api/tokens/UNI", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"success":false`) || !strings.Contains(w.Body.String(), "no data") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestGetTokenUnresolved(t *testing.T) {
	agg := &stubAggregator{err: &domain.UnresolvedSymbolError{Input: "XYZ", Suggestion: "check the spelling"}}
	r := newTestRouter(t, agg, "")

	w := serve(r, http.MethodGet, "/api/tokens/XYZ", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "check the spelling") {
		t.Fatalf("expected suggestion in body: %s", w.Body.String())
	}

	agg.err = errors.New("boom")
	w = serve(r, http.MethodGet, "/api/tokens/XYZ", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestGetTokenSummary(t *testing.T) {
	r := newTestRouter(t, &stubAggregator{out: uniProfile()}, "")

	w := serve(r, http.MethodGet, "/api/tokens/UNI/summary", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	text := w.Body.String()
	if !strings.HasPrefix(text, "**Uniswap (UNI)**") || !strings.Contains(text, "Market Cap: $4,400,000,000") {
		t.Fatalf("unexpected summary: %s", text)
	}
	if !strings.HasSuffix(text, domain.Disclaimer) {
		t.Fatal("expected disclaimer at the end")
	}
}

func TestChatRoute(t *testing.T) {
	adv := &stubAdvisor{reply: "UNI looks active"}
	r := newTestRouter(t, &stubAggregator{}, "", func(h *Handler) { h.SetAdvisor(adv) })

	w := serve(r, http.MethodPost, "/api/chat", []byte(`{"chat_id":42,"message":"what about $UNI?"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if adv.chatID != 42 || adv.message != "what about $UNI?" {
		t.Fatalf("unexpected advisor call: %d %q", adv.chatID, adv.message)
	}
	var body ChatResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Reply != "UNI looks active" {
		t.Fatalf("unexpected reply: %q", body.Reply)
	}

	w = serve(r, http.MethodPost, "/api/chat", []byte(`{"chat_id":42,"message":"  "}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", w.Code)
	}

	adv.err = errors.New("llm down")
	w = serve(r, http.MethodPost, "/api/chat", []byte(`{"chat_id":42,"message":"hi"}`), nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestChatUnavailable(t *testing.T) {
	r := newTestRouter(t, &stubAggregator{}, "")
	w := serve(r, http.MethodPost, "/api/chat", []byte(`{"message":"hi"}`), nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestProfilesRoutes(t *testing.T) {
	store := &stubProfiles{profiles: []*domain.AggregatedTokenProfile{uniProfile().Profile}}
	r := newTestRouter(t, &stubAggregator{}, "", func(h *Handler) { h.SetProfiles(store) })

	w := serve(r, http.MethodGet, "/api/profiles?limit=5", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if store.limit != 5 || !strings.Contains(w.Body.String(), `"count":1`) {
		t.Fatalf("unexpected list response (limit %d): %s", store.limit, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/profiles?limit=9999", nil, nil)
	if store.limit != 50 {
		t.Fatalf("expected default limit for out-of-range value, got %d", store.limit)
	}

	w = serve(r, http.MethodGet, "/api/profiles/uni", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = serve(r, http.MethodGet, "/api/profiles/ABC", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown symbol, got %d", w.Code)
	}
}

func TestProfilesWithoutPersistence(t *testing.T) {
	r := newTestRouter(t, &stubAggregator{}, "")
	for _, path := range []string{"/api/profiles", "/api/profiles/UNI"} {
		if w := serve(r, http.MethodGet, path, nil, nil); w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, w.Code)
		}
	}
}

func TestAPIKeyProtectsAPIGroupOnly(t *testing.T) {
	r := newTestRouter(t, &stubAggregator{out: uniProfile()}, "secret")

	if w := serve(r, http.MethodGet, "/api/tokens/UNI", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/tokens/UNI", nil, map[string]string{"X-API-Key": "wrong"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong key, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/tokens/UNI", nil, map[string]string{"X-API-Key": "secret"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/health", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("expected open /health, got %d", w.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	r := newTestRouter(t, &stubAggregator{}, "", func(h *Handler) { h.SetAdvisor(&stubAdvisor{}) })
	serve(r, http.MethodPost, "/api/chat", []byte(`{"message":"hi"}`), nil)

	w := serve(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `test_advisor_chat_requests_total{channel="http"} 1`) {
		t.Fatalf("expected chat counter in exposition:\n%s", w.Body.String())
	}
}

// --- stubs ---

type stubResolver struct{}

func (stubResolver) Resolve(input string) (string, bool) {
	switch strings.ToLower(strings.TrimPrefix(input, "$")) {
	case "uni", "uniswap":
		return "UNI", true
	}
	return "", false
}

func (stubResolver) SuggestionMessage(input string) string {
	return "I couldn't find a token matching \"" + strings.ToUpper(input) + "\"."
}

type stubAggregator struct {
	out   domain.Outcome
	err   error
	input string
}

func (s *stubAggregator) Aggregate(ctx context.Context, input string) (domain.Outcome, error) {
	s.input = input
	return s.out, s.err
}

type stubAdvisor struct {
	reply   string
	err     error
	chatID  int64
	message string
}

func (s *stubAdvisor) Ask(ctx context.Context, chatID int64, message string) (string, error) {
	s.chatID, s.message = chatID, message
	return s.reply, s.err
}

type stubProfiles struct {
	profiles []*domain.AggregatedTokenProfile
	limit    int
}

func (s *stubProfiles) ListProfiles(ctx context.Context, limit int) ([]*domain.AggregatedTokenProfile, error) {
	s.limit = limit
	return s.profiles, nil
}

func (s *stubProfiles) GetProfile(ctx context.Context, symbol string) (*domain.AggregatedTokenProfile, error) {
	for _, p := range s.profiles {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return nil, nil
}
