package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rbxrewards/funnel-service/internal/app"
	"github.com/rbxrewards/funnel-service/internal/domain"
	"github.com/rbxrewards/funnel-service/internal/funnel"
	"github.com/rbxrewards/funnel-service/internal/session"
	"github.com/rbxrewards/funnel-service/internal/store"
)

type fakeRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
	seq    []uuid.UUID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: make(map[uuid.UUID]*domain.Order)}
}

func (f *fakeRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = uuid.New()
	order.Status = domain.OrderStatusPending
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	copied := *order
	f.orders[order.ID] = &copied
	f.seq = append(f.seq, order.ID)
	return nil
}

func (f *fakeRepo) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeRepo) UpdateOrder(ctx context.Context, orderID uuid.UUID, params store.UpdateOrderParams) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	if params.Status != nil {
		order.Status = *params.Status
	}
	if params.Email != nil {
		order.Email = params.Email
	}
	order.UpdatedAt = time.Now()
	copied := *order
	return &copied, nil
}

func (f *fakeRepo) ListOrders(ctx context.Context) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Order, 0, len(f.seq))
	for i := len(f.seq) - 1; i >= 0; i-- {
		out = append(out, *f.orders[f.seq[i]])
	}
	return out, nil
}

func (f *fakeRepo) firstOrder() (*domain.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seq) == 0 {
		return nil, false
	}
	copied := *f.orders[f.seq[0]]
	return &copied, true
}

type fakeLookup struct{}

func (fakeLookup) Lookup(ctx context.Context, username string) (*domain.PlayerProfile, error) {
	return &domain.PlayerProfile{ID: 156, Username: username, DisplayName: username}, nil
}

type fakeIssuer struct {
	mu      sync.Mutex
	charges int
}

func (f *fakeIssuer) Authenticate(ctx context.Context) (string, error) {
	return "token-1", nil
}

func (f *fakeIssuer) IssueCharge(ctx context.Context, token string, amountCentavos int64, description string) (*domain.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges++
	return &domain.Charge{
		AmountCentavos: amountCentavos,
		Identifier:     fmt.Sprintf("txn-%d", f.charges),
		PayableCode:    "00020126pix",
		IssuedAt:       time.Now(),
	}, nil
}

type testEnv struct {
	server *httptest.Server
	repo   *fakeRepo
	auth   *AdminAuthenticator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newFakeRepo()
	svc := app.NewService(repo, nil)
	pricer := &app.Pricer{Catalog: domain.DefaultCatalog(), BaseFeeCentavos: 999}
	lookup := fakeLookup{}

	funnelCfg := funnel.Config{
		CountingDuration:  30 * time.Millisecond,
		CountingSteps:     6,
		PostCountingPause: 10 * time.Millisecond,
		TransferDuration:  40 * time.Millisecond,
		TransferSteps:     8,
		FeeResumeStep:     time.Millisecond,
		VerifyPauses:      []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	}
	sessCfg := session.Config{
		ExpirySeconds: 600,
		TickInterval:  50 * time.Millisecond,
		DebounceQuiet: 20 * time.Millisecond,
		VerifyDelay:   5 * time.Millisecond,
	}

	factory := func(id string) (*funnel.Sequencer, *session.Controller) {
		var seq *funnel.Sequencer
		ctrl := session.NewController(&fakeIssuer{}, func() int64 {
			return pricer.TotalPayable(domain.SelectionFromIDs(seq.SelectedAddOnIDs()))
		}, func() string {
			return "Robux package"
		}, sessCfg)
		seq = funnel.NewSequencer(pricer.Catalog, lookup, ctrl, funnelCfg)
		ctrl.SetOnFirstCharge(func(charge *domain.Charge, amountCentavos int64) {
			robux := 0
			if pkg, ok := seq.SelectedPackage(); ok {
				robux = pricer.TotalRobux(pkg, domain.SelectionFromIDs(seq.SelectedAddOnIDs()))
			}
			_, _ = svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
				Username:       seq.Username(),
				RobuxAmount:    robux,
				AmountCentavos: amountCentavos,
				PixCode:        charge.PayableCode,
				TransactionID:  charge.Identifier,
				Reference:      seq.OrderReference(),
			})
		})
		return seq, ctrl
	}

	registry := session.NewRegistry(factory, time.Minute)
	auth := NewAdminAuthenticator(NewSharedSecretVerifier("hunter2"), "test-signing-secret", time.Hour)
	handlers := NewFunnelHandlers(registry, svc, lookup, pricer, auth, nil)
	server := httptest.NewServer(FunnelRoutes(handlers, RouterOptions{}))
	t.Cleanup(server.Close)

	return &testEnv{server: server, repo: repo, auth: auth}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var fields map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&fields)
	return resp, fields
}

func rawString(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(fields[key], &s); err != nil {
		t.Fatalf("field %q is not a string: %v", key, err)
	}
	return s
}

func sessionFrom(t *testing.T, fields map[string]json.RawMessage) sessionResponse {
	t.Helper()
	var resp sessionResponse
	raw, ok := fields["session"]
	if !ok {
		// Endpoints returning the session at the top level.
		buf, err := json.Marshal(fields)
		if err != nil {
			t.Fatalf("re-marshal: %v", err)
		}
		raw = buf
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return resp
}

func TestFunnelFlowEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	resp, fields := env.do(t, http.MethodPost, "/funnel", nil, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	sess := sessionFrom(t, fields)
	if sess.SessionID == "" || sess.Funnel.Stage != funnel.StageVerification {
		t.Fatalf("unexpected initial session: %+v", sess)
	}
	base := "/funnel/" + sess.SessionID

	resp, _ = env.do(t, http.MethodPost, base+"/verify", map[string]string{"username": "builderman"}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: status %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, base+"/continue", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("continue: status %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, base+"/package", map[string]int{"robux": 800}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select package: status %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, fields = env.do(t, http.MethodGet, base, nil, "")
		sess = sessionFrom(t, fields)
		if sess.Funnel.FeePending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transfer never held for the fee, stage=%s", sess.Funnel.Stage)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, fields = env.do(t, http.MethodPost, base+"/fee/confirm", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm fee: status %d", resp.StatusCode)
	}
	sess = sessionFrom(t, fields)
	if sess.Funnel.Stage != funnel.StagePixPayment {
		t.Fatalf("expected payment stage, got %q", sess.Funnel.Stage)
	}
	if sess.Payment.State != "active" || sess.Payment.Charge == nil {
		t.Fatalf("expected an active charge, got %+v", sess.Payment)
	}
	if sess.AmountCentavos != 999 {
		t.Fatalf("base charge must be the processing fee, got %d", sess.AmountCentavos)
	}

	order, ok := env.repo.firstOrder()
	if !ok {
		t.Fatal("first charge must persist an order")
	}
	if order.Username != "builderman" || order.AmountCentavos != 999 || !strings.HasPrefix(order.Reference, "RBX-") {
		t.Fatalf("unexpected order: %+v", order)
	}

	resp, fields = env.do(t, http.MethodPost, base+"/addons/upsell2/toggle", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle add-on: status %d", resp.StatusCode)
	}
	sess = sessionFrom(t, fields)
	if sess.AmountCentavos != 999+2990 {
		t.Fatalf("add-on must reprice the total, got %d", sess.AmountCentavos)
	}
	if sess.TotalRobux != 800+1700+300 {
		t.Fatalf("add-on must raise the promised quantity, got %d", sess.TotalRobux)
	}
}

func TestPaymentVerificationReportsUnpaid(t *testing.T) {
	env := newTestEnv(t)

	_, fields := env.do(t, http.MethodPost, "/funnel", nil, "")
	sess := sessionFrom(t, fields)

	resp, fields := env.do(t, http.MethodPost, "/funnel/"+sess.SessionID+"/payment/verify", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify payment: status %d", resp.StatusCode)
	}
	var paid bool
	if err := json.Unmarshal(fields["paid"], &paid); err != nil || paid {
		t.Fatalf("verification must report unpaid, got %s err=%v", fields["paid"], err)
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/funnel/"+uuid.NewString(), nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAdminAuthGuardsDashboard(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/admin/orders", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dashboard without token must be rejected, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/admin/login", map[string]string{"password": "wrong"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password must be rejected, got %d", resp.StatusCode)
	}

	resp, fields := env.do(t, http.MethodPost, "/admin/login", map[string]string{"password": "hunter2"}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
	token := rawString(t, fields, "token")

	resp, fields = env.do(t, http.MethodGet, "/admin/orders", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard with token: status %d", resp.StatusCode)
	}
	if _, ok := fields["metrics"]; !ok {
		t.Fatal("dashboard response must include metrics")
	}
}

func TestAdminOrderUpdateFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, fields := env.do(t, http.MethodPost, "/orders", domain.CreateOrderRequest{
		Username:       "builderman",
		RobuxAmount:    800,
		AmountCentavos: 999,
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order: status %d", resp.StatusCode)
	}
	orderID := rawString(t, fields, "id")

	_, fields = env.do(t, http.MethodPost, "/admin/login", map[string]string{"password": "hunter2"}, "")
	token := rawString(t, fields, "token")

	resp, fields = env.do(t, http.MethodPatch, "/admin/orders/"+orderID, map[string]string{"status": "completed"}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update order: status %d body=%v", resp.StatusCode, fields)
	}
	if got := rawString(t, fields, "status"); got != "completed" {
		t.Fatalf("expected completed, got %q", got)
	}

	resp, _ = env.do(t, http.MethodPatch, "/admin/orders/"+orderID, map[string]string{"status": "cancelled"}, token)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("completed->cancelled must be rejected, got %d", resp.StatusCode)
	}
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	env := newTestEnv(t)

	resp, fields := env.do(t, http.MethodPost, "/webhook/pix", map[string]string{"event": "cashin.paid", "id": "txn-9"}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status %d", resp.StatusCode)
	}
	if got := rawString(t, fields, "status"); got != "received" {
		t.Fatalf("expected received ack, got %q", got)
	}

	// Order state is untouched by webhook notifications.
	if _, ok := env.repo.firstOrder(); ok {
		t.Fatal("webhook must not create or modify orders")
	}
}
