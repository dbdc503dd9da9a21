package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/lunahealth/lumen/internal/config"
	insightservice "github.com/lunahealth/lumen/internal/insight/service"
	journaldomain "github.com/lunahealth/lumen/internal/journal/domain"
	journalservice "github.com/lunahealth/lumen/internal/journal/service"
	ledgerdomain "github.com/lunahealth/lumen/internal/ledger/domain"
	ledgerservice "github.com/lunahealth/lumen/internal/ledger/service"
	meteringservice "github.com/lunahealth/lumen/internal/metering/service"
	notificationdomain "github.com/lunahealth/lumen/internal/notification/domain"
	notificationservice "github.com/lunahealth/lumen/internal/notification/service"
	"github.com/lunahealth/lumen/internal/providers/email"
	"github.com/lunahealth/lumen/internal/providers/llm"
	"github.com/lunahealth/lumen/internal/ratelimit"
	"go.uber.org/zap"
	"gorm.io/gorm"

	lumenclock "github.com/lunahealth/lumen/internal/clock"
)

type stubLLM struct {
	text   string
	tokens int64
	err    error
}

func (s *stubLLM) Complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Text: s.text, TotalTokens: s.tokens}, nil
}

type serverFixture struct {
	server *Server
	db     *gorm.DB
	ledger ledgerdomain.Service
	llm    *stubLLM
	locker *ratelimit.MemoryLocker
}

func setupServer(t *testing.T, rateCfg config.RateLimitConfig) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(
		&ledgerdomain.Balance{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.PendingDebit{},
		&journaldomain.CycleEntry{},
		&journaldomain.DailyEntry{},
		&notificationdomain.Preference{},
		&notificationdomain.History{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	policy := config.NewStaticPolicyHolder(config.DefaultPolicyConfig())

	ledger := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node,
	})
	journal := journalservice.NewService(journalservice.ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node,
	})
	notifications := notificationservice.NewService(notificationservice.ServiceParam{
		DB: db, Log: zap.NewNop(),
	})
	metering := meteringservice.NewService(meteringservice.ServiceParam{
		Log: zap.NewNop(), Ledger: ledger, Policy: policy,
	})
	dispatcher := notificationservice.NewDispatcher(notificationservice.DispatcherParam{
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   lumenclock.NewFakeClock(time.Date(2026, time.August, 31, 9, 30, 0, 0, time.UTC)),
		Service: notifications,
		Email:   &email.NoOpProvider{},
	})
	insight := insightservice.NewService(insightservice.ServiceParam{
		Log:           zap.NewNop(),
		Policy:        policy,
		Journal:       journal,
		Notifications: notifications,
		Dispatcher:    dispatcher,
	})

	provider := &stubLLM{text: "hello", tokens: 500}
	locker := ratelimit.NewMemoryLocker()

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:             engine,
		Cfg:             config.Config{RateLimit: rateCfg},
		Log:             zap.NewNop(),
		MeteringSvc:     metering,
		LedgerSvc:       ledger,
		JournalSvc:      journal,
		NotificationSvc: notifications,
		InsightSvc:      insight,
		LLMProvider:     provider,
		ChargeLimiter:   ratelimit.NewChargeLimiter(config.Config{RateLimit: rateCfg}, nil),
		Locker:          locker,
	})
	srv.RegisterAPIRoutes()

	return &serverFixture{server: srv, db: db, ledger: ledger, llm: provider, locker: locker}
}

func doJSON(t *testing.T, f *serverFixture, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func seedBalance(t *testing.T, f *serverFixture, userID string, tokens int64) {
	t.Helper()
	if _, err := f.ledger.SeedBalance(context.Background(), userID, tokens); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func TestChargeEndpoint(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})
	seedBalance(t, f, "user-1", 50_000)

	w := doJSON(t, f, http.MethodPost, "/api/charge", gin.H{
		"user_id":        "user-1",
		"action_kind":    "chat",
		"correlation_id": "corr-1",
		"messages":       []gin.H{{"role": "user", "content": "hi"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success      bool   `json:"success"`
		Output       string `json:"output"`
		Debit        int64  `json:"debit"`
		BalanceAfter int64  `json:"balance_after"`
	}
	decodeBody(t, w, &resp)
	if !resp.Success || resp.Output != "hello" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Debit != 1000 || resp.BalanceAfter != 49_000 {
		t.Fatalf("expected debit 1000 and balance 49000, got %+v", resp)
	}
}

func TestChargeLedgerWriteFailedKeepsOutput(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})
	seedBalance(t, f, "user-1", 50_000)

	// Take the ledger table out while the balance and pending queue stay
	// writable, so only the recording step fails.
	if err := f.db.Exec(`CREATE TRIGGER ledger_entries_offline BEFORE INSERT ON ledger_entries
BEGIN SELECT RAISE(ABORT, 'ledger offline'); END`).Error; err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	w := doJSON(t, f, http.MethodPost, "/api/charge", gin.H{
		"user_id":        "user-1",
		"action_kind":    "chat",
		"correlation_id": "corr-1",
		"messages":       []gin.H{{"role": "user", "content": "hi"}},
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool         `json:"success"`
		Error   errorPayload `json:"error"`
		Output  string       `json:"output"`
		Debit   int64        `json:"debit"`
	}
	decodeBody(t, w, &resp)
	if resp.Success {
		t.Fatalf("expected success=false, got %+v", resp)
	}
	if resp.Error.Type != "ledger_write_failed" {
		t.Fatalf("expected ledger_write_failed, got %q", resp.Error.Type)
	}
	// The work was done, so the caller keeps the output and the debit
	// they will be charged once the queue settles.
	if resp.Output != "hello" || resp.Debit != 1000 {
		t.Fatalf("expected output and debit alongside the error, got %+v", resp)
	}

	if err := f.db.Exec(`DROP TRIGGER ledger_entries_offline`).Error; err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	settled, err := f.ledger.ReplayPendingDebits(context.Background(), 10)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if settled != 1 {
		t.Fatalf("expected 1 settled debit, got %d", settled)
	}
	balance, err := f.ledger.GetBalance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.TokensAvailable != 49_000 {
		t.Fatalf("expected 49000 after settlement, got %d", balance.TokensAvailable)
	}
}

func TestChargeInsufficientBalance(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})
	seedBalance(t, f, "user-1", 50)

	// First charge overdrafts, second is rejected.
	first := doJSON(t, f, http.MethodPost, "/api/charge", gin.H{
		"user_id":        "user-1",
		"action_kind":    "chat",
		"correlation_id": "corr-1",
		"messages":       []gin.H{{"role": "user", "content": "hi"}},
	})
	if first.Code != http.StatusOK {
		t.Fatalf("overdraft charge: expected 200, got %d", first.Code)
	}

	second := doJSON(t, f, http.MethodPost, "/api/charge", gin.H{
		"user_id":        "user-1",
		"action_kind":    "chat",
		"correlation_id": "corr-2",
		"messages":       []gin.H{{"role": "user", "content": "hi"}},
	})
	if second.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", second.Code, second.Body.String())
	}

	var resp errorResponse
	decodeBody(t, second, &resp)
	if resp.Error.Type != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance, got %q", resp.Error.Type)
	}
}

func TestChargeUnknownAction(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})
	seedBalance(t, f, "user-1", 50_000)

	w := doJSON(t, f, http.MethodPost, "/api/charge", gin.H{
		"user_id":        "user-1",
		"action_kind":    "mind_reading",
		"correlation_id": "corr-1",
		"messages":       []gin.H{{"role": "user", "content": "hi"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChargeMissingBalanceIs404(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})

	w := doJSON(t, f, http.MethodPost, "/api/charge", gin.H{
		"user_id":        "ghost",
		"action_kind":    "chat",
		"correlation_id": "corr-1",
		"messages":       []gin.H{{"role": "user", "content": "hi"}},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestChargeRateLimited(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{
		Enabled:     true,
		ChargeRate:  0.001,
		ChargeBurst: 1,
	})
	seedBalance(t, f, "user-1", 50_000)

	first := doJSON(t, f, http.MethodPost, "/api/charge", gin.H{
		"user_id":        "user-1",
		"action_kind":    "chat",
		"correlation_id": "corr-1",
		"messages":       []gin.H{{"role": "user", "content": "hi"}},
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first charge: expected 200, got %d", first.Code)
	}

	second := doJSON(t, f, http.MethodPost, "/api/charge", gin.H{
		"user_id":        "user-1",
		"action_kind":    "chat",
		"correlation_id": "corr-2",
		"messages":       []gin.H{{"role": "user", "content": "hi"}},
	})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestBalanceEndpoint(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})
	seedBalance(t, f, "user-1", 150)

	w := doJSON(t, f, http.MethodGet, "/api/balance?user_id=user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		TokensAvailable int64  `json:"tokens_available"`
		Warning         string `json:"warning"`
	}
	decodeBody(t, w, &resp)
	if resp.TokensAvailable != 150 {
		t.Fatalf("expected 150 tokens, got %d", resp.TokensAvailable)
	}
	if resp.Warning != "critical" {
		t.Fatalf("expected critical warning, got %q", resp.Warning)
	}

	missing := doJSON(t, f, http.MethodGet, "/api/balance?user_id=ghost", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", missing.Code)
	}
}

func TestLedgerEndpoint(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})
	seedBalance(t, f, "user-1", 50_000)

	for i := 0; i < 3; i++ {
		w := doJSON(t, f, http.MethodPost, "/api/charge", gin.H{
			"user_id":        "user-1",
			"action_kind":    "chat",
			"correlation_id": fmt.Sprintf("corr-%d", i),
			"messages":       []gin.H{{"role": "user", "content": "hi"}},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("charge %d: %d", i, w.Code)
		}
	}

	w := doJSON(t, f, http.MethodGet, "/api/ledger?user_id=user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Entries []ledgerdomain.LedgerEntry `json:"entries"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(resp.Entries))
	}
}

func TestJournalCycleRoundTrip(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})

	post := doJSON(t, f, http.MethodPost, "/api/journal/cycles", gin.H{
		"user_id": "user-1",
		"date":    "2026-08-01",
	})
	if post.Code != http.StatusOK {
		t.Fatalf("record cycle: expected 200, got %d: %s", post.Code, post.Body.String())
	}

	bad := doJSON(t, f, http.MethodPost, "/api/journal/cycles", gin.H{
		"user_id": "user-1",
		"date":    "not-a-date",
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", bad.Code)
	}

	get := doJSON(t, f, http.MethodGet, "/api/journal/cycles?user_id=user-1", nil)
	if get.Code != http.StatusOK {
		t.Fatalf("list cycles: expected 200, got %d", get.Code)
	}
	var resp struct {
		Entries []journaldomain.CycleEntry `json:"entries"`
	}
	decodeBody(t, get, &resp)
	if len(resp.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(resp.Entries))
	}
}

func TestNotificationPreferenceRoundTrip(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})

	put := doJSON(t, f, http.MethodPut, "/api/notifications/preferences", gin.H{
		"user_id":        "user-1",
		"cadence":        "weekly",
		"preferred_time": "18:30",
	})
	if put.Code != http.StatusOK {
		t.Fatalf("update preference: expected 200, got %d: %s", put.Code, put.Body.String())
	}

	get := doJSON(t, f, http.MethodGet, "/api/notifications/preferences?user_id=user-1", nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get preference: expected 200, got %d", get.Code)
	}
	var pref notificationdomain.Preference
	decodeBody(t, get, &pref)
	if pref.Cadence != notificationdomain.CadenceWeekly || pref.PreferredTime != "18:30" {
		t.Fatalf("preference not persisted: %+v", pref)
	}

	invalid := doJSON(t, f, http.MethodPut, "/api/notifications/preferences", gin.H{
		"user_id": "user-1",
		"cadence": "hourly",
	})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cadence, got %d", invalid.Code)
	}
}

func TestSchedulerTickLocked(t *testing.T) {
	f := setupServer(t, config.RateLimitConfig{})

	_, ok, err := f.locker.TryLock(context.Background(), "lumen:insight:user-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-lock: ok=%v err=%v", ok, err)
	}

	w := doJSON(t, f, http.MethodPost, "/api/scheduler/tick", gin.H{"user_id": "user-1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while locked, got %d", w.Code)
	}
}
