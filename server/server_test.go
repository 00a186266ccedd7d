package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"restocore/auth"
	"restocore/draft"
	"restocore/events"
	"restocore/hub"
	"restocore/models"
	"restocore/orders"
	"restocore/payments"
	"restocore/sessions"
	"restocore/shifts"
	"restocore/tickets"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type testEnv struct {
	srv      *httptest.Server
	db       *gorm.DB
	tenantID uuid.UUID
	tableID  uuid.UUID
	session  uuid.UUID
	station  uuid.UUID
	burger   uuid.UUID
	waiter   uuid.UUID
	kitchen  uuid.UUID
	manager  uuid.UUID
}

// newTestEnv boots the full router over an in-memory database with static
// tokens enabled, and seeds one active session with a routed menu item.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	bus := events.NewBus()
	ledger := shifts.NewLedger(db, bus, nil)
	engine := payments.NewEngine(db, bus, ledger, payments.NewMercadoPagoClient("", ""), nil)

	srv := New(Config{
		DB:       db,
		Verifier: auth.NewVerifier("", "restocore", true),
		Drafts:   draft.NewCoordinator(db, bus, nil),
		Tickets:  tickets.NewDispatcher(db, bus, nil),
		Orders:   orders.NewService(db, bus, nil),
		Payments: engine,
		Webhooks: payments.NewProcessor(engine, nil),
		Shifts:   ledger,
		Sessions: sessions.NewService(db, nil),
		Hub:      hub.New(nil),
	})

	e := &testEnv{
		srv:      httptest.NewServer(srv.Handler()),
		db:       db,
		tenantID: uuid.New(),
		waiter:   uuid.New(),
		kitchen:  uuid.New(),
		manager:  uuid.New(),
	}
	t.Cleanup(e.srv.Close)

	table := models.Table{ID: uuid.New(), TenantID: e.tenantID, Number: 4, Capacity: 4}
	if err := db.Create(&table).Error; err != nil {
		t.Fatalf("seed table: %v", err)
	}
	e.tableID = table.ID
	session := models.TableSession{
		ID: uuid.New(), TenantID: e.tenantID, TableID: table.ID,
		Status: models.SessionStatusActive, GuestCount: 2, Version: 1,
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	e.session = session.ID

	station := models.MenuStation{ID: uuid.New(), TenantID: e.tenantID, Name: "Grill", StationType: "grill"}
	if err := db.Create(&station).Error; err != nil {
		t.Fatalf("seed station: %v", err)
	}
	e.station = station.ID
	course := models.KitchenCourse{ID: uuid.New(), TenantID: e.tenantID, Name: "Mains", CourseNumber: 1, AutoFireOnConfirm: true}
	if err := db.Create(&course).Error; err != nil {
		t.Fatalf("seed course: %v", err)
	}
	burger := models.MenuItem{
		ID: uuid.New(), TenantID: e.tenantID, Name: "Burger",
		Price: decimal.NewFromFloat(10.50), StationID: &station.ID, CourseID: &course.ID, Active: true,
	}
	if err := db.Create(&burger).Error; err != nil {
		t.Fatalf("seed menu item: %v", err)
	}
	e.burger = burger.ID
	return e
}

func (e *testEnv) token(subject uuid.UUID, role string) string {
	return fmt.Sprintf("%s|%s|%s", subject, e.tenantID, role)
}

// do issues one request and decodes the JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body, out interface{}) int {
	t.Helper()
	return e.doWithHeader(t, method, path, token, "", body, out)
}

func (e *testEnv) doWithHeader(t *testing.T, method, path, token, idemKey string, body, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	var body map[string]string
	if code := e.do(t, http.MethodGet, "/healthz", "", nil, &body); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %q", body["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	if code := e.do(t, http.MethodGet, "/api/v1/orders/", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("missing token = %d, want 401", code)
	}
	if code := e.do(t, http.MethodGet, "/api/v1/orders/", "garbage", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", code)
	}
}

// TestServiceFlow walks the table lifecycle end to end over HTTP: shift,
// draft, review, confirmation, kitchen ticket, cash payment, completion.
func TestServiceFlow(t *testing.T) {
	e := newTestEnv(t)
	waiter := e.token(e.waiter, "waiter")
	kitchen := e.token(e.kitchen, "kitchen")

	var shift models.Shift
	if code := e.do(t, http.MethodPost, "/api/v1/shifts/", waiter,
		map[string]interface{}{"opening_balance": "100.00"}, &shift); code != http.StatusCreated {
		t.Fatalf("open shift = %d", code)
	}

	var d models.DraftOrder
	if code := e.do(t, http.MethodPost, "/api/v1/drafts/", waiter, map[string]interface{}{
		"table_session_id": e.session,
		"items": []map[string]interface{}{
			{"menu_item_id": e.burger, "quantity": 2},
		},
	}, &d); code != http.StatusCreated {
		t.Fatalf("create draft = %d", code)
	}
	if !d.TotalAmount.Equal(decimal.NewFromFloat(21.00)) {
		t.Fatalf("draft total = %s", d.TotalAmount)
	}

	if code := e.do(t, http.MethodPost, "/api/v1/drafts/"+d.ID.String()+"/submit", waiter,
		map[string]int{"version": d.Version}, &d); code != http.StatusOK {
		t.Fatalf("submit = %d", code)
	}
	if d.Status != models.DraftStatusPending {
		t.Fatalf("draft status = %s", d.Status)
	}
	if code := e.do(t, http.MethodPost, "/api/v1/drafts/"+d.ID.String()+"/acquire", waiter,
		map[string]int{"version": d.Version}, &d); code != http.StatusOK {
		t.Fatalf("acquire = %d", code)
	}

	var order models.Order
	if code := e.do(t, http.MethodPost, "/api/v1/drafts/"+d.ID.String()+"/confirm", waiter,
		map[string]int{"version": d.Version}, &order); code != http.StatusOK {
		t.Fatalf("confirm = %d", code)
	}
	if order.Status != models.OrderStatusPending || !order.TotalAmount.Equal(decimal.NewFromFloat(21.00)) {
		t.Fatalf("unexpected order: %+v", order)
	}

	var kitchenTickets []models.Ticket
	if code := e.do(t, http.MethodPost, "/api/v1/drafts/"+d.ID.String()+"/tickets", waiter,
		nil, &kitchenTickets); code != http.StatusCreated {
		t.Fatalf("generate tickets = %d", code)
	}
	if len(kitchenTickets) != 1 || kitchenTickets[0].StationID != e.station {
		t.Fatalf("unexpected tickets: %+v", kitchenTickets)
	}

	var bumped models.Ticket
	tk := kitchenTickets[0]
	if code := e.do(t, http.MethodPost, "/api/v1/tickets/"+tk.ID.String()+"/bump", kitchen,
		map[string]int{"version": tk.Version}, &bumped); code != http.StatusOK {
		t.Fatalf("bump = %d", code)
	}
	if bumped.Status != models.TicketStatusCompleted {
		t.Fatalf("ticket status = %s", bumped.Status)
	}

	var intent models.PaymentIntent
	if code := e.do(t, http.MethodPost, "/api/v1/payments/intents", waiter, map[string]interface{}{
		"order_id": order.ID, "method": "cash", "amount": "21.00",
	}, &intent); code != http.StatusCreated {
		t.Fatalf("create intent = %d", code)
	}
	var payment models.Payment
	if code := e.do(t, http.MethodPost, "/api/v1/payments/intents/"+intent.ID.String()+"/process", waiter,
		map[string]int{"version": intent.Version}, &payment); code != http.StatusCreated {
		t.Fatalf("process = %d", code)
	}
	if payment.Status != models.PaymentStatusCompleted {
		t.Fatalf("payment status = %s", payment.Status)
	}

	if code := e.do(t, http.MethodGet, "/api/v1/orders/"+order.ID.String(), waiter, nil, &order); code != http.StatusOK {
		t.Fatalf("get order = %d", code)
	}
	if order.Status != models.OrderStatusPaid {
		t.Fatalf("order should be paid, got %s", order.Status)
	}

	if code := e.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/complete", waiter,
		map[string]int{"version": order.Version}, &order); code != http.StatusOK {
		t.Fatalf("complete = %d", code)
	}
	if order.Status != models.OrderStatusCompleted {
		t.Fatalf("order status = %s", order.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	waiter := e.token(e.waiter, "waiter")
	second := e.token(uuid.New(), "waiter")

	// Unknown resource.
	if code := e.do(t, http.MethodGet, "/api/v1/orders/"+uuid.NewString(), waiter, nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown order = %d, want 404", code)
	}
	// Validation failure.
	if code := e.do(t, http.MethodPost, "/api/v1/sessions/", waiter, map[string]interface{}{
		"table_id": e.tableID, "guest_count": 0,
	}, nil); code != http.StatusBadRequest {
		t.Fatalf("zero guests = %d, want 400", code)
	}
	// Occupied table.
	if code := e.do(t, http.MethodPost, "/api/v1/sessions/", waiter, map[string]interface{}{
		"table_id": e.tableID, "guest_count": 2,
	}, nil); code != http.StatusConflict {
		t.Fatalf("occupied table = %d, want 409", code)
	}

	var d models.DraftOrder
	if code := e.do(t, http.MethodPost, "/api/v1/drafts/", waiter, map[string]interface{}{
		"table_session_id": e.session,
		"items":            []map[string]interface{}{{"menu_item_id": e.burger, "quantity": 1}},
	}, &d); code != http.StatusCreated {
		t.Fatalf("create draft = %d", code)
	}
	// Stale version.
	if code := e.do(t, http.MethodPost, "/api/v1/drafts/"+d.ID.String()+"/submit", waiter,
		map[string]int{"version": d.Version + 5}, nil); code != http.StatusConflict {
		t.Fatalf("stale submit = %d, want 409", code)
	}
	if code := e.do(t, http.MethodPost, "/api/v1/drafts/"+d.ID.String()+"/submit", waiter,
		map[string]int{"version": d.Version}, &d); code != http.StatusOK {
		t.Fatalf("submit = %d", code)
	}
	// Review lease contention.
	if code := e.do(t, http.MethodPost, "/api/v1/drafts/"+d.ID.String()+"/acquire", waiter,
		map[string]int{"version": d.Version}, &d); code != http.StatusOK {
		t.Fatalf("acquire = %d", code)
	}
	if code := e.do(t, http.MethodPost, "/api/v1/drafts/"+d.ID.String()+"/acquire", second,
		map[string]int{"version": d.Version}, nil); code != http.StatusConflict {
		t.Fatalf("second acquire = %d, want 409", code)
	}
	// Role without the refund permission.
	if code := e.do(t, http.MethodPost, "/api/v1/payments/"+uuid.NewString()+"/refund", waiter,
		map[string]interface{}{"amount": "5.00", "reason_code": "r"}, nil); code != http.StatusForbidden {
		t.Fatalf("waiter refund = %d, want 403", code)
	}
}

func TestIdempotencyReplay(t *testing.T) {
	e := newTestEnv(t)
	waiter := e.token(e.waiter, "waiter")
	body := map[string]interface{}{"opening_balance": "50.00"}

	var first models.Shift
	if code := e.doWithHeader(t, http.MethodPost, "/api/v1/shifts/", waiter, "shift-open-1", body, &first); code != http.StatusCreated {
		t.Fatalf("first = %d", code)
	}
	// The retry replays the recorded response instead of conflicting.
	var second models.Shift
	if code := e.doWithHeader(t, http.MethodPost, "/api/v1/shifts/", waiter, "shift-open-1", body, &second); code != http.StatusCreated {
		t.Fatalf("replay = %d", code)
	}
	if first.ID != second.ID {
		t.Fatalf("replay returned a different shift: %s vs %s", first.ID, second.ID)
	}
	var count int64
	if err := e.db.Model(&models.Shift{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 shift, got %d", count)
	}
}

func TestWebhookEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Post(e.srv.URL+"/webhooks/mercadopago", "application/json",
		strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(e.srv.URL+"/webhooks/mercadopago", "application/json",
		strings.NewReader(`{"action_type":"test","data":{"id":"1","external_reference":"ref-1","status":"created"}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("test notification = %d, want 200", resp.StatusCode)
	}
}
