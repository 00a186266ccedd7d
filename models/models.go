package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DraftStatus represents a state in the draft order workflow.
type DraftStatus string

// All draft workflow states.
const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusPending   DraftStatus = "pending"
	DraftStatusConfirmed DraftStatus = "confirmed"
	DraftStatusRejected  DraftStatus = "rejected"
	DraftStatusExpired   DraftStatus = "expired"
)

// TicketStatus represents a state in the kitchen ticket workflow.
type TicketStatus string

// All ticket workflow states.
const (
	TicketStatusNew       TicketStatus = "new"
	TicketStatusPending   TicketStatus = "pending"
	TicketStatusPreparing TicketStatus = "preparing"
	TicketStatusReady     TicketStatus = "ready"
	TicketStatusCompleted TicketStatus = "completed"
	TicketStatusVoided    TicketStatus = "voided"
)

// TicketItemStatus tracks per-item firing state inside a ticket.
type TicketItemStatus string

const (
	TicketItemPending   TicketItemStatus = "pending"
	TicketItemFired     TicketItemStatus = "fired"
	TicketItemCompleted TicketItemStatus = "completed"
	TicketItemHeld      TicketItemStatus = "held"
	TicketItemVoided    TicketItemStatus = "voided"
)

// OrderStatus represents a state in the order financial lifecycle.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusVoided     OrderStatus = "voided"
)

// OrderItemStatus tracks per-item preparation state.
type OrderItemStatus string

const (
	OrderItemPending    OrderItemStatus = "pending"
	OrderItemInProgress OrderItemStatus = "in_progress"
	OrderItemCompleted  OrderItemStatus = "completed"
	OrderItemCancelled  OrderItemStatus = "cancelled"
)

// SessionStatus represents a state of a seated party.
type SessionStatus string

const (
	SessionStatusSeated SessionStatus = "seated"
	SessionStatusActive SessionStatus = "active"
	SessionStatusPaying SessionStatus = "paying"
	SessionStatusPaid   SessionStatus = "paid"
	SessionStatusClosed SessionStatus = "closed"
)

// IntentStatus represents a payment intent state.
type IntentStatus string

const (
	IntentStatusPending    IntentStatus = "pending"
	IntentStatusInProgress IntentStatus = "in_progress"
	IntentStatusCompleted  IntentStatus = "completed"
	IntentStatusCancelled  IntentStatus = "cancelled"
	IntentStatusFailed     IntentStatus = "failed"
)

// PaymentStatus represents a payment capture state.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// RefundStatus represents a refund state.
type RefundStatus string

const (
	RefundStatusRequested  RefundStatus = "requested"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

// ShiftStatus represents a server shift state.
type ShiftStatus string

const (
	ShiftStatusOpening    ShiftStatus = "opening"
	ShiftStatusActive     ShiftStatus = "active"
	ShiftStatusClosing    ShiftStatus = "closing"
	ShiftStatusClosed     ShiftStatus = "closed"
	ShiftStatusReconciled ShiftStatus = "reconciled"
)

// PaymentMethod enumerates supported tender types.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTerminal PaymentMethod = "terminal"
	MethodQR       PaymentMethod = "qr"
	MethodSplit    PaymentMethod = "split"
)

// DrawerEventType enumerates cash drawer ledger entry types.
type DrawerEventType string

const (
	DrawerOpeningBalance DrawerEventType = "opening_balance"
	DrawerPaymentIn      DrawerEventType = "payment_in"
	DrawerChangeOut      DrawerEventType = "change_out"
	DrawerCashDrop       DrawerEventType = "cash_drop"
	DrawerTipPayout      DrawerEventType = "tip_payout"
	DrawerCashAdjustment DrawerEventType = "cash_adjustment"
	DrawerCashShortage   DrawerEventType = "cash_shortage"
	DrawerPettyCash      DrawerEventType = "petty_cash"
	DrawerOther          DrawerEventType = "other"
)

// AdjustmentType enumerates order adjustment kinds.
type AdjustmentType string

const (
	AdjustComp              AdjustmentType = "comp"
	AdjustDiscountPercent   AdjustmentType = "discount_percent"
	AdjustDiscountAmount    AdjustmentType = "discount_amount"
	AdjustPromoCode         AdjustmentType = "promo_code"
	AdjustCustomerReward    AdjustmentType = "customer_reward"
	AdjustVoid              AdjustmentType = "void"
	AdjustPriceOverride     AdjustmentType = "price_override"
	AdjustServiceAdjustment AdjustmentType = "service_adjustment"
	AdjustTaxAdjustment     AdjustmentType = "tax_adjustment"
	AdjustOther             AdjustmentType = "other"
)

// Modifier is one guest-selected change to a line item.
type Modifier struct {
	Type            string          `json:"type"`
	Value           string          `json:"value"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
}

// ModifierList stores line item modifiers as a JSON text column.
type ModifierList []Modifier

// Value implements driver.Valuer.
func (m ModifierList) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *ModifierList) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported modifier column type %T", value)
	}
}

// Table is a physical table within a tenant location.
type Table struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`
	Number    int       `gorm:"not null" json:"number"`
	Capacity  int       `json:"capacity"`
	Zone      string    `gorm:"size:64" json:"zone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableSession represents one seated party at a table.
type TableSession struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID   uuid.UUID     `gorm:"type:uuid;index" json:"tenant_id"`
	TableID    uuid.UUID     `gorm:"type:uuid;index" json:"table_id"`
	Status     SessionStatus `gorm:"size:32;index" json:"status"`
	GuestCount int           `json:"guest_count"`
	ServerID   *uuid.UUID    `gorm:"type:uuid;index" json:"server_id,omitempty"`
	Version    int           `gorm:"not null;default:1" json:"version"`
	OpenedAt   time.Time     `json:"opened_at"`
	ClosedAt   *time.Time    `json:"closed_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// MenuStation is a physical routing target for kitchen tickets.
type MenuStation struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`
	Name        string    `gorm:"size:64" json:"name"`
	StationType string    `gorm:"size:32" json:"station_type"`
	PrinterIDs  string    `gorm:"size:255" json:"printer_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KitchenCourse is a coursing bucket (drinks, apps, mains).
type KitchenCourse struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`
	Name              string    `gorm:"size:64" json:"name"`
	CourseNumber      int       `gorm:"not null" json:"course_number"`
	AutoFireOnConfirm bool      `json:"auto_fire_on_confirm"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// MenuItem is a sellable item with optional kitchen routing.
type MenuItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	Name        string          `gorm:"size:128" json:"name"`
	Description string          `gorm:"size:512" json:"description"`
	Price       decimal.Decimal `gorm:"type:numeric(10,2)" json:"price"`
	StationID   *uuid.UUID      `gorm:"type:uuid;index" json:"station_id,omitempty"`
	CourseID    *uuid.UUID      `gorm:"type:uuid;index" json:"course_id,omitempty"`
	Active      bool            `gorm:"default:true" json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DraftOrder is the collaborative cart shared between guest and waiter.
type DraftOrder struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	TableSessionID  uuid.UUID       `gorm:"type:uuid;index" json:"table_session_id"`
	CreatedBy       uuid.UUID       `gorm:"type:uuid;index" json:"created_by"`
	Status          DraftStatus     `gorm:"size:32;index" json:"status"`
	Version         int             `gorm:"not null;default:1" json:"version"`
	ExpiresAt       time.Time       `json:"expires_at"`
	LockedBy        *uuid.UUID      `gorm:"type:uuid;index" json:"locked_by,omitempty"`
	LockedAt        *time.Time      `json:"locked_at,omitempty"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	ConfirmedBy     *uuid.UUID      `gorm:"type:uuid" json:"confirmed_by,omitempty"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	RejectionReason string          `gorm:"size:512" json:"rejection_reason,omitempty"`
	OrderID         *uuid.UUID      `gorm:"type:uuid;index" json:"order_id,omitempty"`
	Subtotal        decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	TaxAmount       decimal.Decimal `gorm:"type:numeric(12,2)" json:"tax_amount"`
	DiscountAmount  decimal.Decimal `gorm:"type:numeric(12,2)" json:"discount_amount"`
	ServiceCharge   decimal.Decimal `gorm:"type:numeric(12,2)" json:"service_charge"`
	TipAmount       decimal.Decimal `gorm:"type:numeric(12,2)" json:"tip_amount"`
	TotalAmount     decimal.Decimal `gorm:"type:numeric(12,2)" json:"total_amount"`
	SpecialRequests string          `gorm:"size:1024" json:"special_requests,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LineItems       []DraftLineItem `json:"line_items,omitempty"`
}

// DraftLineItem snapshots a menu item inside a draft.
type DraftLineItem struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID            uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	DraftOrderID        uuid.UUID       `gorm:"type:uuid;index" json:"draft_order_id"`
	MenuItemID          uuid.UUID       `gorm:"type:uuid;index" json:"menu_item_id"`
	Name                string          `gorm:"size:128" json:"name"`
	Quantity            int             `gorm:"not null" json:"quantity"`
	PriceAtOrder        decimal.Decimal `gorm:"type:numeric(10,2)" json:"price_at_order"`
	LineTotal           decimal.Decimal `gorm:"type:numeric(10,2)" json:"line_total"`
	Modifiers           ModifierList    `gorm:"type:text" json:"modifiers,omitempty"`
	SpecialInstructions string          `gorm:"size:512" json:"special_instructions,omitempty"`
	SortOrder           int             `json:"sort_order"`
	ParentLineItemID    *uuid.UUID      `gorm:"type:uuid;index" json:"parent_line_item_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Order is the immutable financial record derived from a confirmed draft.
type Order struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	TableSessionID uuid.UUID       `gorm:"type:uuid;index" json:"table_session_id"`
	DraftOrderID   *uuid.UUID      `gorm:"type:uuid;uniqueIndex" json:"draft_order_id,omitempty"`
	Status         OrderStatus     `gorm:"size:32;index" json:"status"`
	Subtotal       decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	TaxAmount      decimal.Decimal `gorm:"type:numeric(12,2)" json:"tax_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(12,2)" json:"discount_amount"`
	ServiceCharge  decimal.Decimal `gorm:"type:numeric(12,2)" json:"service_charge"`
	TipAmount      decimal.Decimal `gorm:"type:numeric(12,2)" json:"tip_amount"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(12,2)" json:"total_amount"`
	CreatedBy      uuid.UUID       `gorm:"type:uuid;index" json:"created_by"`
	Version        int             `gorm:"not null;default:1" json:"version"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LineItems      []OrderLineItem `json:"line_items,omitempty"`
}

// OrderLineItem is one prepared item of an order.
type OrderLineItem struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID            uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	OrderID             uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	MenuItemID          uuid.UUID       `gorm:"type:uuid;index" json:"menu_item_id"`
	Name                string          `gorm:"size:128" json:"name"`
	Quantity            int             `gorm:"not null" json:"quantity"`
	PriceAtOrder        decimal.Decimal `gorm:"type:numeric(10,2)" json:"price_at_order"`
	LineTotal           decimal.Decimal `gorm:"type:numeric(10,2)" json:"line_total"`
	Modifiers           ModifierList    `gorm:"type:text" json:"modifiers,omitempty"`
	SpecialInstructions string          `gorm:"size:512" json:"special_instructions,omitempty"`
	Status              OrderItemStatus `gorm:"size:32;index" json:"status"`
	SortOrder           int             `json:"sort_order"`
	ParentLineItemID    *uuid.UUID      `gorm:"type:uuid;index" json:"parent_line_item_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// OrderAdjustment records a manager-authorised change to order totals.
type OrderAdjustment struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	OrderID         uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	OrderLineItemID *uuid.UUID      `gorm:"type:uuid;index" json:"order_line_item_id,omitempty"`
	AdjustmentType  AdjustmentType  `gorm:"size:32" json:"adjustment_type"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	Reason          string          `gorm:"size:512" json:"reason"`
	AppliedBy       uuid.UUID       `gorm:"type:uuid" json:"applied_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Ticket is one kitchen work unit for a (station, course) group.
type Ticket struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID        `gorm:"type:uuid;index" json:"tenant_id"`
	DraftOrderID   uuid.UUID        `gorm:"type:uuid;index" json:"draft_order_id"`
	OrderID        uuid.UUID        `gorm:"type:uuid;index" json:"order_id"`
	TableSessionID uuid.UUID        `gorm:"type:uuid;index" json:"table_session_id"`
	StationID      uuid.UUID        `gorm:"type:uuid;index" json:"station_id"`
	CourseID       uuid.UUID        `gorm:"type:uuid" json:"course_id"`
	CourseNumber   int              `gorm:"index" json:"course_number"`
	Status         TicketStatus     `gorm:"size:32;index" json:"status"`
	IsRush         bool             `gorm:"index" json:"is_rush"`
	IsHeld         bool             `json:"is_held"`
	HeldReason     string           `gorm:"size:255" json:"held_reason,omitempty"`
	HeldAt         *time.Time       `json:"held_at,omitempty"`
	FiredAt        *time.Time       `json:"fired_at,omitempty"`
	PrepStartedAt  *time.Time       `json:"prep_started_at,omitempty"`
	ReadyAt        *time.Time       `json:"ready_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	VoidedAt       *time.Time       `json:"voided_at,omitempty"`
	VoidedReason   string           `gorm:"size:255" json:"voided_reason,omitempty"`
	PrintCount     int              `json:"print_count"`
	LastPrintedAt  *time.Time       `json:"last_printed_at,omitempty"`
	Version        int              `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	LineItems      []TicketLineItem `json:"line_items,omitempty"`
}

// TicketLineItem is one item on a kitchen ticket.
type TicketLineItem struct {
	ID                  uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID            uuid.UUID        `gorm:"type:uuid;index" json:"tenant_id"`
	TicketID            uuid.UUID        `gorm:"type:uuid;index" json:"ticket_id"`
	OrderLineItemID     uuid.UUID        `gorm:"type:uuid;index" json:"order_line_item_id"`
	Name                string           `gorm:"size:128" json:"name"`
	Description         string           `gorm:"size:512" json:"description,omitempty"`
	Quantity            int              `gorm:"not null" json:"quantity"`
	PriceAtOrder        decimal.Decimal  `gorm:"type:numeric(10,2)" json:"price_at_order"`
	Modifiers           ModifierList     `gorm:"type:text" json:"modifiers,omitempty"`
	SpecialInstructions string           `gorm:"size:512" json:"special_instructions,omitempty"`
	CourseNumber        int              `json:"course_number"`
	Status              TicketItemStatus `gorm:"size:32;index" json:"status"`
	VoidedAt            *time.Time       `json:"voided_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// PaymentIntent is a declared attempt to pay an order.
type PaymentIntent struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	OrderID        uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	Method         PaymentMethod   `gorm:"size:16;index" json:"method"`
	Status         IntentStatus    `gorm:"size:32;index" json:"status"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	TipAmount      decimal.Decimal `gorm:"type:numeric(12,2)" json:"tip_amount"`
	Currency       string          `gorm:"size:8" json:"currency"`
	IdempotencyKey *string         `gorm:"size:128;uniqueIndex" json:"idempotency_key,omitempty"`
	QRCode         string          `gorm:"type:text" json:"qr_code,omitempty"`
	QRExpiresAt    *time.Time      `json:"qr_expires_at,omitempty"`
	CreatedBy      uuid.UUID       `gorm:"type:uuid" json:"created_by"`
	Version        int             `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Payment is a capture (or persisted failure) linked to one intent.
type Payment struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	OrderID       uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	IntentID      uuid.UUID       `gorm:"type:uuid;index" json:"intent_id"`
	Method        PaymentMethod   `gorm:"size:16" json:"method"`
	Status        PaymentStatus   `gorm:"size:32;index" json:"status"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	TipAmount     decimal.Decimal `gorm:"type:numeric(12,2)" json:"tip_amount"`
	Currency      string          `gorm:"size:8" json:"currency"`
	ProviderRef   string          `gorm:"size:128" json:"provider_ref,omitempty"`
	FailureReason string          `gorm:"size:512" json:"failure_reason,omitempty"`
	ProcessedBy   uuid.UUID       `gorm:"type:uuid" json:"processed_by"`
	Version       int             `gorm:"not null;default:1" json:"version"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Refund references an original payment; immutable once completed.
type Refund struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	PaymentID   uuid.UUID       `gorm:"type:uuid;index" json:"payment_id"`
	OrderID     uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	Status      RefundStatus    `gorm:"size:32;index" json:"status"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	ReasonCode  string          `gorm:"size:64" json:"reason_code"`
	Reason      string          `gorm:"size:512" json:"reason,omitempty"`
	RequestedBy uuid.UUID       `gorm:"type:uuid" json:"requested_by"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderPayment allocates one payment to one order.
type OrderPayment struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	OrderID         uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	PaymentID       uuid.UUID       `gorm:"type:uuid;uniqueIndex" json:"payment_id"`
	AllocatedAmount decimal.Decimal `gorm:"type:numeric(12,2)" json:"allocated_amount"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Shift is one server's cash accountability window.
type Shift struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         uuid.UUID        `gorm:"type:uuid;index" json:"tenant_id"`
	ServerID         uuid.UUID        `gorm:"type:uuid;index" json:"server_id"`
	Status           ShiftStatus      `gorm:"size:32;index" json:"status"`
	OpeningBalance   decimal.Decimal  `gorm:"type:numeric(12,2)" json:"opening_balance"`
	DrawerBalance    decimal.Decimal  `gorm:"type:numeric(12,2)" json:"drawer_balance"`
	CashSales        decimal.Decimal  `gorm:"type:numeric(12,2)" json:"cash_sales"`
	CardSales        decimal.Decimal  `gorm:"type:numeric(12,2)" json:"card_sales"`
	TipSales         decimal.Decimal  `gorm:"type:numeric(12,2)" json:"tip_sales"`
	ClosingCashCount *decimal.Decimal `gorm:"type:numeric(12,2)" json:"closing_cash_count,omitempty"`
	CardCount        *decimal.Decimal `gorm:"type:numeric(12,2)" json:"card_count,omitempty"`
	ExpectedCash     *decimal.Decimal `gorm:"type:numeric(12,2)" json:"expected_cash,omitempty"`
	CashVariance     *decimal.Decimal `gorm:"type:numeric(12,2)" json:"cash_variance,omitempty"`
	IsOver           *bool            `json:"is_over,omitempty"`
	Notes            string           `gorm:"size:1024" json:"notes,omitempty"`
	OpenedAt         time.Time        `json:"opened_at"`
	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
	ClosedBy         *uuid.UUID       `gorm:"type:uuid" json:"closed_by,omitempty"`
	ReconciledAt     *time.Time       `json:"reconciled_at,omitempty"`
	ReconciledBy     *uuid.UUID       `gorm:"type:uuid" json:"reconciled_by,omitempty"`
	Version          int              `gorm:"not null;default:1" json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// CashDrawerEvent is one append-only ledger entry within a shift.
type CashDrawerEvent struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID     uuid.UUID       `gorm:"type:uuid;index" json:"tenant_id"`
	ShiftID      uuid.UUID       `gorm:"type:uuid;index" json:"shift_id"`
	EventType    DrawerEventType `gorm:"size:32;index" json:"event_type"`
	Amount       decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(12,2)" json:"balance_after"`
	PaymentID    *uuid.UUID      `gorm:"type:uuid;index" json:"payment_id,omitempty"`
	OrderID      *uuid.UUID      `gorm:"type:uuid;index" json:"order_id,omitempty"`
	Note         string          `gorm:"size:512" json:"note,omitempty"`
	PerformedBy  uuid.UUID       `gorm:"type:uuid" json:"performed_by"`
	ApprovedBy   *uuid.UUID      `gorm:"type:uuid" json:"approved_by,omitempty"`
	Seq          int64           `gorm:"autoIncrement;uniqueIndex" json:"seq"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DomainEvent is the append-only audit trail structure.
type DomainEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`
	SubjectID   uuid.UUID `gorm:"type:uuid;index" json:"subject_id"`
	SubjectType string    `gorm:"size:32;index" json:"subject_type"`
	Action      string    `gorm:"size:64" json:"action"`
	ActorID     uuid.UUID `gorm:"type:uuid;index" json:"actor_id"`
	Details     string    `gorm:"type:text" json:"details,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WebhookLog deduplicates provider notifications by (provider, reference).
type WebhookLog struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Provider          string    `gorm:"size:32;uniqueIndex:idx_webhook_provider_ref" json:"provider"`
	ExternalReference string    `gorm:"size:128;uniqueIndex:idx_webhook_provider_ref" json:"external_reference"`
	ActionType        string    `gorm:"size:64" json:"action_type"`
	Status            string    `gorm:"size:32" json:"status"`
	RawPayload        string    `gorm:"type:text" json:"raw_payload,omitempty"`
	Processed         bool      `gorm:"not null;default:false" json:"processed"`
	CreatedAt         time.Time `json:"created_at"`
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Table{},
		&TableSession{},
		&MenuStation{},
		&KitchenCourse{},
		&MenuItem{},
		&DraftOrder{},
		&DraftLineItem{},
		&Order{},
		&OrderLineItem{},
		&OrderAdjustment{},
		&Ticket{},
		&TicketLineItem{},
		&PaymentIntent{},
		&Payment{},
		&Refund{},
		&OrderPayment{},
		&Shift{},
		&CashDrawerEvent{},
		&DomainEvent{},
		&WebhookLog{},
		&IdempotencyKey{},
	)
}
