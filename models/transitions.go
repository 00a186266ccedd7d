package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a requested state change is not legal.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrValidation marks caller input a service refused.
var ErrValidation = errors.New("validation failed")

var draftTransitions = map[DraftStatus][]DraftStatus{
	DraftStatusDraft:     {DraftStatusPending},
	DraftStatusPending:   {DraftStatusPending, DraftStatusConfirmed, DraftStatusRejected, DraftStatusExpired},
	DraftStatusConfirmed: {},
	DraftStatusRejected:  {},
	DraftStatusExpired:   {},
}

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusNew:       {TicketStatusPending, TicketStatusVoided},
	TicketStatusPending:   {TicketStatusPreparing, TicketStatusCompleted, TicketStatusVoided},
	TicketStatusPreparing: {TicketStatusReady, TicketStatusVoided},
	TicketStatusReady:     {TicketStatusCompleted, TicketStatusVoided},
	TicketStatusCompleted: {},
	TicketStatusVoided:    {},
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusInProgress, OrderStatusPaid, OrderStatusCancelled, OrderStatusVoided},
	OrderStatusInProgress: {OrderStatusPaid, OrderStatusCancelled, OrderStatusVoided},
	OrderStatusPaid:       {OrderStatusCompleted, OrderStatusVoided},
	OrderStatusCompleted:  {},
	OrderStatusCancelled:  {},
	OrderStatusVoided:     {},
}

var intentTransitions = map[IntentStatus][]IntentStatus{
	IntentStatusPending:    {IntentStatusInProgress, IntentStatusCompleted, IntentStatusCancelled, IntentStatusFailed},
	IntentStatusInProgress: {IntentStatusCompleted, IntentStatusCancelled, IntentStatusFailed},
	IntentStatusCompleted:  {},
	IntentStatusCancelled:  {},
	IntentStatusFailed:     {},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
	PaymentStatusFailed:     {},
	PaymentStatusRefunded:   {},
}

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusRequested:  {RefundStatusProcessing, RefundStatusCompleted, RefundStatusFailed},
	RefundStatusProcessing: {RefundStatusCompleted, RefundStatusFailed},
	RefundStatusCompleted:  {},
	RefundStatusFailed:     {},
}

var shiftTransitions = map[ShiftStatus][]ShiftStatus{
	ShiftStatusOpening:    {ShiftStatusActive},
	ShiftStatusActive:     {ShiftStatusClosing},
	ShiftStatusClosing:    {ShiftStatusClosed},
	ShiftStatusClosed:     {ShiftStatusReconciled},
	ShiftStatusReconciled: {},
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusSeated: {SessionStatusActive, SessionStatusClosed},
	SessionStatusActive: {SessionStatusPaying, SessionStatusClosed},
	SessionStatusPaying: {SessionStatusPaid, SessionStatusActive},
	SessionStatusPaid:   {SessionStatusClosed},
	SessionStatusClosed: {},
}

func validate[S comparable](table map[S][]S, current, next S, kind string) error {
	if current == next {
		return nil
	}
	allowed, ok := table[current]
	if !ok {
		return fmt.Errorf("%w: unknown %s state %v", ErrInvalidTransition, kind, current)
	}
	for _, candidate := range allowed {
		if candidate == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %v -> %v", ErrInvalidTransition, kind, current, next)
}

// ValidateDraftTransition checks a draft state change against the workflow.
func ValidateDraftTransition(current, next DraftStatus) error {
	return validate(draftTransitions, current, next, "draft")
}

// ValidateTicketTransition checks a ticket state change against the workflow.
func ValidateTicketTransition(current, next TicketStatus) error {
	return validate(ticketTransitions, current, next, "ticket")
}

// ValidateOrderTransition checks an order state change against the workflow.
func ValidateOrderTransition(current, next OrderStatus) error {
	return validate(orderTransitions, current, next, "order")
}

// ValidateIntentTransition checks a payment intent state change.
func ValidateIntentTransition(current, next IntentStatus) error {
	return validate(intentTransitions, current, next, "intent")
}

// ValidatePaymentTransition checks a payment state change.
func ValidatePaymentTransition(current, next PaymentStatus) error {
	return validate(paymentTransitions, current, next, "payment")
}

// ValidateRefundTransition checks a refund state change.
func ValidateRefundTransition(current, next RefundStatus) error {
	return validate(refundTransitions, current, next, "refund")
}

// ValidateShiftTransition checks a shift state change against the workflow.
func ValidateShiftTransition(current, next ShiftStatus) error {
	return validate(shiftTransitions, current, next, "shift")
}

// ValidateSessionTransition checks a table session state change.
func ValidateSessionTransition(current, next SessionStatus) error {
	return validate(sessionTransitions, current, next, "session")
}

// TicketTerminal reports whether a ticket state accepts no further changes.
func TicketTerminal(s TicketStatus) bool {
	return s == TicketStatusCompleted || s == TicketStatusVoided
}

// DraftTerminal reports whether a draft state accepts no further changes.
func DraftTerminal(s DraftStatus) bool {
	return s == DraftStatusConfirmed || s == DraftStatusRejected || s == DraftStatusExpired
}
