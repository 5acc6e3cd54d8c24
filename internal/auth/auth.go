// Package auth identifies callers and decides what they may do to a wallet.
package auth

import (
	"context"
	"errors"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
	// RoleSystem is used by trusted backend flows: checkout, delivery confirmation, the withdrawal processor.
	RoleSystem Role = "system"
)

// ErrForbidden is returned when a caller lacks the capability for an operation.
var ErrForbidden = errors.New("forbidden")

// Caller is an authenticated identity.
type Caller struct {
	UserID string
	Role   Role
}

// System is the caller used by in-process automation.
var System = Caller{UserID: "system", Role: RoleSystem}

func (c Caller) privileged() bool {
	return c.Role == RoleOperator || c.Role == RoleSystem
}

// CanAccess covers reads and self-service writes: deposit, payment, withdrawal request, own cancel.
func (c Caller) CanAccess(userID string) error {
	if c.UserID == "" {
		return ErrForbidden
	}
	if c.UserID == userID || c.privileged() {
		return nil
	}
	return ErrForbidden
}

// CanCredit covers earnings, which only backend flows may post.
func (c Caller) CanCredit(userID string) error {
	if c.privileged() {
		return nil
	}
	return ErrForbidden
}

// CanOperate covers withdrawal workflow transitions other than the owner's cancel.
func (c Caller) CanOperate() error {
	if c.privileged() {
		return nil
	}
	return ErrForbidden
}

type ctxKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxKey{}).(Caller)
	return c, ok
}
