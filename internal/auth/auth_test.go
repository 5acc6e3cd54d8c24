package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilities(t *testing.T) {
	owner := Caller{UserID: "u1", Role: RoleCustomer}
	other := Caller{UserID: "u2", Role: RoleCustomer}
	op := Caller{UserID: "ops", Role: RoleOperator}

	assert.NoError(t, owner.CanAccess("u1"))
	assert.ErrorIs(t, other.CanAccess("u1"), ErrForbidden)
	assert.NoError(t, op.CanAccess("u1"))
	assert.NoError(t, System.CanAccess("u1"))
	assert.ErrorIs(t, Caller{}.CanAccess(""), ErrForbidden)

	assert.ErrorIs(t, owner.CanCredit("u1"), ErrForbidden)
	assert.NoError(t, System.CanCredit("u1"))

	assert.ErrorIs(t, owner.CanOperate(), ErrForbidden)
	assert.NoError(t, op.CanOperate())
}

func TestTokens_RoundTrip(t *testing.T) {
	tk := NewTokens("secret", "wallet-ledger")
	raw, err := tk.Issue(Caller{UserID: "u1", Role: RoleOperator}, time.Hour)
	require.NoError(t, err)

	c, err := tk.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, Caller{UserID: "u1", Role: RoleOperator}, c)

	_, err = NewTokens("other", "wallet-ledger").Parse(raw)
	assert.Error(t, err)
	_, err = NewTokens("secret", "someone-else").Parse(raw)
	assert.Error(t, err)
}

func TestTokens_Expired(t *testing.T) {
	tk := NewTokens("secret", "wallet-ledger")
	raw, err := tk.Issue(Caller{UserID: "u1", Role: RoleCustomer}, -time.Minute)
	require.NoError(t, err)
	_, err = tk.Parse(raw)
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	c, ok := FromContext(WithCaller(context.Background(), System))
	assert.True(t, ok)
	assert.Equal(t, System, c)
}
