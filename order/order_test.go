// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	o := New(42)

	assert.Equal(t, uint64(42), o.ID)
	assert.NotEmpty(t, o.Ref)
	assert.Equal(t, StatusAccepted, o.Status)
	assert.False(t, o.AcceptedAt.IsZero())
	assert.True(t, o.PreparedAt.IsZero())
	assert.True(t, o.PackedAt.IsZero())
	assert.True(t, o.DeliveredAt.IsZero())
}

func TestNew_UniqueRefs(t *testing.T) {
	a := New(1)
	b := New(2)
	assert.NotEqual(t, a.Ref, b.Ref)
}

func TestOrder_AdvanceTo_FullChain(t *testing.T) {
	o := New(1)

	require.NoError(t, o.AdvanceTo(StatusPrepared))
	assert.Equal(t, StatusPrepared, o.Status)

	require.NoError(t, o.AdvanceTo(StatusPacked))
	assert.Equal(t, StatusPacked, o.Status)

	require.NoError(t, o.AdvanceTo(StatusDelivered))
	assert.Equal(t, StatusDelivered, o.Status)

	assert.False(t, o.AcceptedAt.After(o.PreparedAt))
	assert.False(t, o.PreparedAt.After(o.PackedAt))
	assert.False(t, o.PackedAt.After(o.DeliveredAt))
}

func TestOrder_AdvanceTo_SkipFails(t *testing.T) {
	o := New(1)

	err := o.AdvanceTo(StatusDelivered)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Order unchanged
	assert.Equal(t, StatusAccepted, o.Status)
	assert.True(t, o.DeliveredAt.IsZero())
}

func TestOrder_AdvanceTo_BackwardFails(t *testing.T) {
	o := New(1)
	require.NoError(t, o.AdvanceTo(StatusPrepared))

	err := o.AdvanceTo(StatusAccepted)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPrepared, o.Status)
}

func TestOrder_AdvanceTo_SameStatusFails(t *testing.T) {
	o := New(1)
	require.NoError(t, o.AdvanceTo(StatusPrepared))

	err := o.AdvanceTo(StatusPrepared)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOrder_AdvanceTo_PastDeliveredFails(t *testing.T) {
	o := New(1)
	require.NoError(t, o.AdvanceTo(StatusPrepared))
	require.NoError(t, o.AdvanceTo(StatusPacked))
	require.NoError(t, o.AdvanceTo(StatusDelivered))

	err := o.AdvanceTo(StatusCanceled)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusDelivered, o.Status)
}

func TestOrder_AdvanceTo_EarlierTimestampsKept(t *testing.T) {
	o := New(1)
	require.NoError(t, o.AdvanceTo(StatusPrepared))

	prepared := o.PreparedAt
	require.NoError(t, o.AdvanceTo(StatusPacked))

	assert.Equal(t, prepared, o.PreparedAt)
}

func TestOrder_Cancel(t *testing.T) {
	o := New(1)
	require.NoError(t, o.Cancel())
	assert.Equal(t, StatusCanceled, o.Status)

	// Canceled orders cannot advance
	err := o.AdvanceTo(StatusPrepared)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOrder_Cancel_DeliveredFails(t *testing.T) {
	o := New(1)
	require.NoError(t, o.AdvanceTo(StatusPrepared))
	require.NoError(t, o.AdvanceTo(StatusPacked))
	require.NoError(t, o.AdvanceTo(StatusDelivered))

	err := o.Cancel()
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusDelivered, o.Status)
}

func TestOrder_LeadTime(t *testing.T) {
	o := New(1)
	require.NoError(t, o.AdvanceTo(StatusPrepared))
	require.NoError(t, o.AdvanceTo(StatusPacked))
	require.NoError(t, o.AdvanceTo(StatusDelivered))

	assert.Equal(t, o.DeliveredAt.Sub(o.AcceptedAt), o.LeadTime())
	assert.GreaterOrEqual(t, o.LeadTime(), time.Duration(0))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "Accepted", StatusAccepted.String())
	assert.Equal(t, "Prepared", StatusPrepared.String())
	assert.Equal(t, "Packed", StatusPacked.String())
	assert.Equal(t, "Delivered", StatusDelivered.String())
	assert.Equal(t, "Canceled", StatusCanceled.String())
}
