package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/bus"
	"titan/internal/errkind"
)

func TestDigest_IsStableAcrossKeyOrder(t *testing.T) {
	a := Document{"b": 1, "a": 2, "nested": map[string]interface{}{"y": 1, "x": 2}}
	b := Document{"a": 2, "b": 1, "nested": map[string]interface{}{"x": 2, "y": 1}}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestDigest_ChangesOnValueChange(t *testing.T) {
	a := Document{"max_leverage": 5}
	b := Document{"max_leverage": 6}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestMerge_ClientValuesWinOnCollision(t *testing.T) {
	base := Document{"max_leverage": 3, "min_confidence": 0.5}
	client := Document{"max_leverage": 5}

	merged := Merge(base, client)
	assert.Equal(t, 5, merged["max_leverage"])
	assert.Equal(t, 0.5, merged["min_confidence"])
}

func TestMerge_RecursesIntoNestedObjects(t *testing.T) {
	base := Document{"caps": map[string]interface{}{"leverage": 3, "confidence": 0.5}}
	client := Document{"caps": map[string]interface{}{"leverage": 5}}

	merged := Merge(base, client)
	caps := merged["caps"].(map[string]interface{})
	assert.Equal(t, 5, caps["leverage"])
	assert.Equal(t, 0.5, caps["confidence"])
}

func TestGuard_NoCanonicalDigestIsNotDrift(t *testing.T) {
	b := bus.NewMemoryBus()
	g := NewGuard(b, PolicyRefuseTick)

	err := g.Check(context.Background(), Document{"a": 1})
	assert.NoError(t, err)
}

func TestGuard_RefuseTickOnMismatch(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	require.NoError(t, PublishCanonical(ctx, b, Document{"a": 1}))

	g := NewGuard(b, PolicyRefuseTick)
	err := g.Check(ctx, Document{"a": 2})
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.ConfigDrift, kind)
}

func TestGuard_ReadOnlyPolicyToleratesMismatch(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	require.NoError(t, PublishCanonical(ctx, b, Document{"a": 1}))

	g := NewGuard(b, PolicyReadOnly)
	err := g.Check(ctx, Document{"a": 2})
	assert.NoError(t, err)
}

func TestGuard_MatchingDigestIsNotDrift(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()
	doc := Document{"a": 1}
	require.NoError(t, PublishCanonical(ctx, b, doc))

	g := NewGuard(b, PolicyRefuseTick)
	assert.NoError(t, g.Check(ctx, doc))
}
