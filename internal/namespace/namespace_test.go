package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/errkind"
)

func TestCompose(t *testing.T) {
	key := Compose("acme", DomainSignal, "raw", "BTCUSDT")
	assert.Equal(t, "titan:acme:signal:raw:BTCUSDT", key)
}

func TestGuard_AllowsDeclaredPrefix(t *testing.T) {
	g := NewGuard(MustDeclare("titan:*:signal:*"))
	assert.NoError(t, g.Validate("titan:acme:signal:raw:BTCUSDT"))
}

func TestGuard_RejectsUndeclaredPrefix(t *testing.T) {
	g := NewGuard(MustDeclare("titan:*:signal:*"))
	err := g.Validate("titan:acme:capital:book")
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.NamespaceViolation, kind)
}

func TestValidateShape_RejectsMalformedKeys(t *testing.T) {
	cases := []string{"", "notTitan:x:y", "titan", "titan:onlytenant"}
	for _, c := range cases {
		assert.Error(t, ValidateShape(c), "expected error for %q", c)
	}
}

func TestValidateShape_AcceptsProcessWideKeys(t *testing.T) {
	assert.NoError(t, ValidateShape("titan:infra:config_hash"))
	assert.NoError(t, ValidateShape("titan:registry:violations"))
}

func TestCollision_DetectsOverlappingDeclarations(t *testing.T) {
	a := []Declaration{MustDeclare("titan:*:signal:*")}
	b := []Declaration{MustDeclare("titan:*:signal:raw:*")}
	assert.True(t, Collision(a, b))

	c := []Declaration{MustDeclare("titan:*:capital:*")}
	assert.False(t, Collision(a, c))
}
