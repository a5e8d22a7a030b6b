package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "permitgate-test"

func newTestSigner() *Signer {
	return NewSigner(map[string]string{"v1": "unit-test-secret"}, "v1", testIssuer)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := newTestSigner()
	permitID := uuid.New()
	validFrom := time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)
	validTo := time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC)

	signed, err := signer.Sign(permitID, validFrom, validTo)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	payload, err := signer.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, permitID, payload.PermitID)
	assert.True(t, payload.ValidFrom.Equal(validFrom))
	assert.True(t, payload.ValidTo.Equal(validTo))
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer := newTestSigner()
	signed, err := signer.Sign(uuid.New(), time.Now(), time.Now().AddDate(0, 0, 10))
	require.NoError(t, err)

	// Mutate every position. The substitution flips the top bit of the
	// base64 symbol, which is always significant, so trailing-bit slack in
	// non-strict base64 decoding cannot mask the change.
	for i := 0; i < len(signed); i++ {
		mutated := []byte(signed)
		if mutated[i] == 'g' {
			mutated[i] = 'A'
		} else {
			mutated[i] = 'g'
		}
		_, err := signer.Verify(string(mutated))
		assert.ErrorIs(t, err, ErrInvalid, "mutation at position %d accepted", i)
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	signer := newTestSigner()
	for _, input := range []string{"", "not-a-token", "a.b.c", "e30.e30."} {
		_, err := signer.Verify(input)
		assert.ErrorIs(t, err, ErrInvalid, "input %q accepted", input)
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signer := newTestSigner()
	foreign := NewSigner(map[string]string{"v1": "some-other-secret"}, "v1", testIssuer)

	signed, err := foreign.Sign(uuid.New(), time.Now(), time.Now().AddDate(0, 0, 10))
	require.NoError(t, err)

	_, err = signer.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	signer := newTestSigner()
	other := NewSigner(map[string]string{"v1": "unit-test-secret"}, "v1", "someone-else")

	signed, err := other.Sign(uuid.New(), time.Now(), time.Now().AddDate(0, 0, 10))
	require.NoError(t, err)

	_, err = signer.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestKeyRotationOldTokensStayVerifiable(t *testing.T) {
	old := NewSigner(map[string]string{"v1": "old-secret"}, "v1", testIssuer)
	permitID := uuid.New()
	validFrom := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	validTo := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)

	signedWithOld, err := old.Sign(permitID, validFrom, validTo)
	require.NoError(t, err)

	// After rotation the active key is v2 but v1 remains configured.
	rotated := NewSigner(map[string]string{"v1": "old-secret", "v2": "new-secret"}, "v2", testIssuer)

	payload, err := rotated.Verify(signedWithOld)
	require.NoError(t, err)
	assert.Equal(t, permitID, payload.PermitID)

	signedWithNew, err := rotated.Sign(permitID, validFrom, validTo)
	require.NoError(t, err)
	_, err = rotated.Verify(signedWithNew)
	require.NoError(t, err)

	// The pre-rotation signer does not know v2.
	_, err = old.Verify(signedWithNew)
	assert.ErrorIs(t, err, ErrInvalid)
}
