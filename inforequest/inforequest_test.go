package inforequest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/store"
)

func TestChannel_CreateRequiresAtLeastOneKey(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore())
	_, err := c.Create(ctx, "ir1", "r1", nil)
	require.Error(t, err)
}

func TestChannel_PlaintextRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore())
	_, err := c.Create(ctx, "ir1", "r1", []domain.RequestedKey{{Name: "region"}})
	require.NoError(t, err)

	_, err = c.RespondPlaintext(ctx, "ir1", map[string]string{"region": "us-east-1"})
	require.NoError(t, err)

	revealed, redacted, err := c.Reveal(ctx, "ir1", nil, nil)
	require.NoError(t, err)
	assert.False(t, redacted)
	assert.Equal(t, "us-east-1", revealed.Plaintext["region"])
}

func TestChannel_EncryptedRevealRequiresMatchingKey(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore())
	_, err := c.Create(ctx, "ir1", "r1", []domain.RequestedKey{{Name: "credential"}})
	require.NoError(t, err)

	_, err = c.RespondEncrypted(ctx, "ir1", []byte("ciphertext"), []byte("nonce"))
	require.NoError(t, err)

	key := []byte("shared-secret")

	revealed, redacted, err := c.Reveal(ctx, "ir1", []byte("wrong-key"), key)
	require.NoError(t, err)
	assert.True(t, redacted, "a mismatched key must redact the response")
	assert.Nil(t, revealed.Ciphertext)

	revealed, redacted, err = c.Reveal(ctx, "ir1", key, key)
	require.NoError(t, err)
	assert.False(t, redacted)
	assert.Equal(t, []byte("ciphertext"), revealed.Ciphertext)
	assert.Equal(t, []byte("nonce"), revealed.Nonce)
	assert.Nil(t, revealed.Plaintext, "the channel must never decrypt on the caller's behalf")
}

func TestChannel_RevealBeforeAnswerIsConflict(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore())
	_, err := c.Create(ctx, "ir1", "r1", []domain.RequestedKey{{Name: "region"}})
	require.NoError(t, err)

	_, _, err = c.Reveal(ctx, "ir1", nil, nil)
	require.Error(t, err)
}

func TestChannel_CannotRespondTwice(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore())
	_, err := c.Create(ctx, "ir1", "r1", []domain.RequestedKey{{Name: "region"}})
	require.NoError(t, err)

	_, err = c.RespondPlaintext(ctx, "ir1", map[string]string{"region": "us-east-1"})
	require.NoError(t, err)

	_, err = c.RespondPlaintext(ctx, "ir1", map[string]string{"region": "us-west-2"})
	require.Error(t, err, "an already-answered info request cannot be answered again")
}

func TestChannel_Cancel(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore())
	_, err := c.Create(ctx, "ir1", "r1", []domain.RequestedKey{{Name: "region"}})
	require.NoError(t, err)

	cancelled, err := c.Cancel(ctx, "ir1")
	require.NoError(t, err)
	assert.Equal(t, domain.InfoRequestCancelled, cancelled.State)

	_, err = c.RespondPlaintext(ctx, "ir1", map[string]string{"region": "us-east-1"})
	require.Error(t, err, "a cancelled info request cannot be answered")
}
