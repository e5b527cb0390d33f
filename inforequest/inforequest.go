// Package inforequest implements the Info-Request side channel: an agent
// holding a Run lease declares the input names it needs, and a user responds
// either in plaintext or as opaque ciphertext the core never interprets.
// Retrieval of an encrypted response is gated by a caller-supplied key that
// must match the key used to encrypt it; the channel itself never chooses
// or implements the scheme.
package inforequest

import (
	"crypto/subtle"

	"context"

	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/store"
)

// Channel is the Info-Request side channel.
type Channel struct {
	store store.Store
}

// New builds a Channel.
func New(st store.Store) *Channel {
	return &Channel{store: st}
}

// Create opens an InfoRequest declaring the keys the run needs.
func (c *Channel) Create(ctx context.Context, id, runID string, keys []domain.RequestedKey) (*domain.InfoRequest, error) {
	if len(keys) == 0 {
		return nil, platform.NewError("inforequest.Create", platform.KindValidation, "at least one requested key is required")
	}
	ir := &domain.InfoRequest{ID: id, RunID: runID, Keys: keys, State: domain.InfoRequestPending}
	if err := c.store.CreateInfoRequest(ctx, ir); err != nil {
		return nil, err
	}
	return ir, nil
}

// RespondPlaintext answers a pending InfoRequest with plaintext values.
func (c *Channel) RespondPlaintext(ctx context.Context, id string, values map[string]string) (*domain.InfoRequest, error) {
	ir, err := c.get(ctx, id)
	if err != nil {
		return nil, err
	}
	ir.Response = values
	ir.ResponseEncrypted = nil
	ir.EncryptionNonce = nil
	ir.State = domain.InfoRequestAnswered
	if err := c.store.UpdateInfoRequest(ctx, ir); err != nil {
		return nil, err
	}
	return ir, nil
}

// RespondEncrypted answers a pending InfoRequest with an opaque ciphertext
// and nonce blob. The encryption scheme and key management are entirely the
// caller's concern.
func (c *Channel) RespondEncrypted(ctx context.Context, id string, ciphertext, nonce []byte) (*domain.InfoRequest, error) {
	ir, err := c.get(ctx, id)
	if err != nil {
		return nil, err
	}
	ir.Response = nil
	ir.ResponseEncrypted = ciphertext
	ir.EncryptionNonce = nonce
	ir.State = domain.InfoRequestAnswered
	if err := c.store.UpdateInfoRequest(ctx, ir); err != nil {
		return nil, err
	}
	return ir, nil
}

func (c *Channel) get(ctx context.Context, id string) (*domain.InfoRequest, error) {
	ir, err := c.store.GetInfoRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if ir.State != domain.InfoRequestPending {
		return nil, platform.NewError("inforequest.Respond", platform.KindConflict, "info request already answered or cancelled")
	}
	return ir, nil
}

// Cancel marks a pending InfoRequest cancelled.
func (c *Channel) Cancel(ctx context.Context, id string) (*domain.InfoRequest, error) {
	ir, err := c.get(ctx, id)
	if err != nil {
		return nil, err
	}
	ir.State = domain.InfoRequestCancelled
	if err := c.store.UpdateInfoRequest(ctx, ir); err != nil {
		return nil, err
	}
	return ir, nil
}

// ListForRun returns every InfoRequest attached to runID.
func (c *Channel) ListForRun(ctx context.Context, runID string) ([]*domain.InfoRequest, error) {
	return c.store.ListInfoRequestsForRun(ctx, runID)
}

// Revealed is what Reveal discloses to an authorized caller. Plaintext is
// set when the response was stored unencrypted; Ciphertext/Nonce are set
// when it was stored encrypted and the caller's key matched. Decrypting
// them is the caller's concern, since the channel never owns the scheme.
type Revealed struct {
	Plaintext  map[string]string
	Ciphertext []byte
	Nonce      []byte
}

// Reveal discloses the response for id. If the response was stored
// encrypted, callerKey must match expectedKey (constant-time) or the
// result is redacted (zero Revealed, redacted=true).
func (c *Channel) Reveal(ctx context.Context, id string, callerKey, expectedKey []byte) (revealed Revealed, redacted bool, err error) {
	ir, err := c.store.GetInfoRequest(ctx, id)
	if err != nil {
		return Revealed{}, false, err
	}
	if ir.State != domain.InfoRequestAnswered {
		return Revealed{}, false, platform.NewError("inforequest.Reveal", platform.KindConflict, "info request has no answer yet")
	}
	if ir.ResponseEncrypted == nil {
		return Revealed{Plaintext: ir.Response}, false, nil
	}
	if len(expectedKey) == 0 || subtle.ConstantTimeCompare(callerKey, expectedKey) != 1 {
		return Revealed{}, true, nil
	}
	return Revealed{Ciphertext: ir.ResponseEncrypted, Nonce: ir.EncryptionNonce}, false, nil
}
