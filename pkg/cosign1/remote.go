package cosign1

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/veraison/go-cose"
)

// SignFunc signs raw bytes, possibly via a remote service.
type SignFunc func(ctx context.Context, data []byte) ([]byte, error)

// Sign1WithFunc builds a COSE_Sign1 whose signature is produced by signFn.
// This is the path for managers whose private key is remote and
// non-exportable; pub is the exported public half, used only to size-check
// the signer identity.
func Sign1WithFunc(ctx context.Context, payload []byte, pub ed25519.PublicKey, signFn SignFunc) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("cosign1: bad public key size %d", len(pub))
	}

	signer, err := cose.NewSigner(cose.AlgorithmEdDSA, &funcSigner{ctx: ctx, pub: pub, fn: signFn})
	if err != nil {
		return nil, fmt.Errorf("cosign1: signer init: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmEdDSA)
	msg.Payload = payload

	if err := msg.Sign(nil, nil, signer); err != nil {
		return nil, fmt.Errorf("cosign1: sign: %w", err)
	}
	encoded, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("cosign1: marshal: %w", err)
	}
	return encoded, nil
}

// funcSigner adapts a SignFunc to crypto.Signer. Ed25519 signs the message
// directly (no pre-hash), so the digest parameter carries the full
// to-be-signed bytes.
type funcSigner struct {
	ctx context.Context
	pub ed25519.PublicKey
	fn  SignFunc
}

func (s *funcSigner) Public() crypto.PublicKey { return s.pub }

func (s *funcSigner) Sign(_ io.Reader, message []byte, _ crypto.SignerOpts) ([]byte, error) {
	return s.fn(s.ctx, message)
}
