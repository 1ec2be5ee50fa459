// Package cosign1 wraps the COSE_Sign1 subset the pipeline needs: EdDSA
// (alg -8) signatures over opaque payloads, with base64 helpers for
// embedding the CBOR envelope in JSON documents.
//
// Receipts produced here follow RFC 9052: a four-item array of protected
// header, unprotected header, payload, and signature, signed over the
// "Signature1" context structure.
package cosign1

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/veraison/go-cose"
)

// Sign1 signs payload with priv and returns the CBOR-encoded COSE_Sign1
// message. The protected header carries alg=EdDSA; the unprotected header
// is left empty.
func Sign1(payload []byte, priv ed25519.PrivateKey) ([]byte, error) {
	signer, err := cose.NewSigner(cose.AlgorithmEdDSA, priv)
	if err != nil {
		return nil, fmt.Errorf("cosign1: signer init: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmEdDSA)
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("cosign1: sign: %w", err)
	}

	encoded, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("cosign1: marshal: %w", err)
	}
	return encoded, nil
}

// Verify1 decodes a CBOR COSE_Sign1 message, verifies the EdDSA signature
// under pub, and returns the embedded payload. Any malformation, unknown
// algorithm, or signature mismatch fails closed with no partial result.
func Verify1(encoded []byte, pub ed25519.PublicKey) ([]byte, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(encoded); err != nil {
		return nil, fmt.Errorf("cosign1: malformed message: %w", err)
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("cosign1: missing algorithm: %w", err)
	}
	if alg != cose.AlgorithmEdDSA {
		return nil, fmt.Errorf("cosign1: unsupported algorithm %v", alg)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmEdDSA, pub)
	if err != nil {
		return nil, fmt.Errorf("cosign1: verifier init: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("cosign1: signature verification failed: %w", err)
	}
	return msg.Payload, nil
}

// EncodeBase64 encodes a raw COSE_Sign1 message as standard base64.
func EncodeBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// SignToBase64 signs payload and returns the standard-base64 COSE_Sign1.
func SignToBase64(payload []byte, priv ed25519.PrivateKey) (string, error) {
	raw, err := Sign1(payload, priv)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyFromBase64 decodes a standard-base64 COSE_Sign1 and verifies it.
func VerifyFromBase64(encoded string, pub ed25519.PublicKey) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("cosign1: base64 decode: %w", err)
	}
	return Verify1(raw, pub)
}
