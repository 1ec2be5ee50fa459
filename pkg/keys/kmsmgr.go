package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// kmsAPI is the slice of the AWS KMS client this manager uses.
type kmsAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSManager signs with a key held in AWS KMS. The private key never leaves
// the service; only the public half is exported at construction. SignSync
// is intentionally absent — a caller requiring synchronous signing must
// fail fast when handed this manager.
type KMSManager struct {
	client  kmsAPI
	kmsKey  string
	keyRef  string
	pub     ed25519.PublicKey
	sigSpec types.SigningAlgorithmSpec
}

// NewKMSManager resolves AWS configuration from the environment and fetches
// the public half of kmsKeyID.
func NewKMSManager(ctx context.Context, kmsKeyID, keyRef string) (*KMSManager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("keys: load aws config: %w", err)
	}
	return newKMSManager(ctx, kms.NewFromConfig(cfg), kmsKeyID, keyRef)
}

func newKMSManager(ctx context.Context, client kmsAPI, kmsKeyID, keyRef string) (*KMSManager, error) {
	out, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: &kmsKeyID})
	if err != nil {
		return nil, fmt.Errorf("keys: kms get public key: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keys: parse kms public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: kms key %s is not Ed25519", kmsKeyID)
	}

	sigSpec := types.SigningAlgorithmSpec("EDDSA")
	if len(out.SigningAlgorithms) > 0 {
		sigSpec = out.SigningAlgorithms[0]
	}

	return &KMSManager{
		client:  client,
		kmsKey:  kmsKeyID,
		keyRef:  keyRef,
		pub:     pub,
		sigSpec: sigSpec,
	}, nil
}

// Sign performs a remote KMS signing call over the raw message.
func (m *KMSManager) Sign(ctx context.Context, data []byte) ([]byte, error) {
	out, err := m.client.Sign(ctx, &kms.SignInput{
		KeyId:            &m.kmsKey,
		Message:          data,
		MessageType:      types.MessageTypeRaw,
		SigningAlgorithm: m.sigSpec,
	})
	if err != nil {
		return nil, fmt.Errorf("keys: kms sign: %w", err)
	}
	if len(out.Signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("keys: kms returned %d-byte signature, want %d",
			len(out.Signature), ed25519.SignatureSize)
	}
	return out.Signature, nil
}

// Public returns the exported public key.
func (m *KMSManager) Public() ed25519.PublicKey { return m.pub }

// KeyRef returns the configured key fragment.
func (m *KMSManager) KeyRef() string { return m.keyRef }

// Attestation reports HSM-held, non-exportable custody.
func (m *KMSManager) Attestation() KeyAttestationInfo {
	return KeyAttestationInfo{Type: "hsm", Provider: "aws-kms", NonExportable: true}
}
