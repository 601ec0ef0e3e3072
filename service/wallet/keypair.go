package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brojonat/solsend/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Client is the chain access a custodial session needs: reads for the
// transfer pipeline plus raw broadcast. *solana.Client satisfies it.
type Client interface {
	transfer.Connection
	SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
}

// LoadPrivateKey reads a keypair from a solana-keygen JSON file, or from a secret
// given either as base58 or as a JSON byte array. Exactly one should be set.
func LoadPrivateKey(path, secret string) (solanago.PrivateKey, error) {
	switch {
	case path != "":
		key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read keypair file %s: %w", path, err)
		}
		return key, nil
	case secret != "":
		return parseSecret(secret)
	default:
		return nil, transfer.ErrNoWallet
	}
}

func parseSecret(secret string) (solanago.PrivateKey, error) {
	secret = strings.TrimSpace(secret)
	var raw []byte
	if strings.HasPrefix(secret, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(secret), &ints); err != nil {
			return nil, fmt.Errorf("failed to parse secret key array: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("secret key byte %d out of range", i)
			}
			raw[i] = byte(v)
		}
	} else {
		decoded, err := base58.Decode(secret)
		if err != nil {
			return nil, fmt.Errorf("failed to decode secret key: %w", err)
		}
		raw = decoded
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("secret key must be 64 bytes, got %d", len(raw))
	}
	return solanago.PrivateKey(raw), nil
}

// KeypairSession is a custodial wallet: the service holds the key, signs
// locally and broadcasts through RPC.
type KeypairSession struct {
	key    solanago.PrivateKey
	client Client
	logger *slog.Logger
}

// NewKeypairSession creates a session for a locally held key.
func NewKeypairSession(key solanago.PrivateKey, client Client, logger *slog.Logger) *KeypairSession {
	return &KeypairSession{key: key, client: client, logger: logger}
}

func (s *KeypairSession) Address() solanago.PublicKey {
	return s.key.PublicKey()
}

func (s *KeypairSession) Connection(ctx context.Context) (transfer.Connection, error) {
	return s.client, nil
}

func (s *KeypairSession) Signer(ctx context.Context) (transfer.Signer, error) {
	if len(s.key) == 0 {
		return nil, transfer.ErrNoWallet
	}
	return &keypairSigner{key: s.key, client: s.client, logger: s.logger}, nil
}

type keypairSigner struct {
	key    solanago.PrivateKey
	client Client
	logger *slog.Logger
}

func (k *keypairSigner) SignAndSend(ctx context.Context, tx *solanago.Transaction) (transfer.SendResult, error) {
	pub := k.key.PublicKey()
	_, err := tx.Sign(func(signer solanago.PublicKey) *solanago.PrivateKey {
		if signer.Equals(pub) {
			return &k.key
		}
		return nil
	})
	if err != nil {
		// a local key never declines; a missing signer is a fault in the transaction
		return transfer.SendResult{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := k.client.SendTransaction(ctx, tx)
	if err != nil {
		return transfer.SendResult{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	k.logger.DebugContext(ctx, "transaction signed locally", "signer", pub.String(), "signature", sig.String())
	return transfer.SendResult{Signature: sig}, nil
}
