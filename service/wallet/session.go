package wallet

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brojonat/solsend/service/config"
	"github.com/brojonat/solsend/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
)

// FromConfig opens the wallet session the configuration describes.
// It returns a nil session, not an error, when no wallet is configured.
func FromConfig(cfg *config.Config, client Client, logger *slog.Logger) (transfer.Session, error) {
	switch cfg.WalletMode() {
	case config.WalletModeKeypair:
		key, err := LoadPrivateKey(cfg.WalletKeypairPath, cfg.WalletPrivateKey)
		if err != nil {
			return nil, err
		}
		logger.Info("using custodial keypair wallet", "address", key.PublicKey().String())
		return NewKeypairSession(key, client, logger), nil

	case config.WalletModeRemote:
		address, err := solanago.PublicKeyFromBase58(cfg.RemoteSignerAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid remote signer address: %w", err)
		}
		logger.Info("using remote signer wallet", "address", address.String(), "url", cfg.RemoteSignerURL)
		httpClient := &http.Client{Timeout: cfg.SignerTimeout}
		return NewRemoteSession(cfg.RemoteSignerURL, cfg.RemoteSignerToken, address, client, httpClient, logger), nil

	default:
		logger.Warn("no wallet configured; transfers will fail with NoWalletConnected")
		return nil, nil
	}
}
