package commands

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"nostr-wallet/internal/nostr"
)

func infoCmd() *cobra.Command {
	var qrPath string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the keys and relay of the pairing without contacting the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.GetOrCreate(pairing)
			if err != nil {
				return err
			}
			desc := s.Descriptor()

			walletNpub, err := nostr.EncodeNpub(desc.WalletPubKey)
			if err != nil {
				return err
			}
			clientNpub, err := nostr.EncodeNpub(s.ClientPubKey())
			if err != nil {
				return err
			}

			if qrPath != "" {
				if err := writePairingQR(qrPath, pairing); err != nil {
					return err
				}
			}
			return printJSON(cmd, map[string]interface{}{
				"relay":         desc.RelayURL(),
				"wallet_pubkey": desc.WalletPubKey,
				"wallet_npub":   walletNpub,
				"client_pubkey": s.ClientPubKey(),
				"client_npub":   clientNpub,
			})
		},
	}
	cmd.Flags().StringVar(&qrPath, "qr", "", "also write the pairing identifier as a PNG QR code to this file")
	return cmd
}

// writePairingQR renders the pairing for scanning into another app.
// The file holds the client secret, so it is only readable by the owner.
func writePairingQR(path, pairing string) error {
	png, err := qrcode.Encode(pairing, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("failed to render QR code: %w", err)
	}
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return fmt.Errorf("failed to write QR code: %w", err)
	}
	return nil
}
