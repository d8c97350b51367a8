package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nostr-wallet/internal/config"
	"nostr-wallet/internal/nwc"
)

var (
	pairing    string
	encryption string
	timeout    time.Duration
	verbose    bool
	simulate   bool

	cfg   *config.Config
	store *nwc.SessionStore
)

// Execute runs the nwcctl command tree
func Execute() error {
	defer closeSessions()
	return newRootCmd(os.Stdout).Execute()
}

func closeSessions() {
	if store != nil {
		store.CloseAll()
		store = nil
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "nwcctl",
		Short:        "Talk to a Nostr Wallet Connect wallet",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}

			level := cfg.LogLevel
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			if pairing == "" {
				pairing = os.Getenv("NWC_URI")
			}
			if pairing == "" {
				return errors.New("no pairing: pass --uri or set NWC_URI")
			}

			opts := cfg.NWCOptions()
			opts.Logger = slog.Default()
			switch enc := strings.ToLower(encryption); enc {
			case "":
			case nwc.EncryptionNIP04, nwc.EncryptionNIP44:
				opts.Encryption = enc
			default:
				return fmt.Errorf("--encryption: unknown scheme %q (want nip04 or nip44)", encryption)
			}
			store = nwc.NewSessionStore(opts)
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&pairing, "uri", "", "pairing identifier (default $NWC_URI)")
	root.PersistentFlags().StringVar(&encryption, "encryption", "", "payload encryption: nip04 or nip44 (default $NWC_ENCRYPTION)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	root.PersistentFlags().BoolVar(&simulate, "simulate", false, "use a simulated wallet; nothing is sent")

	root.AddCommand(balanceCmd(), payAddressCmd(), payInvoiceCmd(), testCmd(), transactionsCmd(), infoCmd())
	return root
}

// wallet returns the wallet the command should talk to
func wallet() (nwc.Wallet, error) {
	if simulate || cfg.Simulate {
		if _, err := nwc.ParseConnectionString(pairing); err != nil {
			return nil, err
		}
		return nwc.NewSimulatedWallet(slog.Default()), nil
	}
	return store.GetOrCreate(pairing)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
