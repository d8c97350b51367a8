package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"nostr-wallet/internal/nwc"
)

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the wallet balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			balance, err := w.GetBalance(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"balance": balance, "simulated": w.Simulated()})
		},
	}
}

func payAddressCmd() *cobra.Command {
	var memo string
	cmd := &cobra.Command{
		Use:   "pay-address <address> <amount-sats>",
		Short: "Pay a lightning address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseSats(args[1])
			if err != nil {
				return err
			}
			w, err := wallet()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			preimage, err := w.PayToLightningAddress(ctx, amount, args[0], memo)
			return printPayment(cmd, w, preimage, err)
		},
	}
	cmd.Flags().StringVarP(&memo, "memo", "m", "", "payment comment")
	return cmd
}

func payInvoiceCmd() *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "pay-invoice <bolt11>",
		Short: "Pay a BOLT11 invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			preimage, err := w.PayInvoice(ctx, args[0], amount)
			return printPayment(cmd, w, preimage, err)
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in sats, for invoices without one")
	return cmd
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check that the wallet relay is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			connected := w.TestConnection(ctx)
			if err := printJSON(cmd, map[string]bool{"connected": connected}); err != nil {
				return err
			}
			if !connected {
				return errors.New("wallet relay unreachable")
			}
			return nil
		},
	}
}

func transactionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List recent wallet transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			txs, err := w.ListTransactions(ctx, limit)
			if err != nil {
				return err
			}
			if txs == nil {
				txs = []nwc.Transaction{}
			}
			return printJSON(cmd, map[string]interface{}{"transactions": txs, "simulated": w.Simulated()})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of transactions")
	return cmd
}

// printPayment reports a payment outcome. An unconfirmed payment is
// printed and still fails the command so scripts don't treat it as paid.
func printPayment(cmd *cobra.Command, w nwc.Wallet, preimage string, err error) error {
	if errors.Is(err, nwc.ErrPaymentUnconfirmed) {
		if perr := printJSON(cmd, map[string]interface{}{"status": "unconfirmed", "simulated": w.Simulated()}); perr != nil {
			return perr
		}
		return fmt.Errorf("%w: check the wallet before retrying", err)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]interface{}{"status": "paid", "preimage": preimage, "simulated": w.Simulated()})
}

func parseSats(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid amount %q: want a positive number of sats", s)
	}
	return n, nil
}
