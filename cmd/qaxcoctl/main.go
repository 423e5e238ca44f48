// Command qaxcoctl is an operator CLI for a running qaxcored instance: order
// entry, book/account/stats inspection, and health checks over its HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qaxcoctl",
	Short: "qaxcoctl operates a running qaxcored instance.",
	Long:  "qaxcoctl operates a running qaxcored instance: submit orders, inspect books and accounts, and check daemon health.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "qaxcored base URL")

	rootCmd.AddCommand(submitCmd, cancelCmd, bookCmd, accountCmd, statsCmd, healthCmd)

	submitCmd.Flags().String("symbol", "", "instrument symbol (required)")
	submitCmd.Flags().String("side", "buy", "buy or sell")
	submitCmd.Flags().Float64("price", 0, "limit price (required)")
	submitCmd.Flags().Float64("qty", 0, "order quantity (required)")
	submitCmd.Flags().String("account", "", "account ID (required)")
	submitCmd.MarkFlagRequired("symbol")
	submitCmd.MarkFlagRequired("price")
	submitCmd.MarkFlagRequired("qty")
	submitCmd.MarkFlagRequired("account")

	cancelCmd.Flags().String("symbol", "", "instrument symbol (required)")
	cancelCmd.Flags().String("order-id", "", "order ID to cancel (required)")
	cancelCmd.MarkFlagRequired("symbol")
	cancelCmd.MarkFlagRequired("order-id")

	bookCmd.Flags().String("symbol", "", "instrument symbol (required)")
	bookCmd.Flags().Int("levels", 5, "book depth to display")
	bookCmd.MarkFlagRequired("symbol")

	accountCmd.Flags().String("id", "", "account ID (required)")
	accountCmd.MarkFlagRequired("id")
}

var submitCmd = &cobra.Command{
	Use:     "submit",
	Aliases: []string{"order"},
	Short:   "Submit a new limit order",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol, _ := cmd.Flags().GetString("symbol")
		side, _ := cmd.Flags().GetString("side")
		price, _ := cmd.Flags().GetFloat64("price")
		qty, _ := cmd.Flags().GetFloat64("qty")
		account, _ := cmd.Flags().GetString("account")

		resp, err := postJSON(serverURL+"/orders", map[string]any{
			"symbol":     symbol,
			"side":       side,
			"price":      price,
			"quantity":   qty,
			"account_id": account,
		})
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a resting order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol, _ := cmd.Flags().GetString("symbol")
		orderID, _ := cmd.Flags().GetString("order-id")

		resp, err := postJSON(serverURL+"/orders/cancel", map[string]any{
			"symbol":   symbol,
			"order_id": orderID,
		})
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Print the current order book for an instrument",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol, _ := cmd.Flags().GetString("symbol")
		levels, _ := cmd.Flags().GetInt("levels")

		url := fmt.Sprintf("%s/book?symbol=%s&levels=%d", serverURL, symbol, levels)
		resp, err := getJSON(url)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Print an account's balances and positions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		resp, err := getJSON(fmt.Sprintf("%s/accounts/%s", serverURL, id))
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print storage, settlement, and notification statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := getJSON(serverURL + "/stats")
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(serverURL + "/healthz")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("daemon unhealthy: status %d", resp.StatusCode)
		}
		fmt.Println("ok")
		return nil
	},
}

func postJSON(url string, body map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeJSON(resp.Body)
}

func getJSON(url string) (map[string]any, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeJSON(resp.Body)
}

func decodeJSON(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, data)
	}
	return out, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
