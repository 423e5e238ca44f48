// Package main provides a CLI client for the qaxcored matching daemon.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
)

func main() {
	// Flags
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")

	// Subcommands
	submitCmd := flag.NewFlagSet("submit", flag.ExitOnError)
	submitSymbol := submitCmd.String("symbol", "CLZ5", "Instrument symbol")
	submitSide := submitCmd.String("side", "buy", "Order side (buy/sell)")
	submitPrice := submitCmd.Float64("price", 71.50, "Order price")
	submitQty := submitCmd.Float64("qty", 10, "Order quantity")
	submitAccount := submitCmd.String("account", "TRADER1", "Account ID")

	cancelCmd := flag.NewFlagSet("cancel", flag.ExitOnError)
	cancelSymbol := cancelCmd.String("symbol", "", "Instrument symbol")
	cancelOrderID := cancelCmd.String("order-id", "", "Order ID to cancel")

	bookCmd := flag.NewFlagSet("book", flag.ExitOnError)
	bookSymbol := bookCmd.String("symbol", "CLZ5", "Instrument symbol")
	bookLevels := bookCmd.Int("levels", 5, "Number of levels to show")

	accountCmd := flag.NewFlagSet("account", flag.ExitOnError)
	accountID := accountCmd.String("id", "TRADER1", "Account ID")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Parse server flag first
	flag.Parse()

	switch os.Args[1] {
	case "submit":
		submitCmd.Parse(os.Args[2:])
		submitOrder(*serverURL, *submitSymbol, *submitSide, *submitPrice, *submitQty, *submitAccount)

	case "cancel":
		cancelCmd.Parse(os.Args[2:])
		cancelOrder(*serverURL, *cancelSymbol, *cancelOrderID)

	case "book":
		bookCmd.Parse(os.Args[2:])
		getBook(*serverURL, *bookSymbol, *bookLevels)

	case "account":
		accountCmd.Parse(os.Args[2:])
		getAccount(*serverURL, *accountID)

	case "stats":
		statsCmd.Parse(os.Args[2:])
		getStats(*serverURL)

	case "demo":
		runDemo(*serverURL)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`qaxcored client

Usage:
  client <command> [options]

Commands:
  submit    Submit a new order
  cancel    Cancel an existing order
  book      View order book
  account   View account details
  stats     View system statistics
  demo      Run a demonstration

Examples:
  client submit -symbol CLZ5 -side buy -price 71.50 -qty 10 -account TRADER1
  client cancel -symbol CLZ5 -order-id 3f9c...
  client book -symbol CLZ5 -levels 10
  client account -id TRADER1
  client stats
  client demo`)
}

func submitOrder(serverURL, symbol, side string, price, qty float64, account string) {
	req := map[string]interface{}{
		"symbol":     symbol,
		"side":       side,
		"price":      price,
		"quantity":   qty,
		"account_id": account,
	}

	resp, err := postJSON(serverURL+"/orders", req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Order Response:\n")
	printJSON(resp)
}

func cancelOrder(serverURL, symbol, orderID string) {
	req := map[string]interface{}{
		"symbol":   symbol,
		"order_id": orderID,
	}

	resp, err := postJSON(serverURL+"/orders/cancel", req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Cancel Response:\n")
	printJSON(resp)
}

func getBook(serverURL, symbol string, levels int) {
	url := fmt.Sprintf("%s/book?symbol=%s&levels=%s", serverURL, symbol, strconv.Itoa(levels))

	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var data map[string]interface{}
	json.Unmarshal(body, &data)

	fmt.Printf("\n=== %s Order Book ===\n\n", symbol)

	if asks, ok := data["asks"].([]interface{}); ok {
		fmt.Println("ASKS:")
		for i := len(asks) - 1; i >= 0; i-- {
			printJSON(asks[i])
		}
	}

	if bids, ok := data["bids"].([]interface{}); ok {
		fmt.Println("BIDS:")
		for _, bid := range bids {
			printJSON(bid)
		}
	}
}

func getAccount(serverURL, accountID string) {
	url := fmt.Sprintf("%s/accounts/%s", serverURL, accountID)

	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Account Details:\n")
	printJSONBytes(body)
}

func getStats(serverURL string) {
	resp, err := http.Get(serverURL + "/stats")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("System Statistics:\n")
	printJSONBytes(body)
}

func runDemo(serverURL string) {
	fmt.Println("=== qaxcored Demo ===")

	fmt.Println("1. Initial order book (empty):")
	getBook(serverURL, "CLZ5", 5)

	fmt.Println("\n2. Market maker (MM1) posts buy orders:")
	submitOrder(serverURL, "CLZ5", "buy", 71.00, 10, "MM1")
	submitOrder(serverURL, "CLZ5", "buy", 70.50, 20, "MM1")

	fmt.Println("\n3. Market maker (MM1) posts sell orders:")
	submitOrder(serverURL, "CLZ5", "sell", 72.00, 10, "MM1")
	submitOrder(serverURL, "CLZ5", "sell", 72.50, 20, "MM1")

	fmt.Println("\n4. Order book with liquidity:")
	getBook(serverURL, "CLZ5", 5)

	fmt.Println("\n5. Trader (TRADER1) buys 10 lots at 72.00:")
	submitOrder(serverURL, "CLZ5", "buy", 72.00, 10, "TRADER1")

	fmt.Println("\n6. Order book after trade:")
	getBook(serverURL, "CLZ5", 5)

	fmt.Println("\n7. System statistics:")
	getStats(serverURL)

	fmt.Println("\n=== Demo Complete ===")
}

func postJSON(url string, data interface{}) (map[string]interface{}, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	err = json.Unmarshal(body, &result)
	return result, err
}

func printJSON(data interface{}) {
	jsonBytes, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(jsonBytes))
}

func printJSONBytes(data []byte) {
	var obj interface{}
	json.Unmarshal(data, &obj)
	printJSON(obj)
}
