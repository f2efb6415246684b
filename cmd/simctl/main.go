// simctl — command-line client for the simulator's gateway API.
//
// Usage:
//
//	simctl [-addr http://localhost:8080] <command> [args]
//
// Commands:
//
//	health                       gateway liveness and virtual clock
//	book                         aggregated L2 snapshot
//	last                         last trade price
//	orders                       open orders
//	balances                     cash, position, realized PnL
//	buy  <qty> [price]           market buy, or limit buy at price (cents)
//	sell <qty> [price]           market sell, or limit sell at price (cents)
//	cancel <order-id>            cancel a resident order
//	modify <order-id> [-price n] [-qty n]
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "gateway base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := resty.New().
		SetBaseURL(*addr).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	var err error
	switch args[0] {
	case "health":
		err = get(c, "/health")
	case "book":
		err = get(c, "/api/book")
	case "last":
		err = get(c, "/api/last")
	case "orders":
		err = get(c, "/api/orders")
	case "balances":
		err = get(c, "/api/balances")
	case "buy":
		err = place(c, "BUY", args[1:])
	case "sell":
		err = place(c, "SELL", args[1:])
	case "cancel":
		err = cancel(c, args[1:])
	case "modify":
		err = modify(c, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: simctl [-addr url] health|book|last|orders|balances|buy|sell|cancel|modify")
}

func get(c *resty.Client, path string) error {
	resp, err := c.R().Get(path)
	if err != nil {
		return err
	}
	return report(resp)
}

func place(c *resty.Client, side string, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: simctl buy|sell <qty> [price]")
	}
	qty, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad qty: %w", err)
	}

	body := map[string]any{"side": side, "qty": qty, "type": "market"}
	if len(args) == 2 {
		price, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad price: %w", err)
		}
		body["type"] = "limit"
		body["price"] = price
	}

	resp, err := c.R().SetBody(body).Post("/api/orders")
	if err != nil {
		return err
	}
	return report(resp)
}

func cancel(c *resty.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: simctl cancel <order-id>")
	}
	resp, err := c.R().Delete("/api/orders/" + args[0])
	if err != nil {
		return err
	}
	return report(resp)
}

func modify(c *resty.Client, args []string) error {
	fs := flag.NewFlagSet("modify", flag.ContinueOnError)
	price := fs.Int64("price", 0, "new price in cents")
	qty := fs.Int64("qty", -1, "new quantity (0 cancels)")
	if len(args) < 1 {
		return fmt.Errorf("usage: simctl modify <order-id> [-price n] [-qty n]")
	}
	id := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	body := map[string]any{}
	if *price > 0 {
		body["price"] = *price
	}
	if *qty >= 0 {
		body["qty"] = *qty
	}
	if len(body) == 0 {
		return fmt.Errorf("nothing to modify")
	}

	resp, err := c.R().SetBody(body).Patch("/api/orders/" + id)
	if err != nil {
		return err
	}
	return report(resp)
}

func report(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	fmt.Println(resp.String())
	return nil
}
