package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"OpenFX-Ledger/sdk/go/fxledger"
)

// 演示如何用 SDK 查看钱包并向对手方转账。
// 用法: FXLEDGER_URL=http://127.0.0.1:8080 FXLEDGER_TOKEN=... go run ./sdk/go/examples PartyB "5 EUR"
func main() {
	baseURL := os.Getenv("FXLEDGER_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	client, err := fxledger.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(os.Getenv("FXLEDGER_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	list, err := client.ListWallets(ctx)
	if err != nil {
		log.Fatalf("list wallets: %v", err)
	}
	fmt.Printf("%s holds %d wallet(s)\n", list.Owner, len(list.Wallets))
	for _, w := range list.Wallets {
		fmt.Printf("  %s\n", w.Amount)
	}

	if len(os.Args) < 3 {
		return
	}
	result, err := client.Transfer(ctx, fxledger.Transfer{Counterparty: os.Args[1], Amount: os.Args[2]})
	if err != nil {
		log.Fatalf("transfer (%s): %v", fxledger.CodeOf(err), err)
	}
	fmt.Printf("committed %s at %s\n", result.Receipt.TxID, result.Receipt.CommittedAt.Format(time.RFC3339))
}
