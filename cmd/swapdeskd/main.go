package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/minseok-dev/swapdesk/params"
	"github.com/minseok-dev/swapdesk/pkg/api"
	"github.com/minseok-dev/swapdesk/pkg/events"
	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
	"github.com/minseok-dev/swapdesk/pkg/exchange/bank"
	"github.com/minseok-dev/swapdesk/pkg/exchange/book"
	"github.com/minseok-dev/swapdesk/pkg/exchange/ledger"
	"github.com/minseok-dev/swapdesk/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("node_starting", "data_dir", cfg.Node.DataDir, "api", cfg.Node.APIListen,
		"fee_account", cfg.Exchange.FeeAccount.Hex(), "fee_percent", cfg.Exchange.FeePercent)

	// ---- Event sinks: durable journal + live WebSocket hub ----
	journal, err := events.OpenJournal(filepath.Join(cfg.Node.DataDir, "events.db"))
	if err != nil {
		sugar.Fatalw("journal_open_failed", "err", err)
	}
	defer journal.Close()

	hub := events.NewHub()
	sink := events.Multi{journal, hub}

	// ---- External bank (transfer facility boundary) ----
	wallets := bank.New(sink)
	if cfg.Genesis.NativeSupply != "" && cfg.Genesis.Account != (common.Address{}) {
		supply, err := asset.ParseAmount(cfg.Genesis.NativeSupply)
		if err != nil {
			sugar.Fatalw("genesis_supply_invalid", "err", err)
		}
		if err := wallets.Mint(asset.Native, cfg.Genesis.Account, supply); err != nil {
			sugar.Fatalw("genesis_mint_failed", "err", err)
		}
		sugar.Infow("genesis_seeded", "account", cfg.Genesis.Account.Hex(), "supply", supply.Dec())
	}

	// ---- Custody ledger + order book ----
	custodyLedger, err := ledger.New(filepath.Join(cfg.Node.DataDir, "balances.db"),
		wallets, cfg.Exchange.Custody, sink, sugar)
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "err", err)
	}
	defer custodyLedger.Close()

	orderBook, err := book.New(filepath.Join(cfg.Node.DataDir, "orders.db"),
		custodyLedger, cfg.Exchange.FeeAccount, cfg.Exchange.FeePercent,
		util.RealClock{}, sink, sugar)
	if err != nil {
		sugar.Fatalw("book_open_failed", "err", err)
	}
	defer orderBook.Close()

	// ---- API ----
	server := api.NewServer(custodyLedger, orderBook, hub, journal, sugar)
	go func() {
		if err := server.Start(cfg.Node.APIListen); err != nil {
			sugar.Fatalw("api_failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sugar.Infow("node_stopping")
}
