package main

import (
	"context"
	"log"
	"net/http"

	"escrowflow/api"
	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/escrow"
	"escrowflow/policy"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	var store escrow.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("bootstrap database pool: %v", err)
		}
		defer pool.Close()
		store = escrow.NewRepository(pool)
	} else {
		log.Printf("DATABASE_URL empty, using in-memory deal store")
		store = escrow.NewMemStore()
	}

	if len(cfg.Arbiters) == 0 {
		log.Printf("warning: arbiter roster is empty, no deal can be decided")
	}

	deals := escrow.NewService(store, policy.New(cfg.Arbiters, cfg.StrictParties))
	tokens := auth.NewService(cfg.JWTSecret, cfg.ArbiterPasswordHash, cfg.TokenTTL)
	server := api.NewServer(deals, tokens)

	log.Printf("escrowd listening on %s", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, server.Handler()))
}
