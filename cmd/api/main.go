package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"reviewflow/attorney"
	"reviewflow/auth"
	"reviewflow/db"
	"reviewflow/document"
	"reviewflow/item"
	"reviewflow/request"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	docStore := document.NewPGStore(pool)
	itemService := item.NewService(item.NewRepository(pool))

	server := &Server{
		authService:     auth.NewService(auth.NewRepository(pool), jwtSecret),
		requestService:  request.NewService(pool, nil, itemService, docStore),
		attorneyService: attorney.NewService(attorney.NewRepository(pool)),
		itemService:     itemService,
		stager:          document.NewStager(docStore),
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("api listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
