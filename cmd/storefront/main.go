package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/app"
)

func main() {
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatalf("storefront failed: %v", err)
	}
}
