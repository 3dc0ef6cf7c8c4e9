package main

import (
	"log"

	"github.com/MrSnakeDoc/moor/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ moor failed to start: %v", err)
	}
}
