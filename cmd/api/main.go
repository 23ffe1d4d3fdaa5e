package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
)

// @title People API
// @version 1.0
// @description User records with optional avatar uploads.
// @BasePath /
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
