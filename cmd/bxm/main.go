package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
)

var BuildVersion = "dev"

func main() {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}
