// Command aerodog turns raw AERONET instrument files into cleaned, merged and
// derived aerosol tables.
//
// Usage:
//
//	aerodog run --plan aerodog.yaml
//	aerodog summary data/derived/Lille.lev15_derived_v03
//
// Process settings come from the environment (see internal/config); a .env
// file in the working directory is loaded first when present.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
