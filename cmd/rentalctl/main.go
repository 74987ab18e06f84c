// rentalctl is the operator command line for the rental-service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "rentalctl",
		Short:         "Operate the rental ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("api-url", envOr("RENTAL_API_URL", "http://localhost:8080"), "rental-service base URL")
	rootCmd.PersistentFlags().String("token", os.Getenv("RENTAL_API_TOKEN"), "bearer token for the calling account")

	rootCmd.AddCommand(
		MigrateCmd(),
		TokenCmd(),
		RentalCmd(),
		LedgerCmd(),
		DepositsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
