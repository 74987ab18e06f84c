package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/transfa/rental-service/internal/domain"
	"github.com/transfa/rental-service/internal/store"
	"github.com/transfa/rental-service/pkg/rentalclient"
)

const commandTimeout = 30 * time.Second

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			databaseURL, _ := cmd.Flags().GetString("database-url")
			if databaseURL == "" {
				return errors.New("--database-url or DATABASE_URL is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			db, err := pgxpool.New(ctx, databaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			if err := store.RunMigrations(ctx, db, logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations up to date.")
			return nil
		},
	}
	cmd.Flags().String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	return cmd
}

func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetString("account")
			key, _ := cmd.Flags().GetString("signing-key")
			issuer, _ := cmd.Flags().GetString("issuer")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if account == "" {
				return errors.New("--account is required")
			}
			if key == "" {
				return errors.New("--signing-key or JWT_SIGNING_KEY is required")
			}

			signed, err := signToken(key, account, issuer, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().String("account", "", "account the token authenticates")
	cmd.Flags().String("signing-key", os.Getenv("JWT_SIGNING_KEY"), "HS256 signing key")
	cmd.Flags().String("issuer", os.Getenv("JWT_ISSUER"), "token issuer")
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	return cmd
}

func signToken(key, account, issuer string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   account,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if issuer != "" {
		claims.Issuer = issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func RentalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rental",
		Short: "Create and drive rental agreements",
	}

	create := &cobra.Command{
		Use:   "create <property-id>",
		Short: "Create a pending rental (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := domain.CreateRentalParams{PropertyID: args[0]}
			params.Tenant, _ = cmd.Flags().GetString("tenant")
			params.RentAmount, _ = cmd.Flags().GetInt64("rent")
			params.DepositAmount, _ = cmd.Flags().GetInt64("deposit")
			params.LateFee, _ = cmd.Flags().GetInt64("late-fee")
			interval, _ := cmd.Flags().GetDuration("interval")
			params.RentInterval = int64(interval / time.Second)

			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.CreateRental(ctx, params)
			})
		},
	}
	create.Flags().String("tenant", "", "tenant account")
	create.Flags().Int64("rent", 0, "rent per interval, in kobo")
	create.Flags().Int64("deposit", 0, "security deposit, in kobo")
	create.Flags().Int64("late-fee", 0, "fee added once rent is overdue, in kobo")
	create.Flags().Duration("interval", 30*24*time.Hour, "time between rent due dates")

	get := &cobra.Command{
		Use:   "get <property-id>",
		Short: "Show a rental",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.GetRental(ctx, args[0])
			})
		},
	}

	activate := &cobra.Command{
		Use:   "activate <property-id> <payment>",
		Short: "Pay first rent and deposit (tenant only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payment, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.ActivateRental(ctx, args[0], payment)
			})
		},
	}

	pay := &cobra.Command{
		Use:   "pay <property-id> <payment>",
		Short: "Pay rent (tenant only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payment, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.PayRent(ctx, args[0], payment)
			})
		},
	}

	end := &cobra.Command{
		Use:   "end <property-id>",
		Short: "End an active rental and refund the tenant's deposit (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.EndRental(ctx, args[0])
			})
		},
	}

	deposit := &cobra.Command{
		Use:   "deposit <property-id>",
		Short: "Show the caller's deposit balance (tenant only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.GetDeposit(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(create, get, activate, pay, end, deposit)
	return cmd
}

func LedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and control the ledger",
	}

	state := &cobra.Command{
		Use:   "state",
		Short: "Show owner, pause flag and custody balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.LedgerState(ctx)
			})
		},
	}

	pause := &cobra.Command{
		Use:   "pause",
		Short: "Pause rental operations (owner only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.SetPaused(ctx, true)
			})
		},
	}

	resume := &cobra.Command{
		Use:   "resume",
		Short: "Resume rental operations (owner only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.SetPaused(ctx, false)
			})
		},
	}

	withdraw := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw funds not committed to deposits (owner only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				amount, err := c.Withdraw(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]int64{"amount": amount}, nil
			})
		},
	}

	events := &cobra.Command{
		Use:   "events",
		Short: "List the ledger audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			after, _ := cmd.Flags().GetInt64("after")
			limit, _ := cmd.Flags().GetInt("limit")
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.Events(ctx, after, limit)
			})
		},
	}
	events.Flags().Int64("after", 0, "only events after this sequence number")
	events.Flags().Int("limit", 100, "page size")

	cmd.AddCommand(state, pause, resume, withdraw, events)
	return cmd
}

func DepositsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposits <account>",
		Short: "Show the deposit balance held for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *rentalclient.Client) (interface{}, error) {
				return c.DepositOf(ctx, args[0])
			})
		},
	}
}

func withClient(cmd *cobra.Command, call func(ctx context.Context, c *rentalclient.Client) (interface{}, error)) error {
	apiURL, _ := cmd.Flags().GetString("api-url")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		return errors.New("--token or RENTAL_API_TOKEN is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	result, err := call(ctx, rentalclient.NewClient(apiURL, token))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func parseAmount(raw string) (int64, error) {
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: must be an integer number of kobo", raw)
	}
	return amount, nil
}
