package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/adapter/repo"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/infra"
)

// Operator CLI for credit accounts: monthly resets at plan renewal and
// one-off lifetime grants for support compensations.
func main() {
	var (
		userFlag  string
		resetFlag int
		grantFlag int
		noteFlag  string
	)

	flag.StringVar(&userFlag, "user", "", "user ID to adjust")
	flag.IntVar(&resetFlag, "reset", -1, "replace the monthly balance with this amount")
	flag.IntVar(&grantFlag, "grant", 0, "add this amount to the lifetime balance")
	flag.StringVar(&noteFlag, "note", "", "description stored on the ledger entry")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if resetFlag < 0 && grantFlag <= 0 {
		exitWithError(errors.New("provide -reset N and/or -grant N"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "creditgrant").Logger()
	runner := infra.NewSQLRunner(pool, logger)
	ledger := repo.NewCreditLedger(runner)

	if resetFlag >= 0 {
		note := noteFlag
		if note == "" {
			note = "monthly reset"
		}
		balance, err := ledger.Reset(ctx, userID, resetFlag, note)
		if err != nil {
			exitWithError(fmt.Errorf("failed to reset monthly balance: %w", err))
		}
		fmt.Printf("User %s monthly balance set to %d (total %d)\n", userID, resetFlag, balance)
	}

	if grantFlag > 0 {
		note := noteFlag
		if note == "" {
			note = "bonus grant"
		}
		balance, err := ledger.Grant(ctx, userID, grantFlag, note)
		if err != nil {
			exitWithError(fmt.Errorf("failed to grant credits: %w", err))
		}
		fmt.Printf("User %s granted %d lifetime credits (total %d)\n", userID, grantFlag, balance)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
