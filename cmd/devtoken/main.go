// Command devtoken mints a customer bearer token for local testing of the
// checkout API.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/josh-kwaku/samaki-checkout/internal/auth"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}

	customer := flag.String("customer", "", "customer id (random when empty)")
	name := flag.String("name", "", "display name")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}

	id := uuid.New()
	if *customer != "" {
		parsed, err := uuid.Parse(*customer)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid -customer:", err)
			os.Exit(1)
		}
		id = parsed
	}

	token, err := auth.GenerateToken(id, *name, secret, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("customer_id=%s\n%s\n", id, token)
}
