// Command devtoken mints HS256 credentials for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/delivery-tracking/internal/auth"
	"github.com/example/delivery-tracking/internal/models"
)

func main() {
	_ = godotenv.Load()

	var (
		secret = flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to JWT_SECRET)")
		issuer = flag.String("issuer", os.Getenv("JWT_ISSUER"), "issuer claim")
		user   = flag.String("user", "", "user id (sub claim)")
		role   = flag.String("role", "customer", "customer, driver or admin")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	r, ok := models.ParseRole(*role)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	if *user == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}
	tok, err := auth.Issue(*secret, *issuer, models.Identity{UserID: *user, Role: r}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
