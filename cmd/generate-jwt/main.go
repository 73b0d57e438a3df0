package main

import (
	"flag"
	"fmt"
	"os"

	"go-dashboard/internal/auth"
	"go-dashboard/internal/config"
)

// Dev helper: mints a session token without going through wallet-signature
// login, for exercising authenticated endpoints with curl.
func main() {
	address := flag.String("address", "0x742d35Cc6634C0532925a3b0F26750C66d78EB66", "account address to embed in the token")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret, must match the server config")
	ttl := flag.Int("ttl", 24, "token lifetime in hours")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "a signing secret is required (-secret or JWT_SECRET)")
		os.Exit(1)
	}

	mgr := auth.NewJWTManager(config.AuthConfig{JWTSecret: *secret, TokenTTL: *ttl})
	token, err := mgr.Generate(*address)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
