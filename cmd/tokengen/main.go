// Command tokengen prints an access token for a camera, staff console or
// test client, signed with JWT_SECRET.
//
//	tokengen -role DETECTOR -sub 9001 -ttl 8760h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/utils"
)

func main() {
	role := flag.String("role", model.RoleDetector, "role claim (ADMIN, STAFF, CLIENT, DRIVER, DETECTOR)")
	sub := flag.Uint64("sub", 0, "subject (user or device id)")
	client := flag.Uint64("client", 0, "client id for CLIENT tokens")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	r := strings.ToUpper(*role)
	switch r {
	case model.RoleAdmin, model.RoleStaff, model.RoleClient, model.RoleDriver, model.RoleDetector:
	default:
		log.Fatalf("unknown role %q", *role)
	}
	if r == model.RoleClient && *client == 0 {
		log.Fatal("CLIENT tokens need -client")
	}

	tok, err := utils.NewAccessToken(secret, *sub, r, *client, *ttl)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
