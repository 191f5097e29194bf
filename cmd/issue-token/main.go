// Command issue-token mints a signed access token for local testing of the
// WebSocket and publish endpoints. The user must exist in the database for
// the server to accept the token.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/patrik-fredon/rococua-muhah/internal/auth"
)

func main() {
	_ = godotenv.Load()

	userID := flag.String("user", "", "user id (uuid)")
	email := flag.String("email", "", "email claim")
	roles := flag.String("roles", "user", "comma-separated role names")
	ttl := flag.Duration("ttl", 30*time.Minute, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to JWT_SECRET)")
	flag.Parse()

	token, err := issue(*secret, *userID, *email, *roles, *ttl)
	if err != nil {
		log.Fatalf("issue-token: %v", err)
	}
	fmt.Println(token)
}

func issue(secret, userID, email, roles string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("a signing secret is required (-secret or JWT_SECRET)")
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", fmt.Errorf("invalid -user: %w", err)
	}

	var roleList []string
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}

	return auth.NewTokenManager(secret, ttl, clockwork.NewRealClock()).Issue(id, email, roleList, ttl)
}
