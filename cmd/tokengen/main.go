// Command tokengen mints access tokens signed with the API's JWT secret for operators and local testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/noah-isme/tutor-billing-api/internal/models"
	"github.com/noah-isme/tutor-billing-api/internal/service"
	"github.com/noah-isme/tutor-billing-api/pkg/config"
)

func main() {
	userID := flag.String("user", "", "user id placed in the token subject")
	role := flag.String("role", string(models.RoleAdmin), "ADMIN, TEACHER or STUDENT")
	email := flag.String("email", "", "optional email claim")
	name := flag.String("name", "", "optional full name claim")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to JWT_EXPIRATION")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}
	userRole, err := parseRole(*role)
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	expiry := cfg.JWT.Expiration
	if *ttl > 0 {
		expiry = *ttl
	}

	auth := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: expiry,
		Issuer:            "tutor-billing-api",
	})
	token, expiresAt, err := auth.IssueToken(*userID, userRole, *email, *name)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
}

func parseRole(raw string) (models.UserRole, error) {
	switch role := models.UserRole(strings.ToUpper(strings.TrimSpace(raw))); role {
	case models.RoleAdmin, models.RoleTeacher, models.RoleStudent:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}
