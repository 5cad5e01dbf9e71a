package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/iudanet/roomsync/internal/server/access"
	"github.com/iudanet/roomsync/internal/server/handlers"
	"github.com/iudanet/roomsync/internal/validation"
)

// SecretEnv переменная окружения с секретом подписи
const SecretEnv = "ROOMSYNC_JWT_SECRET"

// RunToken выпускает access token для разработки.
// Секрет берется из -secret, затем ROOMSYNC_JWT_SECRET, затем запрашивается интерактивно.
func (c *Cli) RunToken(args []string) error {
	var (
		secret, username, userID, role string
		ttl                            time.Duration
	)

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(c.io)
	fs.StringVar(&secret, "secret", "", "HMAC secret (not recommended, use "+SecretEnv+")")
	fs.StringVar(&username, "user", "", "username")
	fs.StringVar(&userID, "user-id", "", "user id (default: username)")
	fs.StringVar(&role, "role", access.RoleEditor, "role: subscriber|editor|admin")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := validation.ValidateUsername(username); err != nil {
		return fmt.Errorf("invalid username: %w", err)
	}
	if !access.IsRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if userID == "" {
		userID = username
	}

	if secret == "" {
		secret = os.Getenv(SecretEnv)
	}
	if secret == "" {
		var err error
		secret, err = c.io.ReadSecret("JWT secret: ")
		if err != nil {
			return fmt.Errorf("failed to read secret: %w", err)
		}
	}
	if err := validation.ValidateSecret(secret); err != nil {
		return fmt.Errorf("invalid secret: %w", err)
	}

	token, _, err := handlers.GenerateAccessToken(handlers.JWTConfig{
		Secret:         []byte(secret),
		AccessTokenTTL: ttl,
	}, access.Principal{UserID: userID, Username: username, Role: role})
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	c.io.Println(token)
	return nil
}
