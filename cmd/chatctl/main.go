// Command chatctl issues development tokens and creates matches without
// going through the rest of the app.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/campus-connect/internal/auth"
	"github.com/npezzotti/campus-connect/internal/chat"
	"github.com/npezzotti/campus-connect/internal/config"
	"github.com/npezzotti/campus-connect/internal/database"
)

const usage = `usage: chatctl <command> [flags]

commands:
  token   issue a signed token for a user
  match   create a match between two users
`

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func main() {
	logger := log.New(os.Stderr, "[chatctl] ", 0)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "token":
		err = issueToken(os.Args[2:])
	case "match":
		err = createMatch(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Fatal(err)
	}
}

func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	userId := fs.String("user", "", "user id to put in the token")
	role := fs.String("role", auth.RoleUser, "role of the user")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := fs.String("signing-key", envOr("JWT_SECRET", ""), "base64 encoded signing key")
	fs.Parse(args)

	if *userId == "" {
		return fmt.Errorf("-user is required")
	}

	key, err := config.DecodeSigningSecret(*secret)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}

	token, err := auth.NewJWTAuthenticator(key).IssueToken(auth.Identity{UserId: *userId, Role: *role}, *ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func createMatch(args []string) error {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	dsn := fs.String("dsn", envOr("DATABASE_URL", ""), "database connection string")
	userA := fs.String("a", "", "first user id")
	userB := fs.String("b", "", "second user id")
	fs.Parse(args)

	if *dsn == "" || *dsn == config.MemoryDSN {
		return fmt.Errorf("-dsn must point at a postgres database")
	}

	db, err := database.NewPgChatRepository(*dsn)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	match, err := chat.NewMatches(db).Create(ctx, *userA, *userB)
	if err != nil {
		return err
	}

	fmt.Println(match.Id)
	return nil
}
