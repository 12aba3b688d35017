package testutil

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/npezzotti/campus-connect/internal/auth"
	"github.com/npezzotti/campus-connect/internal/database"
)

var SigningKey = []byte("test-signing-key")

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// CreateMatch stores a match between userA and userB and fails the test on
// error.
func CreateMatch(t *testing.T, db database.ChatRepository, userA, userB string) database.Match {
	t.Helper()

	m, err := db.CreateMatch(context.Background(), database.CreateMatchParams{UserA: userA, UserB: userB})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m
}

// Token returns a token for userId signed with SigningKey.
func Token(t *testing.T, userId string) string {
	t.Helper()

	token, err := auth.NewJWTAuthenticator(SigningKey).IssueToken(auth.Identity{UserId: userId, Role: auth.RoleUser}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
