package database

import "time"

// Match is a pairing of exactly two users. UserA always sorts before UserB.
type Match struct {
	Id        string
	UserA     string
	UserB     string
	CreatedAt time.Time
}

func (m Match) Users() [2]string {
	return [2]string{m.UserA, m.UserB}
}

func (m Match) HasUser(userId string) bool {
	return userId != "" && (m.UserA == userId || m.UserB == userId)
}

type Message struct {
	Id        string
	Seq       int64
	MatchId   string
	SenderId  string
	Content   string
	Seen      bool
	DeletedBy []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateMatchParams struct {
	UserA string
	UserB string
}

type CreateMessageParams struct {
	MatchId   string
	SenderId  string
	Content   string
	CreatedAt time.Time
}

// orderedPair returns the two user ids in storage order.
func orderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
