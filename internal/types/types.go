package types

import (
	"time"
)

type Match struct {
	Id                string     `json:"id"`
	Users             []string   `json:"users"`
	PartnerId         string     `json:"partnerId,omitempty"`
	PartnerOnline     bool       `json:"partnerOnline"`
	PartnerLastActive *time.Time `json:"partnerLastActive,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

type Message struct {
	Id        string    `json:"id"`
	MatchId   string    `json:"matchId"`
	SenderId  string    `json:"senderId"`
	Content   string    `json:"content"`
	Seen      bool      `json:"seen"`
	DeletedBy []string  `json:"deletedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
