// Package models defines the domain types for contactlink.
package models

import "time"

// LinkPrecedence is the role a contact plays in its cluster.
type LinkPrecedence string

const (
	LinkPrimary   LinkPrecedence = "primary"
	LinkSecondary LinkPrecedence = "secondary"
)

// Contact is one stored identifier record. Email and PhoneNumber never change
// after creation; only LinkPrecedence, LinkedID and UpdatedAt are mutated.
type Contact struct {
	ID             int64          `json:"id"`
	Email          *string        `json:"email"`
	PhoneNumber    *string        `json:"phoneNumber"`
	LinkedID       *int64         `json:"linkedId"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty"`
}

// IsPrimary reports whether c anchors its cluster.
func (c Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrimary
}

// OlderThan reports whether c is senior to o: earlier CreatedAt, then lower ID.
func (c Contact) OlderThan(o Contact) bool {
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return c.ID < o.ID
}

// ConsolidatedIdentity is the merged view of one cluster.
type ConsolidatedIdentity struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}
