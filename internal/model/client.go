package model

import "time"

// Client is a mailbox correspondent, keyed by email address.
type Client struct {
	ID string `json:"id" db:"id"`

	// Email is stored lowercase and is unique per client.
	Email string `json:"email" db:"email"`

	// Name is the display name taken from mail headers. Once set it is
	// kept; later messages only fill it when it is still empty.
	Name string `json:"name" db:"name"`

	Company  string `json:"company,omitempty" db:"company"`
	Locale   string `json:"locale,omitempty" db:"locale"`
	Timezone string `json:"timezone,omitempty" db:"timezone"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
