package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/contactlink/internal/identity"
	"github.com/starford/contactlink/internal/models"
)

// Field bounds for identify requests.
const (
	maxEmailLength = 320
	maxPhoneLength = 64
)

// IdentifyRequest is the request body for POST /identify.
type IdentifyRequest struct {
	Email       *string      `json:"email,omitempty" example:"lorraine@hillvalley.edu"`
	PhoneNumber *PhoneNumber `json:"phoneNumber,omitempty" example:"123456"`
}

// Validate checks field bounds. Presence is enforced by the engine.
func (r *IdentifyRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, validation.Length(0, maxEmailLength)),
		validation.Field(&r.PhoneNumber, validation.Length(0, maxPhoneLength)),
	)
}

func (r *IdentifyRequest) toEngine() identity.Request {
	req := identity.Request{Email: r.Email}
	if r.PhoneNumber != nil {
		s := string(*r.PhoneNumber)
		req.PhoneNumber = &s
	}
	return req
}

// PhoneNumber accepts either a JSON string or a JSON number. Numbers keep
// their literal decimal text.
type PhoneNumber string

// UnmarshalJSON implements json.Unmarshaler.
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PhoneNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or a number")
	}
	*p = PhoneNumber(n.String())
	return nil
}

// IdentifyResponse wraps the consolidated contact.
type IdentifyResponse struct {
	Contact *models.ConsolidatedIdentity `json:"contact" validate:"required"`
}
