package session

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// Credentials is the password sign-in payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c Credentials) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.Email),
		validation.Field(&c.Password, validation.Required),
	)
	return wrapValidation(err)
}

// SignupPayload is the registration payload. FullName travels as identity
// metadata so the profile seeded on first resolution carries it.
type SignupPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (p SignupPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required, validation.Length(8, 72)),
		validation.Field(&p.FullName, validation.Required, validation.Length(1, 120)),
	)
	return wrapValidation(err)
}

// Metadata returns the identity metadata the platform stores alongside the
// new identity.
func (p SignupPayload) Metadata() map[string]any {
	return map[string]any{
		"full_name": p.FullName,
	}
}

// ProfileUpdate is the partial profile edit payload. Nil fields are left
// untouched.
type ProfileUpdate struct {
	FullName      *string        `json:"full_name,omitempty"`
	AvatarURL     *string        `json:"avatar_url,omitempty"`
	Phone         *string        `json:"phone_number,omitempty"`
	Company       *string        `json:"company,omitempty"`
	Address       *string        `json:"address,omitempty"`
	Bio           *string        `json:"bio,omitempty"`
	Notifications map[string]any `json:"notifications,omitempty"`
}

func (u ProfileUpdate) Validate() error {
	err := validation.ValidateStruct(&u,
		validation.Field(&u.FullName, validation.NilOrNotEmpty, validation.Length(1, 120)),
		validation.Field(&u.AvatarURL, validation.NilOrNotEmpty, is.URL),
		validation.Field(&u.Phone, validation.By(validPhone)),
		validation.Field(&u.Bio, validation.Length(0, 2000)),
	)
	return wrapValidation(err)
}

// Apply copies the set fields onto the profile, returning the modified copy.
func (u ProfileUpdate) Apply(p *Profile) *Profile {
	next := *p
	if u.FullName != nil {
		next.FullName = *u.FullName
	}
	if u.AvatarURL != nil {
		next.AvatarURL = *u.AvatarURL
	}
	if u.Phone != nil {
		next.Phone = normalizePhone(*u.Phone)
	}
	if u.Company != nil {
		next.Company = *u.Company
	}
	if u.Address != nil {
		next.Address = *u.Address
	}
	if u.Bio != nil {
		next.Bio = *u.Bio
	}
	if u.Notifications != nil {
		next.Notifications = u.Notifications
	}
	return &next
}

// validPhone accepts an empty value or a parseable E.164-ish number. Region
// defaults to US when the number carries no country code.
func validPhone(value any) error {
	var raw string
	switch v := value.(type) {
	case *string:
		if v == nil {
			return nil
		}
		raw = *v
	case string:
		raw = v
	default:
		return nil
	}
	if raw == "" {
		return nil
	}

	num, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return err
	}
	if !phonenumbers.IsValidNumber(num) {
		return fmt.Errorf("must be a valid phone number")
	}
	return nil
}

func normalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.CategoryValidation, "payload validation failed").
		WithTextCode("validation_failed").
		WithCode(errors.CodeBadRequest)
}
