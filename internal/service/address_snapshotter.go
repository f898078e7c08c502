package service

import (
	"context"
	"strings"

	"quickkart-service/internal/models"
)

// AddressInput is a shipping address supplied with a place-order request.
// Nil or blank fields fall back to the saved address book and profile.
type AddressInput struct {
	FullAddress *string `json:"full_address"`
	Pincode     *string `json:"pincode"`
	Phone       *string `json:"phone"`
}

// AddressReader is the read-only view of addresses and profiles.
type AddressReader interface {
	AddressBook
	ProfileReader
}

// AddressSnapshotter freezes a shipping address for an order.
type AddressSnapshotter struct {
	reader AddressReader
}

func NewAddressSnapshotter(reader AddressReader) *AddressSnapshotter {
	return &AddressSnapshotter{reader: reader}
}

// Capture resolves each field from explicit, then the default saved address,
// then the profile. The full address has no profile fallback and ends up "".
func (a *AddressSnapshotter) Capture(ctx context.Context, customerID int64, explicit *AddressInput) (models.AddressSnapshot, error) {
	if explicit == nil {
		explicit = &AddressInput{}
	}

	saved, err := a.reader.GetDefaultAddress(ctx, customerID)
	if err != nil {
		return models.AddressSnapshot{}, err
	}
	profile, err := a.reader.GetUserProfile(ctx, customerID)
	if err != nil {
		return models.AddressSnapshot{}, err
	}

	var savedFull, savedPin, savedPhone *string
	if saved != nil {
		savedFull, savedPin, savedPhone = &saved.FullAddress, &saved.Pincode, saved.Phone
	}

	return models.AddressSnapshot{
		FullAddress: firstPresent(explicit.FullAddress, savedFull),
		Pincode:     firstPresent(explicit.Pincode, savedPin, &profile.Pincode),
		Phone:       firstPresent(explicit.Phone, savedPhone, profile.Phone),
	}, nil
}

func firstPresent(candidates ...*string) string {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if v := strings.TrimSpace(*c); v != "" {
			return v
		}
	}
	return ""
}
