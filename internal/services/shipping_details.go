package services

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/text/language"

	"github.com/deckforge/api/internal/platform/textutil"
)

const (
	maxNameRunes    = 120
	maxAddressRunes = 200
	maxCityRunes    = 100
	maxPostalRunes  = 20
	maxPhoneRunes   = 32
)

var errInvalidShippingDetails = errors.New("invalid shipping details")

// normaliseShippingDetails sanitises free-text address fields and checks the fields the carrier
// needs. The country must be an ISO 3166-1 alpha-2 country code.
func normaliseShippingDetails(in ShippingDetails) (ShippingDetails, error) {
	out := ShippingDetails{
		FullName:     textutil.SanitizeText(in.FullName, maxNameRunes),
		Email:        strings.TrimSpace(in.Email),
		Phone:        textutil.SanitizeText(in.Phone, maxPhoneRunes),
		AddressLine1: textutil.SanitizeText(in.AddressLine1, maxAddressRunes),
		AddressLine2: textutil.SanitizeText(in.AddressLine2, maxAddressRunes),
		City:         textutil.SanitizeText(in.City, maxCityRunes),
		State:        textutil.UpperCode(textutil.SanitizeText(in.State, maxCityRunes)),
		PostalCode:   textutil.UpperCode(textutil.SanitizeText(in.PostalCode, maxPostalRunes)),
		CountryCode:  textutil.UpperCode(in.CountryCode),
	}

	var missing []string
	if out.FullName == "" {
		missing = append(missing, "full_name")
	}
	if out.AddressLine1 == "" {
		missing = append(missing, "address_line1")
	}
	if out.City == "" {
		missing = append(missing, "city")
	}
	if out.PostalCode == "" {
		missing = append(missing, "postal_code")
	}
	if out.CountryCode == "" {
		missing = append(missing, "country_code")
	}
	if len(missing) > 0 {
		return ShippingDetails{}, fmt.Errorf("%w: missing %s", errInvalidShippingDetails, strings.Join(missing, ", "))
	}
	if !isCountryCode(out.CountryCode) {
		return ShippingDetails{}, fmt.Errorf("%w: country_code %q is not an ISO 3166-1 alpha-2 code", errInvalidShippingDetails, in.CountryCode)
	}
	if out.Email != "" {
		if _, err := mail.ParseAddress(out.Email); err != nil {
			return ShippingDetails{}, fmt.Errorf("%w: email is invalid", errInvalidShippingDetails)
		}
	}
	return out, nil
}

func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	region, err := language.ParseRegion(code)
	return err == nil && region.IsCountry()
}
