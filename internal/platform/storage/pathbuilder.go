package storage

import (
	"fmt"
	"regexp"
	"strings"
)

// AssetPurpose captures high-level intent for storage layout decisions.
type AssetPurpose string

const (
	PurposeShippingLabel AssetPurpose = "shipping-label"
	PurposePrintable     AssetPurpose = "printable"
)

// PathParams provide identifiers used to compose object keys.
type PathParams struct {
	OrderID        string
	TrackingNumber string
	FileName       string
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// BuildObjectPath resolves the storage object path for the given purpose.
//
//	shipping-label: orders/{orderId}/labels/{tracking}.pdf
//	printable:      orders/{orderId}/printable/{fileName}
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	order := sanitizeSegment(params.OrderID)
	if order == "" {
		return "", fmt.Errorf("storage: order id is required for %s", purpose)
	}
	switch purpose {
	case PurposeShippingLabel:
		tracking := sanitizeSegment(params.TrackingNumber)
		if tracking == "" {
			return "", fmt.Errorf("storage: tracking number is required for %s", purpose)
		}
		return fmt.Sprintf("orders/%s/labels/%s.pdf", order, tracking), nil
	case PurposePrintable:
		name := sanitizeSegment(params.FileName)
		if name == "" {
			name = "printable.pdf"
		}
		return fmt.Sprintf("orders/%s/printable/%s", order, name), nil
	default:
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
}

// sanitizeSegment drops characters that are awkward in object names, including the leading '#'
// of order identifiers.
func sanitizeSegment(value string) string {
	value = unsafeSegment.ReplaceAllString(strings.TrimSpace(value), "")
	return strings.Trim(value, ".")
}
