package shipping

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	domain "github.com/deckforge/api/internal/domain"
)

const (
	defaultTimeout       = 20 * time.Second
	billingCurrencyType  = "BILLC"
	plannedDateLayout    = "2006-01-02T15:04:05 GMT+00:00"
	messageRefHeader     = "Message-Reference"
	defaultProductCode   = "P"
	labelTypeCode        = "label"
	maxErrorDetailLength = 512
)

// Shipper is the fixed origin of every shipment.
type Shipper struct {
	CompanyName  string
	ContactName  string
	Phone        string
	Email        string
	AddressLine1 string
	City         string
	PostalCode   string
	CountryCode  string
}

// Config configures the carrier client.
type Config struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	AccountNumber string
	Timeout       time.Duration
	Shipper       Shipper
}

// Observer receives one call per carrier request with the operation and its outcome.
type Observer func(operation, outcome string)

// Option customises the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithClock injects a custom clock used for planned shipping dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver registers a metrics hook.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		if observer != nil {
			c.observe = observer
		}
	}
}

// Client talks to a DHL Express style rating and shipment API.
type Client struct {
	cfg     Config
	http    *http.Client
	now     func() time.Time
	observe Observer

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewClient constructs a carrier client. Missing credentials are reported per call with
// ErrCarrierNotConfigured so the service can start without a carrier account.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		now:     time.Now,
		observe: func(string, string) {},
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Configured reports whether every credential required for a call is present.
func (c *Client) Configured() bool {
	return c.configError() == nil
}

func (c *Client) configError() error {
	var missing []string
	if c.cfg.BaseURL == "" {
		missing = append(missing, "base url")
	}
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		missing = append(missing, "api credentials")
	}
	if c.cfg.AccountNumber == "" {
		missing = append(missing, "account number")
	}
	if c.cfg.Shipper.CountryCode == "" || c.cfg.Shipper.PostalCode == "" {
		missing = append(missing, "shipper origin")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrCarrierNotConfigured, strings.Join(missing, ", "))
}

// IsCustomsDeclarable reports whether a shipment from origin to destination crosses a border.
func IsCustomsDeclarable(origin, destination string) bool {
	return !strings.EqualFold(strings.TrimSpace(origin), strings.TrimSpace(destination))
}

type address struct {
	PostalCode   string `json:"postalCode"`
	CityName     string `json:"cityName"`
	CountryCode  string `json:"countryCode"`
	AddressLine1 string `json:"addressLine1,omitempty"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	ProvinceCode string `json:"provinceCode,omitempty"`
}

type dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type packageSpec struct {
	Weight     float64    `json:"weight"`
	Dimensions dimensions `json:"dimensions"`
}

type account struct {
	TypeCode string `json:"typeCode"`
	Number   string `json:"number"`
}

type ratesRequest struct {
	CustomerDetails struct {
		ShipperDetails  address `json:"shipperDetails"`
		ReceiverDetails address `json:"receiverDetails"`
	} `json:"customerDetails"`
	Accounts                   []account     `json:"accounts"`
	PlannedShippingDateAndTime string        `json:"plannedShippingDateAndTime"`
	UnitOfMeasurement          string        `json:"unitOfMeasurement"`
	IsCustomsDeclarable        bool          `json:"isCustomsDeclarable"`
	Packages                   []packageSpec `json:"packages"`
}

type ratesResponse struct {
	Products []struct {
		ProductName string `json:"productName"`
		ProductCode string `json:"productCode"`
		TotalPrice  []struct {
			CurrencyType  string          `json:"currencyType"`
			PriceCurrency string          `json:"priceCurrency"`
			Price         decimal.Decimal `json:"price"`
		} `json:"totalPrice"`
		DeliveryCapabilities struct {
			EstimatedDeliveryDateAndTime string `json:"estimatedDeliveryDateAndTime"`
		} `json:"deliveryCapabilities"`
	} `json:"products"`
}

// GetRates returns the carrier's offers for the destination in the carrier's order.
func (c *Client) GetRates(ctx context.Context, destination domain.ShippingDetails, pkg domain.PackageDetails) ([]domain.ShippingOption, error) {
	if err := c.configError(); err != nil {
		return nil, err
	}

	var req ratesRequest
	req.CustomerDetails.ShipperDetails = address{
		PostalCode:   c.cfg.Shipper.PostalCode,
		CityName:     c.cfg.Shipper.City,
		CountryCode:  strings.ToUpper(c.cfg.Shipper.CountryCode),
		AddressLine1: c.cfg.Shipper.AddressLine1,
	}
	req.CustomerDetails.ReceiverDetails = destinationAddress(destination)
	req.Accounts = []account{{TypeCode: "shipper", Number: c.cfg.AccountNumber}}
	req.PlannedShippingDateAndTime = c.now().UTC().Format(plannedDateLayout)
	req.UnitOfMeasurement = "metric"
	req.IsCustomsDeclarable = IsCustomsDeclarable(c.cfg.Shipper.CountryCode, destination.CountryCode)
	req.Packages = []packageSpec{toPackage(pkg)}

	var resp ratesResponse
	if err := c.do(ctx, "rates", http.MethodPost, "/rates", req, &resp); err != nil {
		return nil, err
	}

	options := make([]domain.ShippingOption, 0, len(resp.Products))
	for _, product := range resp.Products {
		option := domain.ShippingOption{ServiceName: strings.TrimSpace(product.ProductName)}
		if option.ServiceName == "" {
			option.ServiceName = product.ProductCode
		}
		priced := false
		for _, price := range product.TotalPrice {
			if !strings.EqualFold(price.CurrencyType, billingCurrencyType) {
				continue
			}
			unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(price.PriceCurrency)))
			if err != nil {
				return nil, &CarrierError{Operation: "rates", Detail: fmt.Sprintf("invalid currency %q for %s", price.PriceCurrency, option.ServiceName)}
			}
			option.Price = price.Price
			option.Currency = unit.String()
			priced = true
			break
		}
		if !priced {
			continue
		}
		if raw := strings.TrimSpace(product.DeliveryCapabilities.EstimatedDeliveryDateAndTime); raw != "" {
			if eta, ok := parseCarrierTime(raw); ok {
				option.EstimatedDelivery = &eta
			}
		}
		options = append(options, option)
	}
	if len(options) == 0 {
		return nil, ErrNoRatesAvailable
	}
	return options, nil
}

// ShipmentRequest describes the parcel to create for an order.
type ShipmentRequest struct {
	OrderID         string
	ShippingDetails domain.ShippingDetails
	Items           []domain.OrderItem
	Package         domain.PackageDetails
}

type contactInformation struct {
	FullName    string `json:"fullName"`
	CompanyName string `json:"companyName"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
}

type party struct {
	PostalAddress      address            `json:"postalAddress"`
	ContactInformation contactInformation `json:"contactInformation"`
}

type pickup struct {
	IsRequested bool `json:"isRequested"`
}

type customerReference struct {
	Value string `json:"value"`
}

type shipmentRequest struct {
	PlannedShippingDateAndTime string    `json:"plannedShippingDateAndTime"`
	Pickup                     pickup    `json:"pickup"`
	ProductCode                string    `json:"productCode"`
	Accounts                   []account `json:"accounts"`
	CustomerDetails            struct {
		ShipperDetails  party `json:"shipperDetails"`
		ReceiverDetails party `json:"receiverDetails"`
	} `json:"customerDetails"`
	Content struct {
		Packages            []packageSpec `json:"packages"`
		IsCustomsDeclarable bool          `json:"isCustomsDeclarable"`
		Description         string        `json:"description"`
		UnitOfMeasurement   string        `json:"unitOfMeasurement"`
	} `json:"content"`
	References            []customerReference `json:"customerReferences"`
	OutputImageProperties struct {
		EncodingFormat string `json:"encodingFormat"`
	} `json:"outputImageProperties"`
}

type shipmentResponse struct {
	ShipmentTrackingNumber string `json:"shipmentTrackingNumber"`
	Documents              []struct {
		ImageFormat string `json:"imageFormat"`
		Content     string `json:"content"`
		TypeCode    string `json:"typeCode"`
	} `json:"documents"`
}

// CreateShipment books the shipment and returns the tracking number and label.
func (c *Client) CreateShipment(ctx context.Context, in ShipmentRequest) (domain.Shipment, error) {
	if err := c.configError(); err != nil {
		return domain.Shipment{}, err
	}

	var req shipmentRequest
	req.PlannedShippingDateAndTime = c.now().UTC().Format(plannedDateLayout)
	req.ProductCode = defaultProductCode
	req.Accounts = []account{{TypeCode: "shipper", Number: c.cfg.AccountNumber}}
	req.CustomerDetails.ShipperDetails = party{
		PostalAddress: address{
			PostalCode:   c.cfg.Shipper.PostalCode,
			CityName:     c.cfg.Shipper.City,
			CountryCode:  strings.ToUpper(c.cfg.Shipper.CountryCode),
			AddressLine1: c.cfg.Shipper.AddressLine1,
		},
		ContactInformation: contactInformation{
			FullName:    c.cfg.Shipper.ContactName,
			CompanyName: c.cfg.Shipper.CompanyName,
			Phone:       c.cfg.Shipper.Phone,
			Email:       c.cfg.Shipper.Email,
		},
	}
	req.CustomerDetails.ReceiverDetails = party{
		PostalAddress: destinationAddress(in.ShippingDetails),
		ContactInformation: contactInformation{
			FullName:    in.ShippingDetails.FullName,
			CompanyName: in.ShippingDetails.FullName,
			Phone:       in.ShippingDetails.Phone,
			Email:       in.ShippingDetails.Email,
		},
	}
	req.Content.Packages = []packageSpec{toPackage(in.Package)}
	req.Content.IsCustomsDeclarable = IsCustomsDeclarable(c.cfg.Shipper.CountryCode, in.ShippingDetails.CountryCode)
	req.Content.Description = describeItems(in.Items)
	req.Content.UnitOfMeasurement = "metric"
	req.References = []customerReference{{Value: in.OrderID}}
	req.OutputImageProperties.EncodingFormat = "pdf"

	var resp shipmentResponse
	if err := c.do(ctx, "shipments", http.MethodPost, "/shipments", req, &resp); err != nil {
		return domain.Shipment{}, err
	}
	tracking := strings.TrimSpace(resp.ShipmentTrackingNumber)
	if tracking == "" {
		return domain.Shipment{}, &CarrierError{Operation: "shipments", Detail: "response missing tracking number"}
	}

	shipment := domain.Shipment{TrackingNumber: tracking}
	for _, doc := range resp.Documents {
		if !strings.EqualFold(doc.TypeCode, labelTypeCode) {
			continue
		}
		label, err := base64.StdEncoding.DecodeString(doc.Content)
		if err != nil {
			return domain.Shipment{}, &CarrierError{Operation: "shipments", Detail: "label is not valid base64", Err: err}
		}
		shipment.LabelDocument = label
		shipment.LabelFormat = strings.ToLower(doc.ImageFormat)
		break
	}
	return shipment, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, dst any) (err error) {
	defer func() {
		outcome := "success"
		switch {
		case errors.Is(err, ErrNoRatesAvailable):
			outcome = "no_rates"
		case err != nil:
			outcome = "error"
		}
		c.observe(operation, outcome)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shipping: encode %s request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &CarrierError{Operation: operation, Err: err}
	}
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(messageRefHeader, c.messageReference())

	resp, err := c.http.Do(req)
	if err != nil {
		return &CarrierError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetailLength))
		return &CarrierError{Operation: operation, Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &CarrierError{Operation: operation, Detail: "undecodable response", Err: err}
	}
	return nil
}

func (c *Client) messageReference() string {
	c.entropyMu.Lock()
	defer c.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(c.now()), c.entropy).String()
}

func destinationAddress(d domain.ShippingDetails) address {
	return address{
		PostalCode:   d.PostalCode,
		CityName:     d.City,
		CountryCode:  strings.ToUpper(d.CountryCode),
		AddressLine1: d.AddressLine1,
		AddressLine2: d.AddressLine2,
		ProvinceCode: d.State,
	}
}

func toPackage(pkg domain.PackageDetails) packageSpec {
	return packageSpec{
		Weight:     pkg.WeightKg,
		Dimensions: dimensions{Length: pkg.LengthCm, Width: pkg.WidthCm, Height: pkg.HeightCm},
	}
}

func describeItems(items []domain.OrderItem) string {
	decks := 0
	for _, item := range items {
		decks += item.DeckQuantity
	}
	return fmt.Sprintf("Printed card decks (%d)", decks)
}

func parseCarrierTime(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
