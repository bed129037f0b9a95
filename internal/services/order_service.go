package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/deckforge/api/internal/domain"
	"github.com/deckforge/api/internal/payments"
	"github.com/deckforge/api/internal/platform/observability"
	"github.com/deckforge/api/internal/platform/pagination"
	"github.com/deckforge/api/internal/platform/storage"
	"github.com/deckforge/api/internal/repositories"
	"github.com/deckforge/api/internal/shipping"
)

const (
	orderIDPrefix          = "#ORD-"
	defaultShipmentTimeout = 30 * time.Second
	defaultLabelURLTTL     = 15 * time.Minute
	// A shipment claim outlives the carrier call so label upload and persistence fit inside it.
	shipmentClaimGrace      = 5 * time.Minute
	shipmentPersistAttempts = 3
)

var defaultFlatShipping = decimal.RequireFromString("35.00")

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or belongs to another user.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the lifecycle does not allow the requested status change.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order changed between read and write.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderDuplicateTransaction indicates the payment transaction is attached to another order.
	ErrOrderDuplicateTransaction = errors.New("order: transaction already used")
	// ErrOrderUnsupportedPayment indicates the payment method has no verifier.
	ErrOrderUnsupportedPayment = errors.New("order: unsupported payment method")
	// ErrOrderPaymentFailed indicates the gateway did not confirm the payment for the expected amount.
	ErrOrderPaymentFailed = errors.New("order: payment verification failed")
	// ErrOrderUpstream wraps carrier and payment gateway failures.
	ErrOrderUpstream = errors.New("order: upstream gateway error")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
	// ErrOrderLabelNotFound indicates no shipping label is stored for the order.
	ErrOrderLabelNotFound = errors.New("order: shipping label not found")
	// ErrOrderStorageNotConfigured indicates label or printable storage is not configured.
	ErrOrderStorageNotConfigured = errors.New("order: storage not configured")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingApproval: {domain.OrderStatusProcessing, domain.OrderStatusRejected},
	domain.OrderStatusProcessing:      {domain.OrderStatusPrinting},
	domain.OrderStatusPrinting:        {domain.OrderStatusShipped},
	domain.OrderStatusShipped:         {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:       {domain.OrderStatusCompleted},
}

// ParseOrderStatus matches raw case-insensitively against the known statuses.
func ParseOrderStatus(raw string) (domain.OrderStatus, bool) {
	raw = strings.TrimSpace(raw)
	for _, status := range domain.OrderStatuses {
		if strings.EqualFold(string(status), raw) {
			return status, true
		}
	}
	return "", false
}

// ValidateTransition reports whether an order may move from one status to another. Re-entering the
// current status is allowed for non-terminal statuses so operators can retry a shipment that left
// no tracking number.
func ValidateTransition(from, to domain.OrderStatus) error {
	if !slices.Contains(domain.OrderStatuses, to) {
		return fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, to)
	}
	next, ok := orderStateTransitions[from]
	if !ok {
		return fmt.Errorf("%w: %s is terminal", ErrOrderInvalidTransition, from)
	}
	if from == to || slices.Contains(next, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, from, to)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Counters CounterService
	Pricing  PricingEngine
	Payments PaymentVerifier
	Carrier  CarrierClient
	Storage  LabelStorage
	Events   OrderEventPublisher
	Metrics  OrderMetrics

	Package         PackageEstimator
	TaxRate         decimal.Decimal
	FlatShipping    decimal.Decimal
	ShipmentTimeout time.Duration
	LabelsBucket    string
	PrintableBucket string
	LabelURLTTL     time.Duration

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	counters CounterService
	pricing  PricingEngine
	payments PaymentVerifier
	carrier  CarrierClient
	storage  LabelStorage
	events   OrderEventPublisher
	metrics  OrderMetrics

	pkg             PackageEstimator
	taxRate         decimal.Decimal
	flatShipping    decimal.Decimal
	shipmentTimeout time.Duration
	labelsBucket    string
	printableBucket string
	labelURLTTL     time.Duration

	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment verifier is required")
	}
	if deps.Carrier == nil {
		return nil, errors.New("order service: carrier client is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	taxRate := deps.TaxRate
	if taxRate.IsZero() {
		taxRate = defaultTaxRate
	}
	flat := deps.FlatShipping
	if flat.IsZero() {
		flat = defaultFlatShipping
	}
	timeout := deps.ShipmentTimeout
	if timeout <= 0 {
		timeout = defaultShipmentTimeout
	}
	ttl := deps.LabelURLTTL
	if ttl <= 0 {
		ttl = defaultLabelURLTTL
	}

	return &orderService{
		orders:          deps.Orders,
		counters:        deps.Counters,
		pricing:         deps.Pricing,
		payments:        deps.Payments,
		carrier:         deps.Carrier,
		storage:         deps.Storage,
		events:          deps.Events,
		metrics:         deps.Metrics,
		pkg:             deps.Package,
		taxRate:         taxRate,
		flatShipping:    flat,
		shipmentTimeout: timeout,
		labelsBucket:    strings.TrimSpace(deps.LabelsBucket),
		printableBucket: strings.TrimSpace(deps.PrintableBucket),
		labelURLTTL:     ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder prices the first line item server-side, verifies the payment for the derived total
// and persists the order. Nothing is written unless verification succeeds.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	items, err := normaliseItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	details, err := normaliseShippingDetails(cmd.ShippingDetails)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if method == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}
	txID := strings.TrimSpace(cmd.TransactionID)
	if txID == "" {
		return Order{}, fmt.Errorf("%w: transaction id is required", ErrOrderInvalidInput)
	}
	if !s.payments.Supports(method) {
		return Order{}, fmt.Errorf("%w: %q", ErrOrderUnsupportedPayment, cmd.PaymentMethod)
	}

	// Only the first line item is priced; multi-line orders are not supported yet.
	first := items[0]
	unit, err := s.pricing.CalculatePrice(ctx, first.CardStock, first.DeckQuantity, first.CardsPerDeck)
	if err != nil {
		return Order{}, err
	}
	costs := computeCosts(unit, first.DeckQuantity, s.flatShipping, s.taxRate)

	if err := s.verifyPayment(ctx, method, txID, costs.Total); err != nil {
		return Order{}, err
	}

	orderID, err := s.counters.NextOrderID(ctx)
	if err != nil {
		s.logger(ctx, "order.allocate.failed", map[string]any{
			"transactionId": observability.MaskSensitive(txID),
			"error":         err.Error(),
		})
		return Order{}, fmt.Errorf("order: allocate id: %w", err)
	}

	now := s.clock()
	order := Order{
		ID:              orderID,
		UserID:          userID,
		Items:           items,
		ShippingDetails: details,
		Costs:           costs,
		PaymentMethod:   method,
		TransactionID:   txID,
		Status:          domain.OrderStatusPendingApproval,
		StatusHistory:   []domain.OrderStatusEvent{{Status: domain.OrderStatusPendingApproval, Date: now}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderDuplicateTransaction, err)
		}
		// The payment is already verified at this point, so the failure needs operator follow-up.
		s.logger(ctx, "order.persist.failed", map[string]any{
			"orderId":       orderID,
			"transactionId": observability.MaskSensitive(txID),
			"method":        method,
			"total":         costs.Total.StringFixed(2),
			"error":         err.Error(),
		})
		return Order{}, s.mapRepositoryError(err)
	}

	if s.metrics != nil {
		s.metrics.OrderCreated()
	}
	s.logger(ctx, "order.created", map[string]any{
		"orderId": orderID,
		"userId":  userID,
		"method":  method,
		"total":   costs.Total.StringFixed(2),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:       OrderEventCreated,
		OrderID:    orderID,
		UserID:     userID,
		Status:     order.Status,
		OccurredAt: now,
	})
	return order, nil
}

func (s *orderService) verifyPayment(ctx context.Context, method, txID string, total decimal.Decimal) error {
	verified, err := s.payments.Verify(ctx, method, txID, total)
	switch {
	case err != nil:
		s.recordVerification(method, "error")
		s.logger(ctx, "order.payment.verify.failed", map[string]any{
			"method":        method,
			"transactionId": observability.MaskSensitive(txID),
			"error":         err.Error(),
		})
		switch {
		case errors.Is(err, payments.ErrUnsupportedPaymentMethod):
			return fmt.Errorf("%w: %q", ErrOrderUnsupportedPayment, method)
		case errors.Is(err, payments.ErrGatewayNotConfigured):
			return fmt.Errorf("order: verify payment: %w", err)
		default:
			return fmt.Errorf("%w: %w", ErrOrderUpstream, err)
		}
	case !verified:
		s.recordVerification(method, "rejected")
		s.logger(ctx, "order.payment.rejected", map[string]any{
			"method":        method,
			"transactionId": observability.MaskSensitive(txID),
			"expected":      total.StringFixed(2),
		})
		return fmt.Errorf("%w: %s transaction was not confirmed for %s", ErrOrderPaymentFailed, method, total.StringFixed(2))
	default:
		s.recordVerification(method, "verified")
		return nil
	}
}

func (s *orderService) recordVerification(method, result string) {
	if s.metrics != nil {
		s.metrics.PaymentVerified(method, result)
	}
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = NormaliseOrderID(orderID)
	if userID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: user id and order id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// UpdateStatus applies an administrative transition. Entering Shipped without a tracking number
// claims the order, then books the carrier shipment; only the claim holder reaches the carrier.
// A carrier failure releases the claim and leaves the order untouched.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Order, error) {
	orderID := NormaliseOrderID(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := ParseOrderStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if err := ValidateTransition(order.Status, target); err != nil {
		return Order{}, err
	}

	now := s.clock()
	change := repositories.OrderStatusChange{
		OrderID:                order.ID,
		ExpectedStatus:         order.Status,
		ExpectedTrackingNumber: order.DHLTrackingNumber,
		Status:                 target,
		Event:                  domain.OrderStatusEvent{Status: target, Date: now},
		UpdatedAt:              now,
	}

	var shipped bool
	if target == domain.OrderStatusShipped && order.DHLTrackingNumber == "" {
		token := s.newID()
		if _, err := s.orders.ClaimShipment(ctx, repositories.ShipmentClaimRequest{
			OrderID:        order.ID,
			ExpectedStatus: order.Status,
			Token:          token,
			Now:            now,
			ExpiresAt:      now.Add(s.shipmentTimeout + shipmentClaimGrace),
		}); err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		shipment, err := s.createShipment(ctx, order)
		if err != nil {
			s.releaseShipment(ctx, order.ID, token)
			return Order{}, err
		}
		change.ClaimToken = token
		change.TrackingNumber = shipment.TrackingNumber
		change.ShippingLabelPath = s.storeLabel(ctx, order, shipment)
		shipped = true
	}

	updated, err := s.applyStatusChange(ctx, change, shipped)
	if err != nil {
		if shipped {
			// The claim stays held; retries conflict until it expires.
			s.logger(ctx, "order.shipment.orphaned.error", map[string]any{
				"orderId":        order.ID,
				"trackingNumber": change.TrackingNumber,
				"error":          err.Error(),
			})
		}
		return Order{}, s.mapRepositoryError(err)
	}

	if s.metrics != nil {
		s.metrics.StatusChanged(string(target))
	}
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": updated.ID,
		"from":    string(order.Status),
		"to":      string(target),
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        updated.ID,
		UserID:         updated.UserID,
		Status:         target,
		PreviousStatus: order.Status,
		TrackingNumber: updated.DHLTrackingNumber,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
	})
	if shipped {
		s.publishEvent(ctx, OrderEvent{
			Type:           OrderEventShipped,
			OrderID:        updated.ID,
			UserID:         updated.UserID,
			Status:         target,
			PreviousStatus: order.Status,
			TrackingNumber: updated.DHLTrackingNumber,
			ActorID:        strings.TrimSpace(cmd.ActorID),
			OccurredAt:     now,
		})
	}
	return updated, nil
}

// applyStatusChange persists the change. Once a shipment is booked, unavailable-store failures are
// retried on a context detached from the caller so the tracking number is not lost.
func (s *orderService) applyStatusChange(ctx context.Context, change repositories.OrderStatusChange, shipped bool) (Order, error) {
	if !shipped {
		return s.orders.ApplyStatusChange(ctx, change)
	}
	ctx = context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= shipmentPersistAttempts; attempt++ {
		updated, err := s.orders.ApplyStatusChange(ctx, change)
		if err == nil {
			return updated, nil
		}
		lastErr = err
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsUnavailable() {
			break
		}
		s.logger(ctx, "order.shipment.persist.retry", map[string]any{
			"orderId": change.OrderID,
			"attempt": attempt,
			"error":   err.Error(),
		})
	}
	return Order{}, lastErr
}

func (s *orderService) releaseShipment(ctx context.Context, orderID, token string) {
	if err := s.orders.ReleaseShipment(context.WithoutCancel(ctx), orderID, token); err != nil {
		s.logger(ctx, "order.shipment.release.failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) createShipment(ctx context.Context, order Order) (domain.Shipment, error) {
	shipCtx, cancel := context.WithTimeout(ctx, s.shipmentTimeout)
	defer cancel()

	var decks, cards int
	if len(order.Items) > 0 {
		decks, cards = order.Items[0].DeckQuantity, order.Items[0].CardsPerDeck
	}
	shipment, err := s.carrier.CreateShipment(shipCtx, shipping.ShipmentRequest{
		OrderID:         order.ID,
		ShippingDetails: order.ShippingDetails,
		Items:           order.Items,
		Package:         s.pkg.Estimate(decks, cards),
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.ShipmentCreated("failed")
		}
		s.logger(ctx, "order.shipment.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		if errors.Is(err, shipping.ErrCarrierNotConfigured) {
			return domain.Shipment{}, fmt.Errorf("order: create shipment: %w", err)
		}
		return domain.Shipment{}, fmt.Errorf("%w: %w", ErrOrderUpstream, err)
	}
	if s.metrics != nil {
		s.metrics.ShipmentCreated("created")
	}
	return shipment, nil
}

// storeLabel uploads the carrier label and returns its object path. Upload failures are logged
// and do not block the transition; the tracking number is the authoritative result.
func (s *orderService) storeLabel(ctx context.Context, order Order, shipment domain.Shipment) string {
	if s.storage == nil || s.labelsBucket == "" || len(shipment.LabelDocument) == 0 {
		return ""
	}
	object, err := storage.BuildObjectPath(storage.PurposeShippingLabel, storage.PathParams{
		OrderID:        order.ID,
		TrackingNumber: shipment.TrackingNumber,
	})
	if err != nil {
		s.logger(ctx, "order.label.upload.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return ""
	}
	if err := s.storage.Upload(ctx, s.labelsBucket, object, labelContentType(shipment.LabelFormat), shipment.LabelDocument); err != nil {
		s.logger(ctx, "order.label.upload.failed", map[string]any{
			"orderId": order.ID,
			"object":  object,
			"error":   err.Error(),
		})
		return ""
	}
	return object
}

func labelContentType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "png":
		return "image/png"
	case "zpl", "epl", "lp2":
		return "text/plain"
	default:
		return "application/pdf"
	}
}

// AttachPrintable records the print-ready PDF for an order. The object must live under the
// order's printable prefix; a gs:// URL is accepted when it names the printable bucket.
func (s *orderService) AttachPrintable(ctx context.Context, cmd AttachPrintableCommand) (Order, error) {
	orderID := NormaliseOrderID(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if s.printableBucket == "" {
		return Order{}, fmt.Errorf("%w: printable bucket", ErrOrderStorageNotConfigured)
	}
	object, err := s.printableObject(orderID, cmd.ObjectPath)
	if err != nil {
		return Order{}, err
	}

	updated, err := s.orders.SetPrintable(ctx, orderID, "gs://"+s.printableBucket+"/"+object, s.clock())
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.printable.attached", map[string]any{
		"orderId": orderID,
		"object":  object,
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	return updated, nil
}

func (s *orderService) printableObject(orderID, raw string) (string, error) {
	object := strings.TrimSpace(raw)
	if strings.HasPrefix(object, "gs://") {
		u, err := url.Parse(object)
		if err != nil || u.Host != s.printableBucket {
			return "", fmt.Errorf("%w: printable must be stored in bucket %q", ErrOrderInvalidInput, s.printableBucket)
		}
		object = u.Path
	}
	object = strings.TrimPrefix(object, "/")
	if object == "" {
		return "", fmt.Errorf("%w: object path is required", ErrOrderInvalidInput)
	}
	if strings.Contains(object, "..") || path.Clean(object) != object {
		return "", fmt.Errorf("%w: object path %q is not canonical", ErrOrderInvalidInput, raw)
	}
	prefix, err := storage.BuildObjectPath(storage.PurposePrintable, storage.PathParams{OrderID: orderID})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	prefix = path.Dir(prefix) + "/"
	if !strings.HasPrefix(object, prefix) || len(object) == len(prefix) {
		return "", fmt.Errorf("%w: object path must be under %s", ErrOrderInvalidInput, prefix)
	}
	if !strings.EqualFold(path.Ext(object), ".pdf") {
		return "", fmt.Errorf("%w: printable must be a PDF", ErrOrderInvalidInput)
	}
	return object, nil
}

func (s *orderService) ShippingLabelURL(ctx context.Context, orderID string) (SignedURL, error) {
	orderID = NormaliseOrderID(orderID)
	if orderID == "" {
		return SignedURL{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if s.storage == nil || s.labelsBucket == "" {
		return SignedURL{}, fmt.Errorf("%w: labels bucket", ErrOrderStorageNotConfigured)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return SignedURL{}, s.mapRepositoryError(err)
	}
	if order.ShippingLabelPath == "" {
		return SignedURL{}, fmt.Errorf("%w: %s", ErrOrderLabelNotFound, orderID)
	}
	signed, err := s.storage.SignedDownloadURL(ctx, s.labelsBucket, order.ShippingLabelPath, s.labelURLTTL, path.Base(order.ShippingLabelPath))
	if err != nil {
		return SignedURL{}, fmt.Errorf("order: sign label url: %w", err)
	}
	return SignedURL{URL: signed.URL, ExpiresAt: signed.ExpiresAt}, nil
}

// NormaliseOrderID trims the identifier and restores the leading '#' that URL paths often drop.
func NormaliseOrderID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}
	if strings.HasPrefix(strings.ToUpper(id), "ORD-") {
		id = "#" + id
	}
	if strings.HasPrefix(strings.ToUpper(id), orderIDPrefix) {
		id = orderIDPrefix + id[len(orderIDPrefix):]
	}
	return id
}

func normaliseItems(items []OrderItem) ([]OrderItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	out := make([]OrderItem, 0, len(items))
	for i, item := range items {
		item.BoxID = strings.TrimSpace(item.BoxID)
		item.MaterialFinish = strings.TrimSpace(item.MaterialFinish)
		item.CardStock = strings.TrimSpace(item.CardStock)
		item.BoxType = strings.TrimSpace(item.BoxType)

		var missing []string
		if item.BoxID == "" {
			missing = append(missing, "box_id")
		}
		if item.DeckQuantity <= 0 {
			missing = append(missing, "deck_quantity")
		}
		if item.CardsPerDeck <= 0 {
			missing = append(missing, "cards_per_deck")
		}
		if item.MaterialFinish == "" {
			missing = append(missing, "material_finish")
		}
		if item.CardStock == "" {
			missing = append(missing, "card_stock")
		}
		if item.BoxType == "" {
			missing = append(missing, "box_type")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: items[%d] missing %s", ErrOrderInvalidInput, i, strings.Join(missing, ", "))
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = s.newID()
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.Status),
		})
	}
}
