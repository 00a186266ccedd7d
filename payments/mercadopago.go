package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrProviderUnavailable wraps transport failures talking to the QR provider.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// providerTimeout bounds every outbound provider call.
const providerTimeout = 10 * time.Second

// QRProvider is the contract the engine needs from the external QR payment
// provider.
type QRProvider interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	OrderStatus(ctx context.Context, externalReference string) (string, error)
}

// OrderItem is one line of the outbound QR order.
type OrderItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// CreateOrderRequest is the outbound create-QR-order payload.
type CreateOrderRequest struct {
	TableID           uuid.UUID        `json:"table_id"`
	OrderID           uuid.UUID        `json:"order_id"`
	TotalAmount       decimal.Decimal  `json:"total_amount"`
	Items             []OrderItem      `json:"items"`
	ExternalReference string           `json:"external_reference"`
	ExpirationMinutes int              `json:"expiration_minutes"`
	TipAmount         *decimal.Decimal `json:"tip_amount,omitempty"`
}

// CreateOrderResponse is the provider's answer to a QR order.
type CreateOrderResponse struct {
	OrderID     string    `json:"order_id"`
	QRData      string    `json:"qr_data"`
	QRImagePath string    `json:"qr_image_path"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      string    `json:"status"`
}

// MercadoPagoClient talks to a Mercado Pago style in-store order API. With
// no access token configured the client runs in mock mode and fabricates
// QR payloads locally, which is how development environments operate.
type MercadoPagoClient struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Now         func() time.Time
}

// NewMercadoPagoClient constructs a client with the provider call timeout.
func NewMercadoPagoClient(baseURL, accessToken string) *MercadoPagoClient {
	return &MercadoPagoClient{
		BaseURL:     baseURL,
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: providerTimeout},
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func (c *MercadoPagoClient) mock() bool {
	return c.AccessToken == ""
}

// CreateOrder mints a QR order with the provider.
func (c *MercadoPagoClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	if c.mock() {
		expires := c.Now().Add(time.Duration(req.ExpirationMinutes) * time.Minute)
		return &CreateOrderResponse{
			OrderID:     "mock-" + req.ExternalReference,
			QRData:      fmt.Sprintf("00020101mock%s5204%s", req.ExternalReference, req.TotalAmount.StringFixed(2)),
			QRImagePath: "/qr/mock/" + req.ExternalReference + ".png",
			ExpiresAt:   expires,
			Status:      "created",
		}, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/instore/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: create order returned %d", ErrProviderUnavailable, resp.StatusCode)
	}
	var out CreateOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	return &out, nil
}

// OrderStatus queries the authoritative status for an external reference.
// Used to resolve webhook notifications whose status is not final.
func (c *MercadoPagoClient) OrderStatus(ctx context.Context, externalReference string) (string, error) {
	if c.mock() {
		return "paid", nil
	}

	u := fmt.Sprintf("%s/merchant_orders/search?external_reference=%s", c.BaseURL, url.QueryEscape(externalReference))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status query returned %d", ErrProviderUnavailable, resp.StatusCode)
	}
	var out struct {
		Elements []struct {
			Status string `json:"status"`
		} `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	if len(out.Elements) == 0 {
		return "", fmt.Errorf("%w: no order for reference %s", ErrProviderUnavailable, externalReference)
	}
	return out.Elements[0].Status, nil
}
