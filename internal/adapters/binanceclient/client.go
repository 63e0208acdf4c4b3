package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fibgrid/internal/domain"
	"fibgrid/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements ports.MarketDataSource, ports.PositionSource and
// ports.OrderGateway against the Binance USD-M futures REST API.
// One-way position mode is assumed on the account.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	retryBase     time.Duration
	retryMax      time.Duration
	maxAttempts   int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey         string
	SecretKey      string
	UseTestnet     bool
	Logger         ports.Logger
	RetryBaseDelay time.Duration // initial delay between read-call retries (e.g., 500 * time.Millisecond)
	RetryMaxDelay  time.Duration // upper bound for the backoff delay
	MaxAttempts    int           // attempts per read call before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	retryBase := cfg.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	retryMax := cfg.RetryMaxDelay
	if retryMax <= 0 {
		retryMax = 10 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		retryBase:     retryBase,
		retryMax:      retryMax,
		maxAttempts:   maxAttempts,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003, -1015: // Too many requests / too many orders
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidInput
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011, -2013: // Cancel rejected / order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2019, -3005, -3041: // Margin or balance is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly order is rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -4003, -4014, -4015: // Qty, price or leverage not within permissible range
			mappedErr = ports.ErrInvalidInput
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4047: // Exceeded the maximum allowable position at current leverage
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// isTransient reports whether a call is worth retrying.
func isTransient(err error) bool {
	return errors.Is(err, ports.ErrRateLimited) ||
		errors.Is(err, ports.ErrConnectionFailed) ||
		errors.Is(err, ports.ErrExchangeUnavailable)
}

// withRetry runs fn with exponential backoff on transient errors.
// Only read calls go through here; order mutations are never replayed.
func (c *Client) withRetry(ctx context.Context, operation string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    c.retryBase,
		Max:    c.retryMax,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == c.maxAttempts {
			return err
		}

		delay := b.Duration()
		c.logger.Warn(ctx, operation+": transient error, retrying", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return c.handleError(ctx, ctx.Err(), operation)
		}
	}
	return err
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// CurrentPrice retrieves the last traded price for a given symbol.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	op := "CurrentPrice"
	var price float64
	err := c.withRetry(ctx, op, func() error {
		prices, err := c.futuresClient.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		if len(prices) == 0 {
			return c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
		}

		p, err := strconv.ParseFloat(prices[0].Price, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err)
			return c.handleError(ctx, parseErr, op)
		}
		price = p
		return nil
	})
	return price, err
}

// CurrentPosition retrieves the open position for a given symbol.
// A flat book yields a zero-quantity snapshot, not an error.
func (c *Client) CurrentPosition(ctx context.Context, symbol string) (*ports.PositionSnapshot, error) {
	op := "CurrentPosition"
	var snapshot *ports.PositionSnapshot
	err := c.withRetry(ctx, op, func() error {
		positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		if len(positions) == 0 {
			c.logger.Debug(ctx, op+": no position found for symbol", map[string]interface{}{"symbol": symbol})
			snapshot = &ports.PositionSnapshot{Symbol: symbol}
			return nil
		}

		// One entry per symbol in one-way mode
		snapshot = translatePosition(positions[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// PlaceLimit places a good-till-canceled limit order and returns the
// exchange-assigned order ID.
func (c *Client) PlaceLimit(ctx context.Context, order ports.LimitOrder) (string, error) {
	op := "PlaceLimit"

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(futures.SideType(order.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(formatFloat(order.Quantity)).
		Price(formatFloat(order.Price)).
		ReduceOnly(order.ReduceOnly)
	if order.ClientOrderID != "" {
		svc = svc.NewClientOrderID(order.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return "", c.handleError(ctx, err, op)
	}

	orderID := strconv.FormatInt(resp.OrderID, 10)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":     order.Symbol,
		"side":       order.Side,
		"price":      order.Price,
		"quantity":   order.Quantity,
		"reduceOnly": order.ReduceOnly,
		"orderID":    orderID,
	})
	return orderID, nil
}

// PlaceMarket places a market order and returns the average fill price.
func (c *Client) PlaceMarket(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (float64, error) {
	op := "PlaceMarket"

	resp, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(quantity)).
		ReduceOnly(reduceOnly).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	avgPrice, err := strconv.ParseFloat(resp.AvgPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse avg price '%s': %w", resp.AvgPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"avgPrice": avgPrice,
		"orderID":  resp.OrderID,
	})
	return avgPrice, nil
}

// Cancel cancels an open order. An order the exchange no longer knows
// about counts as canceled.
func (c *Client) Cancel(ctx context.Context, symbol, orderID string) error {
	op := "Cancel"
	id, err := parseOrderID(op, orderID)
	if err != nil {
		return err
	}

	_, err = c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		translated := c.handleError(ctx, err, op)
		if errors.Is(translated, ports.ErrOrderNotFound) {
			c.logger.Debug(ctx, op+": order already gone", map[string]interface{}{"symbol": symbol, "orderID": orderID})
			return nil
		}
		return translated
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return nil
}

// OrderState reports the lifecycle state of an order.
func (c *Client) OrderState(ctx context.Context, symbol, orderID string) (domain.OrderState, error) {
	op := "OrderState"
	id, err := parseOrderID(op, orderID)
	if err != nil {
		return domain.OrderUnknown, err
	}

	state := domain.OrderUnknown
	err = c.withRetry(ctx, op, func() error {
		order, err := c.futuresClient.NewGetOrderService().
			Symbol(symbol).
			OrderID(id).
			Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		state = translateOrderStatus(order.Status)
		return nil
	})
	if err != nil {
		return domain.OrderUnknown, err
	}
	return state, nil
}

// OpenOrders lists the IDs of all open orders for a symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]string, error) {
	op := "OpenOrders"
	var ids []string
	err := c.withRetry(ctx, op, func() error {
		orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		ids = make([]string, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, strconv.FormatInt(o.OrderID, 10))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// --- Translation Helpers ---

func parseOrderID(op, orderID string) (int64, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s failed: malformed order id %q: %w", op, orderID, ports.ErrInvalidInput)
	}
	return id, nil
}

// formatFloat renders a price or quantity the way the REST API expects,
// without trailing zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func translateOrderStatus(status futures.OrderStatusType) domain.OrderState {
	switch status {
	case futures.OrderStatusTypeNew, futures.OrderStatusTypePartiallyFilled:
		return domain.OrderLive
	case futures.OrderStatusTypeFilled:
		return domain.OrderFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired, futures.OrderStatusTypeRejected:
		return domain.OrderCanceled
	default:
		return domain.OrderUnknown
	}
}

func translatePosition(pos *futures.PositionRisk) *ports.PositionSnapshot {
	if pos == nil {
		return nil
	}
	qty, _ := strconv.ParseFloat(pos.PositionAmt, 64) // Ignore error, default to 0
	entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(pos.MarkPrice, 64)
	unPnL, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)
	leverage, _ := strconv.Atoi(pos.Leverage) // Leverage is string in go-binance

	return &ports.PositionSnapshot{
		Symbol:        pos.Symbol,
		Quantity:      qty,
		AvgPrice:      entryPrice,
		MarkPrice:     markPrice,
		UnrealizedPnL: unPnL,
		Leverage:      leverage,
	}
}
