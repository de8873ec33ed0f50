package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tradedesk/internal/domain"
)

// REST talks to a TradeLocker-style JSON trading API: bearer token from a
// credentials exchange, then account/position/order endpoints under
// /accounts/{id}. All order placement goes through one mutex per client so
// the venue never sees interleaved writes from the same desk.
type REST struct {
	base      string
	username  string
	password  string
	accountID string
	client    *http.Client
	logger    *slog.Logger

	tokenMu  sync.Mutex
	token    string
	tokenExp time.Time

	orderMu sync.Mutex
}

type RESTConfig struct {
	APIBase    string
	Username   string
	Password   string
	AccountID  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewREST(cfg RESTConfig) (*REST, error) {
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("broker api_base is not set")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("broker credentials are not set")
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("broker account_id is not set")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &REST{
		base:      cfg.APIBase,
		username:  cfg.Username,
		password:  cfg.Password,
		accountID: cfg.AccountID,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
	}, nil
}

func (r *REST) Name() string { return "rest" }

// --- wire types ---

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

type wireAccount struct {
	AccountID   string  `json:"account_id"`
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	OpenPnL     float64 `json:"open_pnl"`
	MarginUsed  float64 `json:"margin_used"`
	Environment string  `json:"environment"`
}

type wirePosition struct {
	ID       string  `json:"id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
	OpenPnL  float64 `json:"open_pnl"`
	OpenedAt string  `json:"opened_at"`
}

type wirePositions struct {
	Positions []wirePosition `json:"positions"`
}

type wireOrder struct {
	ID          string  `json:"id"`
	CreatedAt   string  `json:"created_at"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Quantity    float64 `json:"qty"`
	Price       float64 `json:"price"`
	FilledPrice float64 `json:"filled_price"`
	PnL         float64 `json:"pnl"`
	Status      string  `json:"status"`
}

type wireOrders struct {
	Orders []wireOrder `json:"orders"`
}

type orderRequest struct {
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"qty"`
	Price       float64   `json:"price,omitempty"` // 0 means market
	StopLoss    float64   `json:"stop_loss,omitempty"`
	TakeProfits []float64 `json:"take_profits,omitempty"`
}

// --- auth ---

func (r *REST) ensureToken(ctx context.Context) (string, error) {
	r.tokenMu.Lock()
	defer r.tokenMu.Unlock()

	// 30s margin so a token never expires mid-request.
	if r.token != "" && time.Until(r.tokenExp) > 30*time.Second {
		return r.token, nil
	}

	body, err := json.Marshal(authRequest{Username: r.username, Password: r.password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("broker auth: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("broker auth: HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("broker auth: decode: %w", err)
	}
	if auth.AccessToken == "" {
		return "", fmt.Errorf("broker auth: empty access token")
	}

	r.token = auth.AccessToken
	r.tokenExp = time.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)
	r.logger.Debug("broker token refreshed", "expires_in", auth.ExpiresIn)
	return r.token, nil
}

func (r *REST) invalidateToken() {
	r.tokenMu.Lock()
	r.token = ""
	r.tokenMu.Unlock()
}

// do sends one authed request, refreshing the token once on a 401. The
// caller owns the response body on success.
func (r *REST) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := r.ensureToken(ctx)
		if err != nil {
			return nil, err
		}

		var body io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("broker %s %s: %w", method, path, err)
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			r.invalidateToken()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("broker %s %s: %w", method, path, &statusError{status: resp.StatusCode, body: string(raw)})
		}
		return resp, nil
	}
	return nil, fmt.Errorf("broker %s %s: authorization kept failing", method, path)
}

// statusError preserves the venue's HTTP status so callers can tell a
// missing resource apart from a broken venue.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

func (r *REST) getJSON(ctx context.Context, path string, out any) error {
	resp, err := r.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Broker ---

func (r *REST) Snapshot(ctx context.Context) (*domain.BrokerSnapshot, error) {
	var acct wireAccount
	if err := r.getJSON(ctx, "/accounts/"+r.accountID, &acct); err != nil {
		return nil, err
	}
	env := acct.Environment
	if env == "" {
		env = "live"
	}
	return &domain.BrokerSnapshot{
		AccountID:   acct.AccountID,
		Currency:    acct.Currency,
		Balance:     acct.Balance,
		Equity:      acct.Equity,
		OpenPnL:     acct.OpenPnL,
		MarginUsed:  acct.MarginUsed,
		Environment: env,
		Timestamp:   time.Now().UTC(),
	}, nil
}

func (r *REST) Positions(ctx context.Context) ([]domain.Position, error) {
	var wire wirePositions
	if err := r.getJSON(ctx, "/accounts/"+r.accountID+"/positions", &wire); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(wire.Positions))
	for _, p := range wire.Positions {
		out = append(out, domain.Position{
			ID:        p.ID,
			Symbol:    p.Symbol,
			Direction: sideToDirection(p.Side),
			Quantity:  p.Quantity,
			AvgPrice:  p.AvgPrice,
			OpenPnL:   p.OpenPnL,
			OpenedAt:  parseWireTime(p.OpenedAt),
		})
	}
	return out, nil
}

func (r *REST) RecentOrders(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var wire wireOrders
	path := "/accounts/" + r.accountID + "/orders?limit=" + strconv.Itoa(limit)
	if err := r.getJSON(ctx, path, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.TradeRecord, 0, len(wire.Orders))
	for _, o := range wire.Orders {
		entry := o.FilledPrice
		if entry == 0 {
			entry = o.Price
		}
		out = append(out, domain.TradeRecord{
			ID:        o.ID,
			Timestamp: parseWireTime(o.CreatedAt),
			Symbol:    o.Symbol,
			Direction: sideToDirection(o.Side),
			Entry:     entry,
			Quantity:  o.Quantity,
			Status:    o.Status,
		})
	}
	return out, nil
}

func (r *REST) PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (*domain.Position, error) {
	if err := validateTicket(ticket); err != nil {
		return nil, err
	}

	// One in-flight order per account. A failed send is surfaced, never
	// resent: the venue may have filled it before the connection died.
	r.orderMu.Lock()
	defer r.orderMu.Unlock()

	payload := orderRequest{
		Symbol:      ticket.Symbol,
		Side:        directionToSide(ticket.Direction),
		Quantity:    ticket.Quantity,
		Price:       ticket.Entry,
		StopLoss:    ticket.StopLoss,
		TakeProfits: ticket.TakeProfits,
	}
	resp, err := r.do(ctx, http.MethodPost, "/accounts/"+r.accountID+"/orders", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var p wirePosition
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("broker order: decode: %w", err)
	}
	r.logger.Info("order placed", "symbol", ticket.Symbol, "direction", ticket.Direction, "id", p.ID)
	return &domain.Position{
		ID:        p.ID,
		Symbol:    p.Symbol,
		Direction: sideToDirection(p.Side),
		Quantity:  p.Quantity,
		AvgPrice:  p.AvgPrice,
		OpenPnL:   p.OpenPnL,
		OpenedAt:  parseWireTime(p.OpenedAt),
	}, nil
}

func (r *REST) ClosePosition(ctx context.Context, positionID string) (*domain.TradeRecord, error) {
	if positionID == "" {
		return nil, fmt.Errorf("close: no position id")
	}

	// Closes are writes like placements; same one-at-a-time rule.
	r.orderMu.Lock()
	defer r.orderMu.Unlock()

	path := "/accounts/" + r.accountID + "/positions/" + positionID
	resp, err := r.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
		}
		return nil, err
	}
	defer resp.Body.Close()

	var o wireOrder
	if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
		return nil, fmt.Errorf("broker close: decode: %w", err)
	}
	status := o.Status
	if status == "" {
		status = "closed"
	}
	r.logger.Info("position closed", "id", positionID, "symbol", o.Symbol, "pnl", o.PnL)
	return &domain.TradeRecord{
		ID:        positionID,
		Timestamp: parseWireTime(o.CreatedAt),
		Symbol:    o.Symbol,
		Direction: sideToDirection(o.Side),
		Exit:      o.FilledPrice,
		Quantity:  o.Quantity,
		PnL:       o.PnL,
		Status:    status,
	}, nil
}

func sideToDirection(side string) string {
	if side == "sell" {
		return "short"
	}
	return "long"
}

func directionToSide(direction string) string {
	if direction == "short" {
		return "sell"
	}
	return "buy"
}

func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
