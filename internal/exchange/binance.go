package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"spotarb/internal/models"
	"spotarb/pkg/crypto"
	"spotarb/pkg/ratelimit"
	"spotarb/pkg/utils"
)

const (
	binanceCode       = "BINANCE"
	binancePublicURL  = "wss://stream.binance.com:9443/ws"
	binancePrivateURL = "wss://ws-api.binance.com:443/ws-api/v3"
	binanceRESTURL    = "https://api.binance.com"
	binanceWithdraw   = "/sapi/v1/capital/withdraw/apply"

	// цена ордера отправляется с 4 знаками
	binancePriceDecimals = 4
)

// Binance - top-of-book из @bookTicker и торговля через WebSocket API.
//
// Публичный поток: котировки. Приватный (ws-api): account.status и order.place,
// подпись HMAC-SHA256 по отсортированным ключам. Вывод - REST с подписью
// query-строки в порядке вставки.
type Binance struct {
	baseGateway

	public  stream
	private stream // nil без API-ключа
	rest    *restClient
	refresh *ratelimit.Throttle
}

func NewBinance(opts Options) *Binance {
	g := &Binance{baseGateway: newBase(binanceCode, opts)}
	g.rest = newRESTClient(binanceCode, pick(g.opts.RESTURL, binanceRESTURL), g.opts.HTTPClient)
	g.refresh = ratelimit.NewThrottle(g.opts.AccountRefresh).WithClock(g.opts.Now)
	return g
}

func (g *Binance) Connect(ctx context.Context) error {
	g.setState(StateConnecting)

	g.public = g.opts.streams(g.code, pick(g.opts.PublicURL, binancePublicURL), g.opts.WS, wsHandlers{
		OnMessage:    g.HandleMessage,
		OnConnect:    func() error { return g.Subscribe(g.opts.Symbols) },
		OnDisconnect: g.resetConnection,
	}, g.log)

	var errs []error
	if !g.opts.Credentials.Empty() {
		g.private = g.opts.streams(g.code, pick(g.opts.PrivateURL, binancePrivateURL), g.opts.WS, wsHandlers{
			OnMessage:    g.HandleMessage,
			OnConnect:    g.onPrivateConnect,
			OnDisconnect: g.onPrivateDisconnect,
		}, g.log)
		if err := g.private.Connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("private stream: %w", err))
		}
	} else {
		g.log.Info("no credentials, market data only")
	}

	if err := g.public.Connect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("public stream: %w", err))
	}
	return errors.Join(errs...)
}

// Subscribe - один SUBSCRIBE на все символы, не чаще раза за соединение
func (g *Binance) Subscribe(symbols []string) error {
	if g.public == nil {
		return ErrNotConnected
	}
	if !g.beginSubscribe() {
		return nil
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"usdt@bookTicker")
	}
	frame := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     1,
	}
	if err := g.public.SendJSON(frame); err != nil {
		g.subscribe.Store(false)
		return fmt.Errorf("subscribe: %w", err)
	}
	g.setState(StateSubscribed)
	return nil
}

func (g *Binance) onPrivateConnect() error {
	if g.State() < StateSubscribed {
		g.setState(StateAuthenticating)
	}
	g.refresh.Reset()
	g.refresh.Allow()
	return g.requestAccount()
}

func (g *Binance) onPrivateDisconnect(err error) {
	g.balances.Clear()
	g.log.Warn("private stream lost, balances cleared", utils.Err(err))
}

// RefreshAccount - account.status не чаще AccountRefresh
func (g *Binance) RefreshAccount() bool {
	if g.private == nil || !g.refresh.Allow() {
		return false
	}
	if err := g.requestAccount(); err != nil {
		g.log.Warn("account refresh failed", utils.Err(err))
		return false
	}
	return true
}

func (g *Binance) requestAccount() error {
	params := crypto.Params{}.
		Add("apiKey", g.opts.Credentials.APIKey).
		Add("recvWindow", strconv.FormatInt(g.opts.RecvWindow.Milliseconds(), 10)).
		Add("timestamp", strconv.FormatInt(g.now().UnixMilli(), 10))

	signed, err := g.signedParams(params)
	if err != nil {
		return err
	}
	return g.private.SendJSON(map[string]interface{}{
		"id":     utils.NumericID(),
		"method": "account.status",
		"params": signed,
	})
}

// signedParams - params ws-api с подписью по отсортированным ключам
func (g *Binance) signedParams(params crypto.Params) (map[string]string, error) {
	sig, err := crypto.Sign(params, g.opts.Credentials.Secret, true, crypto.SHA256)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(params)+1)
	for _, kv := range params {
		out[kv.Key] = kv.Value
	}
	out["signature"] = sig.Hex
	return out, nil
}

// ============================================================
// Разбор кадров
// ============================================================

type binanceFrame struct {
	Code  int `json:"code"`
	Error *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
	Result *struct {
		Balances []struct {
			Asset string    `json:"asset"`
			Free  flexFloat `json:"free"`
		} `json:"balances"`
	} `json:"result"`

	Symbol string    `json:"s"`
	Bid    flexFloat `json:"b"`
	BidQty flexFloat `json:"B"`
	Ask    flexFloat `json:"a"`
	AskQty flexFloat `json:"A"`
}

func (f *binanceFrame) errCode() (int, string) {
	if f.Error != nil {
		return f.Error.Code, f.Error.Msg
	}
	return f.Code, ""
}

func (g *Binance) HandleMessage(raw []byte) {
	var f binanceFrame
	if err := strictJSON.Unmarshal(raw, &f); err != nil {
		g.dropFrame(raw, malformed("%v", err))
		return
	}

	if code, msg := f.errCode(); code != 0 {
		g.log.Warn("venue error", utils.Int("code", code), utils.String("msg", msg))
		return
	}
	if f.Result != nil && f.Result.Balances != nil {
		g.applyBalances(&f)
		return
	}
	ev, err := g.ticker(&f)
	if err != nil {
		g.dropFrame(raw, err)
		return
	}
	g.emit(ev)
}

func (g *Binance) Normalize(raw []byte) (*models.TickerEvent, error) {
	var f binanceFrame
	if err := strictJSON.Unmarshal(raw, &f); err != nil {
		return nil, malformed("%v", err)
	}
	return g.ticker(&f)
}

func (g *Binance) ticker(f *binanceFrame) (*models.TickerEvent, error) {
	if f.Symbol == "" {
		return nil, nil
	}
	symbol, err := CanonicalSymbol(f.Symbol)
	if err != nil {
		return nil, err
	}
	return &models.TickerEvent{
		Exchange:  g.code,
		Symbol:    symbol,
		Timestamp: g.now(),
		Bid:       f.Bid.Float(),
		BidQty:    f.BidQty.Float(),
		Ask:       f.Ask.Float(),
		AskQty:    f.AskQty.Float(),
	}, nil
}

// applyBalances - account.status несёт полный снимок аккаунта
func (g *Binance) applyBalances(f *binanceFrame) {
	values := make(map[string]float64, len(f.Result.Balances))
	for _, b := range f.Result.Balances {
		values[b.Asset] = b.Free.Float()
	}
	g.balances.Replace(values)
	g.log.Debug("balances updated", utils.Int("assets", len(g.balances.Snapshot())))
}

// ============================================================
// Ордера и выводы
// ============================================================

// PlaceOrder ограничивает объём отслеживаемым балансом, округляет вниз
// до шага лота и отправляет order.place без ожидания ответа.
func (g *Binance) PlaceOrder(ctx context.Context, order models.OrderEvent) error {
	if g.private == nil {
		return ErrNotConnected
	}
	if order.Price <= 0 {
		return fmt.Errorf("%w: price %v", ErrInsufficientBalance, order.Price)
	}

	asset := legAsset(order)
	balance, err := g.Balance(asset)
	if err != nil {
		return fmt.Errorf("%s %s: %w", g.code, asset, err)
	}

	limit := balance
	if order.Type == models.OrderBuy {
		limit = balance / order.Price
	}
	step := g.LotStep(order.Symbol)
	amount := utils.RoundToLotSize(utils.Min(order.Amount, limit), step)
	if amount <= 0 {
		return fmt.Errorf("%s %s: %w", g.code, asset, ErrInsufficientBalance)
	}

	params := crypto.Params{}.
		Add("symbol", order.Symbol).
		Add("side", string(order.Type)).
		Add("type", "LIMIT").
		Add("price", utils.FormatDecimal(order.Price, binancePriceDecimals)).
		Add("quantity", utils.FormatDecimal(amount, utils.Decimals(step))).
		Add("timeInForce", "GTC").
		Add("timestamp", strconv.FormatInt(g.now().UnixMilli(), 10)).
		Add("recvWindow", strconv.FormatInt(g.opts.RecvWindow.Milliseconds(), 10)).
		Add("apiKey", g.opts.Credentials.APIKey)

	signed, err := g.signedParams(params)
	if err != nil {
		return err
	}
	g.log.Info("sending order",
		utils.OrderID(order.ID), utils.Side(string(order.Type)), utils.Symbol(order.Symbol),
		utils.Price(order.Price), utils.Volume(amount))

	return g.private.SendJSON(map[string]interface{}{
		"id":     order.ID,
		"method": "order.place",
		"params": signed,
	})
}

// Transfer - POST /sapi/v1/capital/withdraw/apply.
// Подписывается query-строка в порядке вставки, подпись дописывается последней.
func (g *Binance) Transfer(ctx context.Context, t models.TransferEvent) (string, error) {
	if g.opts.Credentials.Empty() {
		return "", readOnlyError(g.code, "transfer without credentials")
	}

	params := crypto.Params{}.
		Add("coin", url.QueryEscape(t.Symbol)).
		Add("address", url.QueryEscape(t.ToAddress))
	if t.ToAddressTag != "" {
		params = params.Add("addressTag", url.QueryEscape(t.ToAddressTag))
	}
	params = params.
		Add("amount", utils.FormatAmount(t.Amount)).
		Add("timestamp", strconv.FormatInt(g.now().UnixMilli(), 10))

	sig, err := crypto.Sign(params, g.opts.Credentials.Secret, false, crypto.SHA256)
	if err != nil {
		return "", err
	}

	endpoint := g.rest.baseURL + binanceWithdraw + "?" + sig.Canonical + "&signature=" + sig.Hex
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", newNetworkError(g.code, err)
	}
	req.Header.Set("X-MBX-APIKEY", g.opts.Credentials.APIKey)

	status, body, err := g.rest.do(ctx, req)
	if err != nil {
		return "", err
	}

	var resp struct {
		ID   string `json:"id"`
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", newVenueError(g.code, strconv.Itoa(status), truncate(body, 256))
	}
	if status != http.StatusOK || resp.Code != 0 || resp.ID == "" {
		code := strconv.Itoa(resp.Code)
		if resp.Code == 0 {
			code = strconv.Itoa(status)
		}
		return "", newVenueError(g.code, code, resp.Msg)
	}
	return resp.ID, nil
}

func (g *Binance) Close() error {
	var errs []error
	if g.public != nil {
		errs = append(errs, g.public.Close())
	}
	if g.private != nil {
		errs = append(errs, g.private.Close())
	}
	g.setState(StateDisconnected)
	return errors.Join(errs...)
}
