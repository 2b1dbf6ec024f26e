package exchange

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"spotarb/internal/models"
	"spotarb/pkg/crypto"
	"spotarb/pkg/utils"
)

const (
	bitfinexCode     = "BITFINEX"
	bitfinexWSURL    = "wss://api.bitfinex.com/ws/2"
	bitfinexRESTURL  = "https://api.bitfinex.com"
	bitfinexWithdraw = "v2/auth/w/withdraw"

	// спотовый кошелёк; margin/funding не торгуются
	bitfinexWallet = "exchange"
)

// Методы вывода Bitfinex по активу; прочие активы - имя в нижнем регистре
var bitfinexMethods = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tetheruse",
	"XRP":  "ripple",
	"LTC":  "litecoin",
}

// Bitfinex - один WebSocket на котировки и аккаунт.
//
// Канал ticker адресуется числовым chanId, соответствие chanId -> символ
// приходит в событии subscribed и живёт до обрыва соединения.
// Канал 0 - аккаунт: ws (снимок кошельков), wu (обновление), on/oc (ордера).
type Bitfinex struct {
	baseGateway

	ws       stream
	rest     *restClient
	channels map[int64]string // chanId -> канонический символ
}

func NewBitfinex(opts Options) *Bitfinex {
	g := &Bitfinex{
		baseGateway: newBase(bitfinexCode, opts),
		channels:    make(map[int64]string),
	}
	g.rest = newRESTClient(bitfinexCode, pick(g.opts.RESTURL, bitfinexRESTURL), g.opts.HTTPClient)
	return g
}

func (g *Bitfinex) Connect(ctx context.Context) error {
	g.setState(StateConnecting)
	g.ws = g.opts.streams(g.code, pick(g.opts.PublicURL, bitfinexWSURL), g.opts.WS, wsHandlers{
		OnMessage:    g.HandleMessage,
		OnConnect:    g.onConnect,
		OnDisconnect: g.onDisconnect,
	}, g.log)
	return g.ws.Connect(ctx)
}

func (g *Bitfinex) onConnect() error {
	if !g.opts.Credentials.Empty() {
		g.setState(StateAuthenticating)
		if err := g.authenticate(); err != nil {
			return err
		}
	}
	return g.Subscribe(g.opts.Symbols)
}

func (g *Bitfinex) onDisconnect(err error) {
	g.channels = make(map[int64]string)
	g.balances.Clear()
	g.resetConnection(err)
}

// authenticate - HMAC-SHA384 над "AUTH{nonce}", nonce в микросекундах
func (g *Bitfinex) authenticate() error {
	nonce := g.now().UnixMicro()
	payload := "AUTH" + strconv.FormatInt(nonce, 10)
	sig, err := crypto.SignString(payload, g.opts.Credentials.Secret, crypto.SHA384)
	if err != nil {
		return err
	}
	return g.ws.SendJSON(map[string]interface{}{
		"event":       "auth",
		"apiKey":      g.opts.Credentials.APIKey,
		"authSig":     sig,
		"authNonce":   nonce,
		"authPayload": payload,
	})
}

func (g *Bitfinex) Subscribe(symbols []string) error {
	if g.ws == nil {
		return ErrNotConnected
	}
	if !g.beginSubscribe() {
		return nil
	}
	for _, s := range symbols {
		frame := map[string]string{
			"event":   "subscribe",
			"channel": "ticker",
			"symbol":  "t" + s + "UST",
		}
		if err := g.ws.SendJSON(frame); err != nil {
			g.subscribe.Store(false)
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	g.setState(StateSubscribed)
	return nil
}

// ============================================================
// Разбор кадров
// ============================================================

type bitfinexEvent struct {
	Event   string `json:"event"`
	Status  string `json:"status"`
	ChanID  int64  `json:"chanId"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Pair    string `json:"pair"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

func (g *Bitfinex) HandleMessage(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		g.dropFrame(raw, malformed("empty frame"))
		return
	}
	if raw[0] == '{' {
		g.handleEvent(raw)
		return
	}

	var frame []rawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 2 {
		g.dropFrame(raw, malformed("bad channel frame"))
		return
	}
	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		g.dropFrame(raw, malformed("bad chanId %s", frame[0]))
		return
	}

	if chanID == 0 {
		g.handleAccount(frame, raw)
		return
	}
	ev, err := g.tickerFrame(chanID, frame)
	if err != nil {
		g.dropFrame(raw, err)
		return
	}
	g.emit(ev)
}

func (g *Bitfinex) handleEvent(raw []byte) {
	var ev bitfinexEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		g.dropFrame(raw, malformed("%v", err))
		return
	}

	switch ev.Event {
	case "subscribed":
		pair := ev.Pair
		if pair == "" {
			pair = strings.TrimPrefix(ev.Symbol, "t")
		}
		symbol, err := CanonicalSymbol(pair)
		if err != nil {
			g.dropFrame(raw, err)
			return
		}
		g.channels[ev.ChanID] = symbol
		g.log.Debug("channel subscribed", utils.Symbol(symbol), utils.Int64("chan_id", ev.ChanID))
	case "auth":
		if ev.Status != "OK" {
			g.log.Error("authentication failed", utils.Int("code", ev.Code), utils.String("msg", ev.Msg))
			return
		}
		g.log.Info("authenticated")
	case "error":
		g.log.Warn("venue error", utils.Int("code", ev.Code), utils.String("msg", ev.Msg))
	}
}

// handleAccount - канал 0: кошельки и уведомления
func (g *Bitfinex) handleAccount(frame []rawMessage, raw []byte) {
	var kind string
	if err := json.Unmarshal(frame[1], &kind); err != nil {
		g.dropFrame(raw, malformed("bad account frame type"))
		return
	}

	switch kind {
	case "ws":
		if len(frame) < 3 {
			return
		}
		var rows [][]rawMessage
		if err := json.Unmarshal(frame[2], &rows); err != nil {
			g.dropFrame(raw, malformed("wallet snapshot: %v", err))
			return
		}
		g.balances.Replace(bitfinexWallets(rows))
	case "wu":
		if len(frame) < 3 {
			return
		}
		var row []rawMessage
		if err := json.Unmarshal(frame[2], &row); err != nil {
			g.dropFrame(raw, malformed("wallet update: %v", err))
			return
		}
		values := bitfinexWallets([][]rawMessage{row})
		if len(values) > 0 {
			g.balances.Update(values)
		}
	case "n", "on", "oc", "ou":
		g.log.Debug("account notification", utils.String("type", kind), utils.String("frame", truncate(raw, 256)))
	}
}

// bitfinexWallets - [WALLET_TYPE, CURRENCY, BALANCE, UNSETTLED_INTEREST, AVAILABLE_BALANCE, ...].
// Берётся AVAILABLE_BALANCE, если биржа его прислала, иначе BALANCE.
func bitfinexWallets(rows [][]rawMessage) map[string]float64 {
	values := make(map[string]float64, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		var wallet, currency string
		if json.Unmarshal(row[0], &wallet) != nil || wallet != bitfinexWallet {
			continue
		}
		if json.Unmarshal(row[1], &currency) != nil {
			continue
		}
		var balance, available flexFloat
		_ = json.Unmarshal(row[2], &balance)
		amount := balance.Float()
		if len(row) > 4 && !bytes.Equal(bytes.TrimSpace(row[4]), []byte("null")) {
			if json.Unmarshal(row[4], &available) == nil {
				amount = available.Float()
			}
		}
		values[CanonicalAsset(currency)] = amount
	}
	return values
}

func (g *Bitfinex) Normalize(raw []byte) (*models.TickerEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil
	}
	var frame []rawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 2 {
		return nil, malformed("bad channel frame")
	}
	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		return nil, malformed("bad chanId %s", frame[0])
	}
	if chanID == 0 {
		return nil, nil
	}
	return g.tickerFrame(chanID, frame)
}

// tickerFrame - [CHAN_ID, [BID, BID_SIZE, ASK, ASK_SIZE, ...]] или [CHAN_ID, "hb"]
func (g *Bitfinex) tickerFrame(chanID int64, frame []rawMessage) (*models.TickerEvent, error) {
	if bytes.HasPrefix(bytes.TrimSpace(frame[1]), []byte(`"`)) {
		return nil, nil // hb
	}
	symbol, ok := g.channels[chanID]
	if !ok {
		return nil, nil
	}
	var values []flexFloat
	if err := json.Unmarshal(frame[1], &values); err != nil {
		return nil, malformed("ticker payload: %v", err)
	}
	if len(values) < 4 {
		return nil, malformed("ticker payload has %d fields", len(values))
	}
	return &models.TickerEvent{
		Exchange:  g.code,
		Symbol:    symbol,
		Timestamp: g.now(),
		Bid:       values[0].Float(),
		BidQty:    values[1].Float(),
		Ask:       values[2].Float(),
		AskQty:    values[3].Float(),
	}, nil
}

// ============================================================
// Ордера и выводы
// ============================================================

// PlaceOrder - ["0","on",null,{...}]; продажа задаётся отрицательным amount
func (g *Bitfinex) PlaceOrder(ctx context.Context, order models.OrderEvent) error {
	if g.ws == nil || g.opts.Credentials.Empty() {
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

	qty := utils.FormatDecimal(amount, utils.Decimals(step))
	if order.Type == models.OrderSell {
		qty = "-" + qty
	}
	frame := []interface{}{0, "on", nil, map[string]interface{}{
		"cid":    order.ID,
		"type":   "EXCHANGE LIMIT",
		"symbol": "t" + BaseAsset(order.Symbol) + "UST",
		"amount": qty,
		"price":  utils.FormatAmount(order.Price),
	}}

	g.log.Info("sending order",
		utils.OrderID(order.ID), utils.Side(string(order.Type)), utils.Symbol(order.Symbol),
		utils.Price(order.Price), utils.Volume(amount))
	return g.ws.SendJSON(frame)
}

type bitfinexWithdrawRequest struct {
	Wallet    string `json:"wallet"`
	Method    string `json:"method"`
	Amount    string `json:"amount"`
	Address   string `json:"address"`
	PaymentID string `json:"payment_id,omitempty"`
}

func bitfinexMethod(asset string) string {
	asset = CanonicalAsset(asset)
	if m, ok := bitfinexMethods[asset]; ok {
		return m
	}
	return strings.ToLower(asset)
}

// Transfer - POST /v2/auth/w/withdraw, подпись SHA-384 над "/api/{path}{nonce}{body}"
func (g *Bitfinex) Transfer(ctx context.Context, t models.TransferEvent) (string, error) {
	if g.opts.Credentials.Empty() {
		return "", readOnlyError(g.code, "transfer without credentials")
	}

	body, err := json.Marshal(bitfinexWithdrawRequest{
		Wallet:    bitfinexWallet,
		Method:    bitfinexMethod(t.Symbol),
		Amount:    utils.FormatAmount(t.Amount),
		Address:   t.ToAddress,
		PaymentID: t.ToAddressTag,
	})
	if err != nil {
		return "", fmt.Errorf("marshal withdraw: %w", err)
	}

	nonce := strconv.FormatInt(g.now().UnixMicro(), 10)
	sig, err := crypto.SignPath(bitfinexWithdraw, nonce, string(body), g.opts.Credentials.Secret, crypto.SHA384)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.rest.baseURL+"/"+bitfinexWithdraw, bytes.NewReader(body))
	if err != nil {
		return "", newNetworkError(g.code, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("bfx-nonce", nonce)
	req.Header.Set("bfx-apikey", g.opts.Credentials.APIKey)
	req.Header.Set("bfx-signature", sig.Hex)

	status, resp, err := g.rest.do(ctx, req)
	if err != nil {
		return "", err
	}
	return parseBitfinexWithdraw(status, resp)
}

// parseBitfinexWithdraw разбирает
// [MTS, TYPE, MESSAGE_ID, null, [WITHDRAWAL_ID, ...], CODE, STATUS, TEXT]
// либо ["error", CODE, MESSAGE].
func parseBitfinexWithdraw(status int, body []byte) (string, error) {
	var arr []rawMessage
	if err := json.Unmarshal(body, &arr); err != nil {
		return "", newVenueError(bitfinexCode, strconv.Itoa(status), truncate(body, 256))
	}

	var head string
	if len(arr) >= 3 && json.Unmarshal(arr[0], &head) == nil && head == "error" {
		var code int
		var msg string
		_ = json.Unmarshal(arr[1], &code)
		_ = json.Unmarshal(arr[2], &msg)
		return "", newVenueError(bitfinexCode, strconv.Itoa(code), msg)
	}
	if len(arr) < 8 {
		return "", newVenueError(bitfinexCode, strconv.Itoa(status), "unexpected withdraw response")
	}

	var st, text string
	_ = json.Unmarshal(arr[6], &st)
	_ = json.Unmarshal(arr[7], &text)
	if st != "SUCCESS" {
		return "", newVenueError(bitfinexCode, st, text)
	}

	var data []rawMessage
	if err := json.Unmarshal(arr[4], &data); err != nil || len(data) == 0 {
		return "", newVenueError(bitfinexCode, st, "withdraw response without id")
	}
	return strings.Trim(string(bytes.TrimSpace(data[0])), `"`), nil
}

func (g *Bitfinex) Close() error {
	g.setState(StateDisconnected)
	if g.ws == nil {
		return nil
	}
	return g.ws.Close()
}
