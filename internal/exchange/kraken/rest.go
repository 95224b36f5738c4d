package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wonny/tides/internal/market"
	"github.com/wonny/tides/pkg/config"
	"github.com/wonny/tides/pkg/httputil"
	"github.com/wonny/tides/pkg/logger"
)

// REST endpoint paths.
const (
	pathAddOrder        = "/0/private/AddOrder"
	pathCancelOrder     = "/0/private/CancelOrder"
	pathBalance         = "/0/private/Balance"
	pathWebSocketsToken = "/0/private/GetWebSocketsToken"
	pathAssetPairs      = "/0/public/AssetPairs"
	pathAssets          = "/0/public/Assets"
	pathTicker          = "/0/public/Ticker"
	pathOHLC            = "/0/public/OHLC"
)

// Client is the Kraken REST client. It also serves as the exchange
// metadata source once LoadMetadata has run.
type Client struct {
	cfg    config.KrakenConfig
	http   *httputil.Client
	priv   *httputil.Client // no retry: a signed body must be sent at most once
	logger *logger.Logger

	// Nonce must be strictly increasing across private calls in a session.
	nonceMu sync.Mutex
	nonce   int64

	metaMu  sync.RWMutex
	pairs   map[string]pairMeta // keyed by ws name, e.g. "ETH/USD"
	assets  map[string]assetMeta
	altname map[string]string // kraken asset code -> common name
}

type pairMeta struct {
	restName     string // name used on REST paths, e.g. "XETHZUSD"
	wsName       string
	base         string
	quote        string
	pairDecimals int
	lotDecimals  int
	orderMin     float64
}

type assetMeta struct {
	decimals        int
	displayDecimals int
}

// NewClient creates a Kraken REST client. Public GETs retry per the given
// http client; private calls go out exactly once.
func NewClient(cfg config.KrakenConfig, http *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   http,
		priv:   http.WithoutRetry(),
		logger: log,
	}
}

// apiResponse is the envelope every Kraken REST response uses.
type apiResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Nonce returns a millisecond timestamp, bumped when the clock has not
// advanced since the previous call.
func (c *Client) Nonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	n := time.Now().UnixMilli()
	if n <= c.nonce {
		n = c.nonce + 1
	}
	c.nonce = n
	return n
}

// Sign computes the API-Sign header value for a private call:
// base64(HMAC-SHA512(secret, path + SHA256(nonce + urlencode(body)))).
func Sign(secret, path string, nonce int64, form url.Values) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}

	digest := sha256.Sum256([]byte(strconv.FormatInt(nonce, 10) + form.Encode()))
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// private performs a signed POST and decodes the result envelope.
func (c *Client) private(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	if form == nil {
		form = url.Values{}
	}
	nonce := c.Nonce()
	form.Set("nonce", strconv.FormatInt(nonce, 10))

	sig, err := Sign(c.cfg.Secret, path, nonce, form)
	if err != nil {
		return nil, err
	}

	req, err := newFormRequest(ctx, c.cfg.RESTURL+path, form)
	if err != nil {
		return nil, err
	}
	req.Header.Set("API-Key", c.cfg.Key)
	req.Header.Set("API-Sign", sig)

	resp, err := c.priv.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp.Body, path)
}

// public performs an unauthenticated GET.
func (c *Client) public(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u := c.cfg.RESTURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	resp, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp.Body, path)
}

func newFormRequest(ctx context.Context, url string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func decodeResponse(body io.Reader, path string) (json.RawMessage, error) {
	var envelope apiResponse
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if len(envelope.Error) > 0 {
		return nil, fmt.Errorf("%s: exchange error: %s", path, strings.Join(envelope.Error, "; "))
	}
	return envelope.Result, nil
}

// LoadMetadata fetches the asset pair and asset tables. Must be called once
// before the client is used as a metadata source.
func (c *Client) LoadMetadata(ctx context.Context) error {
	rawPairs, err := c.public(ctx, pathAssetPairs, nil)
	if err != nil {
		return fmt.Errorf("load asset pairs: %w", err)
	}

	var pairTable map[string]struct {
		WSName       string `json:"wsname"`
		Base         string `json:"base"`
		Quote        string `json:"quote"`
		PairDecimals int    `json:"pair_decimals"`
		LotDecimals  int    `json:"lot_decimals"`
		OrderMin     string `json:"ordermin"`
	}
	if err := json.Unmarshal(rawPairs, &pairTable); err != nil {
		return fmt.Errorf("parse asset pairs: %w", err)
	}

	rawAssets, err := c.public(ctx, pathAssets, nil)
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}

	var assetTable map[string]struct {
		Altname         string `json:"altname"`
		Decimals        int    `json:"decimals"`
		DisplayDecimals int    `json:"display_decimals"`
	}
	if err := json.Unmarshal(rawAssets, &assetTable); err != nil {
		return fmt.Errorf("parse assets: %w", err)
	}

	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	c.assets = make(map[string]assetMeta, len(assetTable))
	c.altname = make(map[string]string, len(assetTable))
	for code, a := range assetTable {
		c.assets[a.Altname] = assetMeta{decimals: a.Decimals, displayDecimals: a.DisplayDecimals}
		c.altname[code] = a.Altname
	}

	c.pairs = make(map[string]pairMeta, len(pairTable))
	for restName, p := range pairTable {
		if p.WSName == "" {
			continue
		}
		orderMin, _ := strconv.ParseFloat(p.OrderMin, 64)
		c.pairs[p.WSName] = pairMeta{
			restName:     restName,
			wsName:       p.WSName,
			base:         c.altname[p.Base],
			quote:        c.altname[p.Quote],
			pairDecimals: p.PairDecimals,
			lotDecimals:  p.LotDecimals,
			orderMin:     orderMin,
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"pairs":  len(c.pairs),
		"assets": len(c.assets),
	}).Debug("Kraken metadata loaded")

	return nil
}

// PairInfo implements market.MetadataSource.
func (c *Client) PairInfo(symbol string) (market.PairInfo, error) {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()

	p, ok := c.pairs[symbol]
	if !ok {
		return market.PairInfo{}, fmt.Errorf("%w: %s", market.ErrUnsupportedSymbol, symbol)
	}
	return market.PairInfo{
		Symbol:       symbol,
		Base:         p.base,
		Quote:        p.quote,
		PairDecimals: p.pairDecimals,
		LotDecimals:  p.lotDecimals,
		OrderMin:     p.orderMin,
	}, nil
}

// AssetDecimals implements market.MetadataSource.
func (c *Client) AssetDecimals(asset string) (int, bool) {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()

	a, ok := c.assets[asset]
	if !ok {
		return 0, false
	}
	return a.decimals, true
}

func (c *Client) restName(symbol string) (string, error) {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()

	p, ok := c.pairs[symbol]
	if !ok {
		return "", fmt.Errorf("%w: %s", market.ErrUnsupportedSymbol, symbol)
	}
	return p.restName, nil
}

// AddOrder submits an order and returns the exchange-assigned transaction id.
// Limit orders pass price; market orders leave it zero.
func (c *Client) AddOrder(ctx context.Context, symbol, side, ordertype string, volume, price float64) (string, error) {
	pair, err := c.restName(symbol)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("pair", pair)
	form.Set("type", side)
	form.Set("ordertype", ordertype)
	form.Set("volume", strconv.FormatFloat(volume, 'f', -1, 64))
	if ordertype == "limit" {
		form.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	}

	raw, err := c.private(ctx, pathAddOrder, form)
	if err != nil {
		return "", err
	}

	var result struct {
		TxID []string `json:"txid"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parse AddOrder result: %w", err)
	}
	if len(result.TxID) == 0 {
		return "", fmt.Errorf("AddOrder returned no transaction id")
	}
	return result.TxID[0], nil
}

// CancelOrder cancels an open order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, txid string) error {
	form := url.Values{}
	form.Set("txid", txid)
	_, err := c.private(ctx, pathCancelOrder, form)
	return err
}

// Balance returns total holdings by asset, in common asset names.
func (c *Client) Balance(ctx context.Context) (map[string]float64, error) {
	raw, err := c.private(ctx, pathBalance, nil)
	if err != nil {
		return nil, err
	}

	var result map[string]string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse Balance result: %w", err)
	}

	c.metaMu.RLock()
	defer c.metaMu.RUnlock()

	balances := make(map[string]float64, len(result))
	for code, qtyStr := range result {
		qty, err := strconv.ParseFloat(qtyStr, 64)
		if err != nil {
			continue
		}
		name := code
		if alt, ok := c.altname[code]; ok {
			name = alt
		}
		balances[name] += qty
	}
	return balances, nil
}

// WebSocketsToken fetches a short-lived token for private stream
// subscriptions.
func (c *Client) WebSocketsToken(ctx context.Context) (string, error) {
	raw, err := c.private(ctx, pathWebSocketsToken, nil)
	if err != nil {
		return "", err
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parse token result: %w", err)
	}
	if result.Token == "" {
		return "", fmt.Errorf("empty websocket token")
	}
	return result.Token, nil
}

// LastPrice returns the most recent trade price for a symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	pair, err := c.restName(symbol)
	if err != nil {
		return 0, err
	}

	query := url.Values{}
	query.Set("pair", pair)
	raw, err := c.public(ctx, pathTicker, query)
	if err != nil {
		return 0, err
	}

	var result map[string]struct {
		C []string `json:"c"` // [last trade price, lot volume]
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("parse Ticker result: %w", err)
	}

	for _, t := range result {
		if len(t.C) == 0 {
			break
		}
		px, err := strconv.ParseFloat(t.C[0], 64)
		if err != nil {
			return 0, fmt.Errorf("parse ticker price: %w", err)
		}
		return px, nil
	}
	return 0, fmt.Errorf("no ticker data for %s", symbol)
}

// Candle is one OHLCV aggregate keyed by bar-open time.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// OHLC returns candles for a symbol at the given interval, oldest first.
// Kraken includes the still-forming bar as the last element; callers decide
// whether to drop it.
func (c *Client) OHLC(ctx context.Context, symbol string, interval int, since time.Time) ([]Candle, error) {
	pair, err := c.restName(symbol)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("pair", pair)
	query.Set("interval", strconv.Itoa(interval))
	if !since.IsZero() {
		query.Set("since", strconv.FormatInt(since.Unix(), 10))
	}

	raw, err := c.public(ctx, pathOHLC, query)
	if err != nil {
		return nil, err
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse OHLC result: %w", err)
	}

	for key, rows := range result {
		if key == "last" {
			continue
		}
		return parseCandles(rows)
	}
	return nil, fmt.Errorf("no OHLC data for %s", symbol)
}

func parseCandles(raw json.RawMessage) ([]Candle, error) {
	// Rows arrive as [time, open, high, low, close, vwap, volume, count].
	// Time is a number, prices are strings.
	var rows [][]interface{}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("parse OHLC rows: %w", err)
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		candles = append(candles, Candle{
			OpenTime: time.Unix(int64(toFloat(row[0])), 0).UTC(),
			Open:     toFloat(row[1]),
			High:     toFloat(row[2]),
			Low:      toFloat(row[3]),
			Close:    toFloat(row[4]),
			Volume:   toFloat(row[6]),
		})
	}
	return candles, nil
}

// toFloat coerces the number-or-string values Kraken mixes inside frames.
func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
