package kraken

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/wonny/tides/pkg/config"
	"github.com/wonny/tides/pkg/logger"
)

// TradeTick is one public trade print.
type TradeTick struct {
	Symbol string
	Price  float64
	Volume float64
	Time   time.Time
}

// BarTick is an in-progress or completed bar from the ohlc channel.
type BarTick struct {
	Symbol   string
	Interval int // minutes
	OpenTime time.Time
	EndTime  time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// MarketStreamHooks are the consumer callbacks for public market data.
type MarketStreamHooks struct {
	OnTrade func(TradeTick)
	OnBar   func(BarTick)
	OnReset func()
}

// MarketStream consumes the public trade and ohlc channels. Subscriptions
// are replayed on every reconnect.
type MarketStream struct {
	client *StreamClient
	logger *logger.Logger
	hooks  MarketStreamHooks

	subMu    sync.Mutex
	trades   []string // ws pair names
	bars     []string
	interval int
}

// NewMarketStream creates the public market-data stream.
func NewMarketStream(cfg config.KrakenConfig, log *logger.Logger) *MarketStream {
	s := &MarketStream{
		logger: log.WithField("stream", "market"),
	}
	s.client = NewStreamClient(StreamConfig{
		Name:           "market",
		URL:            cfg.WSPublicURL,
		ReconnectDelay: cfg.ReconnectDelay,
		OnOpen:         s.resubscribe,
		OnMessage:      s.handleMessage,
		OnReset:        s.handleReset,
	}, log)
	return s
}

// Start registers hooks and begins connecting.
func (s *MarketStream) Start(hooks MarketStreamHooks) {
	s.hooks = hooks
	s.client.Start()
}

// Close shuts the stream down.
func (s *MarketStream) Close() {
	s.client.Close()
}

// State returns the connection state.
func (s *MarketStream) State() StreamState {
	return s.client.State()
}

// SubscribeTrades adds pairs to the trade subscription and sends the frame
// if connected. Pairs use ws names ("ETH/USD").
func (s *MarketStream) SubscribeTrades(pairs ...string) error {
	s.subMu.Lock()
	s.trades = appendNew(s.trades, pairs)
	s.subMu.Unlock()

	err := s.client.SendJSON(SubscribeRequest{
		Event:        "subscribe",
		Pair:         pairs,
		Subscription: Subscription{Name: ChannelTrade},
	})
	if err == ErrNotConnected {
		// Queued; resubscribe sends it once the connection is up.
		return nil
	}
	return err
}

// SubscribeBars adds pairs to the ohlc subscription at the given interval
// in minutes.
func (s *MarketStream) SubscribeBars(interval int, pairs ...string) error {
	s.subMu.Lock()
	s.bars = appendNew(s.bars, pairs)
	s.interval = interval
	s.subMu.Unlock()

	err := s.client.SendJSON(SubscribeRequest{
		Event:        "subscribe",
		Pair:         pairs,
		Subscription: Subscription{Name: ChannelOHLC, Interval: interval},
	})
	if err == ErrNotConnected {
		return nil
	}
	return err
}

// resubscribe replays the wanted subscriptions on a fresh connection.
func (s *MarketStream) resubscribe(c *StreamClient) error {
	s.subMu.Lock()
	trades := append([]string(nil), s.trades...)
	bars := append([]string(nil), s.bars...)
	interval := s.interval
	s.subMu.Unlock()

	if len(trades) > 0 {
		if err := c.SendJSON(SubscribeRequest{
			Event:        "subscribe",
			Pair:         trades,
			Subscription: Subscription{Name: ChannelTrade},
		}); err != nil {
			return err
		}
	}
	if len(bars) > 0 {
		if err := c.SendJSON(SubscribeRequest{
			Event:        "subscribe",
			Pair:         bars,
			Subscription: Subscription{Name: ChannelOHLC, Interval: interval},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *MarketStream) handleReset() {
	if s.hooks.OnReset != nil {
		s.hooks.OnReset()
	}
}

func (s *MarketStream) handleMessage(data []byte) {
	ctrl, msg, err := ParseMessage(data)
	if err != nil {
		s.logger.WithError(err).Warn("Unparseable frame")
		return
	}
	if ctrl != nil {
		HandleControl(s.logger, ctrl)
		return
	}

	switch {
	case msg.Channel == ChannelTrade:
		s.handleTrades(msg)
	case len(msg.Channel) >= 4 && msg.Channel[:4] == ChannelOHLC:
		s.handleBar(msg)
	default:
		s.logger.Warnf("Unrecognized data frame on channel %q", msg.Channel)
	}
}

// handleTrades parses [channelID, [[price, volume, time, side, kind, misc]...], "trade", pair].
func (s *MarketStream) handleTrades(msg *DataMessage) {
	if len(msg.Elements) < 4 || s.hooks.OnTrade == nil {
		return
	}

	var trades [][]interface{}
	if err := json.Unmarshal(msg.Elements[1], &trades); err != nil {
		s.logger.WithError(err).Warn("Unparseable trade payload")
		return
	}

	for _, t := range trades {
		if len(t) < 3 {
			continue
		}
		sec := toFloat(t[2])
		s.hooks.OnTrade(TradeTick{
			Symbol: msg.Pair,
			Price:  toFloat(t[0]),
			Volume: toFloat(t[1]),
			Time:   time.Unix(int64(sec), int64((sec-float64(int64(sec)))*1e9)).UTC(),
		})
	}
}

// handleBar parses [channelID, [time, etime, open, high, low, close, vwap, volume, count], "ohlc-N", pair].
func (s *MarketStream) handleBar(msg *DataMessage) {
	if len(msg.Elements) < 4 || s.hooks.OnBar == nil {
		return
	}

	var row []interface{}
	if err := json.Unmarshal(msg.Elements[1], &row); err != nil {
		s.logger.WithError(err).Warn("Unparseable ohlc payload")
		return
	}
	if len(row) < 8 {
		return
	}

	interval := 0
	if len(msg.Channel) > 5 {
		// channel name is "ohlc-<interval>"
		if n, err := strconv.Atoi(msg.Channel[5:]); err == nil {
			interval = n
		}
	}

	end := time.Unix(int64(toFloat(row[1])), 0).UTC()
	s.hooks.OnBar(BarTick{
		Symbol:   msg.Pair,
		Interval: interval,
		OpenTime: end.Add(-time.Duration(interval) * time.Minute),
		EndTime:  end,
		Open:     toFloat(row[2]),
		High:     toFloat(row[3]),
		Low:      toFloat(row[4]),
		Close:    toFloat(row[5]),
		Volume:   toFloat(row[7]),
	})
}

func appendNew(existing []string, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range add {
		if !seen[p] {
			existing = append(existing, p)
			seen[p] = true
		}
	}
	return existing
}
