package kraken

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/wonny/tides/pkg/config"
	"github.com/wonny/tides/pkg/logger"
)

// OrderUpdate is one order-state delta from the openOrders channel. Fields
// the exchange omitted are nil; the broker keeps its current value for
// those.
type OrderUpdate struct {
	Status   string
	VolExec  *float64
	Cost     *float64
	AvgPrice *float64
	Fee      *float64
}

// OrderStreamHooks are the broker-side callbacks for the private order
// stream.
type OrderStreamHooks struct {
	// OnUpdate delivers one update for one exchange order id.
	OnUpdate func(id string, update OrderUpdate)
	// OnReady fires when the openOrders subscription is acknowledged.
	OnReady func()
	// OnReset fires once per disconnect, before reconnection.
	OnReset func()
}

// OrderStream consumes the authenticated openOrders channel. A fresh
// streaming token is fetched over REST on every (re)connect because tokens
// are single-use and short-lived.
type OrderStream struct {
	rest   *Client
	client *StreamClient
	logger *logger.Logger
	hooks  OrderStreamHooks
}

// NewOrderStream creates the private order stream.
func NewOrderStream(cfg config.KrakenConfig, rest *Client, log *logger.Logger) *OrderStream {
	s := &OrderStream{
		rest:   rest,
		logger: log.WithField("stream", "orders"),
	}
	s.client = NewStreamClient(StreamConfig{
		Name:           "orders",
		URL:            cfg.WSPrivateURL,
		ReconnectDelay: cfg.ReconnectDelay,
		OnOpen:         s.subscribe,
		OnMessage:      s.handleMessage,
		OnReset:        s.handleReset,
	}, log)
	return s
}

// Start registers the hooks and begins connecting.
func (s *OrderStream) Start(hooks OrderStreamHooks) {
	s.hooks = hooks
	s.client.Start()
}

// Close shuts the stream down.
func (s *OrderStream) Close() {
	s.client.Close()
}

// State returns the connection state.
func (s *OrderStream) State() StreamState {
	return s.client.State()
}

func (s *OrderStream) subscribe(c *StreamClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	token, err := s.rest.WebSocketsToken(ctx)
	if err != nil {
		return err
	}

	return c.SendJSON(SubscribeRequest{
		Event: "subscribe",
		Subscription: Subscription{
			Name:  ChannelOpenOrders,
			Token: token,
		},
	})
}

// handleReset forwards the per-disconnect reset. Pending subscription
// state dies with the connection; the broker clears its readiness gate
// here.
func (s *OrderStream) handleReset() {
	if s.hooks.OnReset != nil {
		s.hooks.OnReset()
	}
}

func (s *OrderStream) handleMessage(data []byte) {
	ctrl, msg, err := ParseMessage(data)
	if err != nil {
		s.logger.WithError(err).Warn("Unparseable frame")
		return
	}

	if ctrl != nil {
		if ctrl.Event == "subscriptionStatus" &&
			ctrl.Status == "subscribed" &&
			ctrl.Subscription.Name == ChannelOpenOrders {
			HandleControl(s.logger, ctrl)
			if s.hooks.OnReady != nil {
				s.hooks.OnReady()
			}
			return
		}
		HandleControl(s.logger, ctrl)
		return
	}

	if msg.Channel != ChannelOpenOrders || len(msg.Elements) == 0 {
		s.logger.Warnf("Unrecognized data frame on channel %q", msg.Channel)
		return
	}

	// Payload: [ {txid: fields, ...}, ... ]
	var batches []map[string]wsOrderFields
	if err := json.Unmarshal(msg.Elements[0], &batches); err != nil {
		s.logger.WithError(err).Warn("Unparseable openOrders payload")
		return
	}

	for _, batch := range batches {
		for id, fields := range batch {
			if s.hooks.OnUpdate != nil {
				s.hooks.OnUpdate(id, fields.toUpdate())
			}
		}
	}
}

// wsOrderFields mirrors the openOrders payload; every field is optional.
type wsOrderFields struct {
	Status   *string `json:"status"`
	VolExec  *string `json:"vol_exec"`
	Cost     *string `json:"cost"`
	AvgPrice *string `json:"avg_price"`
	Fee      *string `json:"fee"`
}

func (f wsOrderFields) toUpdate() OrderUpdate {
	u := OrderUpdate{}
	if f.Status != nil {
		u.Status = *f.Status
	}
	u.VolExec = parseOptFloat(f.VolExec)
	u.Cost = parseOptFloat(f.Cost)
	u.AvgPrice = parseOptFloat(f.AvgPrice)
	u.Fee = parseOptFloat(f.Fee)
	return u
}

func parseOptFloat(s *string) *float64 {
	if s == nil {
		return nil
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return nil
	}
	return &f
}
