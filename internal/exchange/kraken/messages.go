package kraken

import (
	"encoding/json"
	"errors"

	"github.com/wonny/tides/pkg/logger"
)

// ErrNotConnected is returned when a frame is sent on a down connection.
var ErrNotConnected = errors.New("stream not connected")

// Stream channel names.
const (
	ChannelOpenOrders = "openOrders"
	ChannelOHLC       = "ohlc"
	ChannelTrade      = "trade"
)

// SubscribeRequest is the outbound subscription frame:
// {event:"subscribe", subscription:{name, token?|interval?}, pair?}.
type SubscribeRequest struct {
	Event        string       `json:"event"`
	Pair         []string     `json:"pair,omitempty"`
	Subscription Subscription `json:"subscription"`
}

// Subscription names the channel and carries channel-specific options.
type Subscription struct {
	Name     string `json:"name"`
	Token    string `json:"token,omitempty"`
	Interval int    `json:"interval,omitempty"`
}

// ControlMessage is any inbound {event:...} frame: system status,
// subscription acks, heartbeats.
type ControlMessage struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	Pair         string `json:"pair"`
	ErrorMessage string `json:"errorMessage"`
	Subscription struct {
		Name string `json:"name"`
	} `json:"subscription"`
}

// DataMessage is an inbound array frame. The channel name sits second from
// the end; public channels append the pair last.
type DataMessage struct {
	Elements []json.RawMessage
	Channel  string
	Pair     string
}

// ParseMessage classifies an inbound frame. Exactly one of the returns is
// non-nil on success.
func ParseMessage(data []byte) (*ControlMessage, *DataMessage, error) {
	trimmed := firstByte(data)
	if trimmed == '{' {
		var ctrl ControlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil {
			return nil, nil, err
		}
		return &ctrl, nil, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, nil, err
	}

	msg := &DataMessage{Elements: elements}
	if len(elements) >= 2 {
		var name string
		if err := json.Unmarshal(elements[len(elements)-2], &name); err == nil {
			msg.Channel = name
		}
		var pair string
		if err := json.Unmarshal(elements[len(elements)-1], &pair); err == nil {
			msg.Pair = pair
		}
	}
	return nil, msg, nil
}

func firstByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

// HandleControl logs status, subscription-ack and heartbeat frames
// uniformly. Unrecognized frames are logged, never fatal.
func HandleControl(log *logger.Logger, msg *ControlMessage) {
	switch msg.Event {
	case "systemStatus":
		log.Debugf("System status: %s", msg.Status)
	case "subscriptionStatus":
		if msg.Status == "error" {
			log.Errorf("Subscription to %s failed: %s", msg.Subscription.Name, msg.ErrorMessage)
			return
		}
		log.Debugf("Subscription status to %s: %s", msg.Subscription.Name, msg.Status)
	case "heartbeat":
		log.Debug("<3")
	default:
		log.Warnf("Unrecognized message event: %s", msg.Event)
	}
}
