package kraken

import (
	"testing"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantCtrl    bool
		wantChannel string
		wantPair    string
		wantErr     bool
	}{
		{
			name:     "control frame",
			data:     `{"event":"systemStatus","status":"online"}`,
			wantCtrl: true,
		},
		{
			name:     "control frame with leading whitespace",
			data:     "\n  {\"event\":\"heartbeat\"}",
			wantCtrl: true,
		},
		{
			name:        "public data frame",
			data:        `[42, [["100.5","0.1","1704067200.123","b","m",""]], "trade", "XBT/USD"]`,
			wantChannel: "trade",
			wantPair:    "XBT/USD",
		},
		{
			name:        "private data frame",
			data:        `[[{"TXID":{"status":"open"}}], "openOrders", {"sequence":1}]`,
			wantChannel: "openOrders",
		},
		{
			name:    "garbage",
			data:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, msg, err := ParseMessage([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantCtrl {
				if ctrl == nil {
					t.Fatal("expected a control message")
				}
				return
			}
			if msg == nil {
				t.Fatal("expected a data message")
			}
			if msg.Channel != tt.wantChannel {
				t.Errorf("Channel = %q, want %q", msg.Channel, tt.wantChannel)
			}
			if tt.wantPair != "" && msg.Pair != tt.wantPair {
				t.Errorf("Pair = %q, want %q", msg.Pair, tt.wantPair)
			}
		})
	}
}
