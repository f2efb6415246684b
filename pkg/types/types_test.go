package types

import (
	"encoding/json"
	"testing"
)

func TestSideJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Buy)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"BUY"` {
		t.Errorf("marshal = %s", data)
	}

	var s Side
	if err := json.Unmarshal([]byte(`"SELL"`), &s); err != nil {
		t.Fatal(err)
	}
	if s != Sell {
		t.Errorf("unmarshal = %d", s)
	}
	if err := json.Unmarshal([]byte(`"SHORT"`), &s); err == nil {
		t.Error("unknown side should fail")
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Fatal("Opposite must flip the side")
	}
	if Side(0).Valid() {
		t.Error("zero side must be invalid")
	}
}

func TestMsgTypeMutating(t *testing.T) {
	t.Parallel()

	mutating := []MsgType{MsgLimitOrder, MsgMarketOrder, MsgCancelOrder, MsgModifyOrder}
	for _, mt := range mutating {
		if !mt.Mutating() {
			t.Errorf("%s should be mutating", mt)
		}
	}
	passive := []MsgType{MsgQuerySpread, MsgQueryLast, MsgOrderAccepted, MsgOrderExecuted, MsgMarketData, MsgWakeup}
	for _, mt := range passive {
		if mt.Mutating() {
			t.Errorf("%s should not be mutating", mt)
		}
	}
}
