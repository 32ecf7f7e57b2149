package flow

import (
	"context"
	"testing"
	"time"

	"pmmaker/pkg/types"
)

const (
	testYesToken = "yes-token"
	testNoToken  = "no-token"
)

func newTestEngine(window time.Duration, threshold float64) *OFIEngine {
	return New(testYesToken, testNoToken, window, threshold)
}

func TestAddTradeNoActivityIsClean(t *testing.T) {
	t.Parallel()
	e := newTestEngine(3*time.Second, 50)

	snap := e.Snapshot()
	if snap.Yes.Toxic || snap.No.Toxic {
		t.Error("fresh engine should not be toxic on either side")
	}
}

func TestAddTradeAccumulatesSignedVolume(t *testing.T) {
	t.Parallel()
	e := newTestEngine(3*time.Second, 50)

	e.AddTrade(types.WSLastTradePrice{AssetID: testYesToken, Size: "20", TakerSide: "BUY"})
	e.AddTrade(types.WSLastTradePrice{AssetID: testYesToken, Size: "10", TakerSide: "SELL"})

	snap := e.Snapshot()
	if snap.Yes.Score != 10 {
		t.Errorf("Yes score = %v, want 10 (20 - 10)", snap.Yes.Score)
	}
	if snap.Yes.Toxic {
		t.Error("score of 10 should not exceed threshold of 50")
	}
}

func TestToxicAboveThreshold(t *testing.T) {
	t.Parallel()
	e := newTestEngine(3*time.Second, 50)

	e.AddTrade(types.WSLastTradePrice{AssetID: testYesToken, Size: "80", TakerSide: "BUY"})

	snap := e.Snapshot()
	if !snap.Yes.Toxic {
		t.Error("score of 80 should exceed threshold of 50 and be toxic")
	}
	if snap.No.Toxic {
		t.Error("No side received no trades and should not be toxic")
	}
}

func TestToxicOnSellSideTooMagnitude(t *testing.T) {
	t.Parallel()
	e := newTestEngine(3*time.Second, 50)

	e.AddTrade(types.WSLastTradePrice{AssetID: testNoToken, Size: "80", TakerSide: "SELL"})

	snap := e.Snapshot()
	if snap.No.Score != -80 {
		t.Errorf("No score = %v, want -80", snap.No.Score)
	}
	if !snap.No.Toxic {
		t.Error("|-80| > 50 should be toxic")
	}
}

func TestHeartbeatEvictsStaleVolumeOutsideWindow(t *testing.T) {
	t.Parallel()
	e := newTestEngine(50*time.Millisecond, 50)

	e.AddTrade(types.WSLastTradePrice{AssetID: testYesToken, Size: "80", TakerSide: "BUY"})
	if !e.Snapshot().Yes.Toxic {
		t.Fatal("expected toxic immediately after large trade")
	}

	time.Sleep(100 * time.Millisecond)
	e.Heartbeat()

	snap := e.Snapshot()
	if snap.Yes.Toxic {
		t.Error("toxicity should decay once the window empties via heartbeat")
	}
	if snap.Yes.Score != 0 {
		t.Errorf("score after full eviction = %v, want 0", snap.Yes.Score)
	}
}

func TestRunDrivesHeartbeatUntilCancelled(t *testing.T) {
	t.Parallel()
	e := newTestEngine(30*time.Millisecond, 50)
	e.AddTrade(types.WSLastTradePrice{AssetID: testYesToken, Size: "60", TakerSide: "BUY"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	if e.Snapshot().Yes.Toxic {
		t.Error("heartbeat-driven decay should have cleared toxicity by now")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestWatchFiresOnTrade(t *testing.T) {
	t.Parallel()
	e := newTestEngine(3*time.Second, 50)

	ch := e.Watch()
	e.AddTrade(types.WSLastTradePrice{AssetID: testYesToken, Size: "1", TakerSide: "BUY"})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Watch channel did not fire after a trade")
	}
}
