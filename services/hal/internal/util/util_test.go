package util

import (
	"testing"
	"time"
)

func TestResetTimer_NegativeFiresSoon(t *testing.T) {
	tm := time.NewTimer(time.Hour)
	ResetTimer(tm, -1)
	select {
	case <-tm.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire for clamped negative duration")
	}
}

func TestResetTimer_AfterFire(t *testing.T) {
	tm := time.NewTimer(time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	ResetTimer(tm, time.Millisecond)
	select {
	case <-tm.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire after reset over an expired timer")
	}
}

func TestClampInt(t *testing.T) {
	if ClampInt(5, 1, 10) != 5 || ClampInt(0, 1, 10) != 1 || ClampInt(99, 1, 10) != 10 {
		t.Fatal("ClampInt bounds wrong")
	}
}
