package httpserver

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAdmission(total, perAddr int) *Admission {
	return NewAdmission(AdmissionConfig{MaxTotal: total, MaxPerAddress: perAddr, Rate: 1000, Burst: 1000})
}

func TestAdmission_GlobalCap(t *testing.T) {
	a := openAdmission(2, 10)

	r1, _ := a.Admit("10.0.0.1")
	r2, _ := a.Admit("10.0.0.2")
	require.NotNil(t, r1)
	require.NotNil(t, r2)

	r3, reason := a.Admit("10.0.0.3")
	assert.Nil(t, r3)
	assert.Equal(t, LimitReasonGlobal, reason)

	r1()
	r3, _ = a.Admit("10.0.0.3")
	assert.NotNil(t, r3)
	assert.Equal(t, 2, a.Open())
}

func TestAdmission_PerAddressCapLeavesGlobalUntouched(t *testing.T) {
	a := openAdmission(10, 1)

	release, _ := a.Admit("10.0.0.1")
	require.NotNil(t, release)

	again, reason := a.Admit("10.0.0.1")
	assert.Nil(t, again)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, 1, a.Open())

	other, _ := a.Admit("10.0.0.2")
	assert.NotNil(t, other)

	release()
	assert.Zero(t, a.openFrom("10.0.0.1"))
	assert.Equal(t, 1, a.Open())
}

func TestAdmission_ReleaseIsIdempotent(t *testing.T) {
	a := openAdmission(10, 10)

	release, _ := a.Admit("10.0.0.1")
	require.NotNil(t, release)
	release()
	release()

	assert.Zero(t, a.Open())
	assert.Zero(t, a.openFrom("10.0.0.1"))
}

func TestAdmission_ConnectRate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewAdmission(AdmissionConfig{MaxTotal: 10, MaxPerAddress: 10, Rate: 1, Burst: 2, Clock: clock})

	_, reason := a.Admit("10.0.0.1")
	assert.Empty(t, reason)
	_, reason = a.Admit("10.0.0.1")
	assert.Empty(t, reason)
	_, reason = a.Admit("10.0.0.1")
	assert.Equal(t, LimitReasonRate, reason)

	_, reason = a.Admit("10.0.0.2")
	assert.Empty(t, reason, "buckets are per address")

	clock.Advance(time.Second)
	_, reason = a.Admit("10.0.0.1")
	assert.Empty(t, reason)
}

func TestAdmission_IdleBucketsAreSwept(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewAdmission(AdmissionConfig{MaxTotal: 10, MaxPerAddress: 10, Rate: 1, Burst: 1, Clock: clock})

	release, _ := a.Admit("10.0.0.1")
	require.NotNil(t, release)
	release()

	clock.Advance(bucketIdleTTL + bucketSweepGap)
	_, _ = a.Admit("10.0.0.2")

	a.mu.Lock()
	_, kept := a.buckets["10.0.0.1"]
	a.mu.Unlock()
	assert.False(t, kept)
}

func TestAdmission_Concurrent(t *testing.T) {
	a := openAdmission(50, 1000)

	var wg sync.WaitGroup
	var admitted atomic.Int32
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, _ := a.Admit("10.0.0.1"); release != nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, admitted.Load())
	assert.Equal(t, 50, a.Open())
}
