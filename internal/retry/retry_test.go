package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Class
	}{
		{429, ClassRateLimited},
		{503, ClassRateLimited},
		{500, ClassServerTransient},
		{502, ClassServerTransient},
		{504, ClassServerTransient},
		{408, ClassTransport},
		{404, ClassClientFatal},
		{400, ClassClientFatal},
		{200, ClassTransport},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.status))
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ClassCancelled, ClassifyError(context.Canceled))
	assert.Equal(t, ClassCancelled, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, ClassTransport, ClassifyError(assertErr{}))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestClass_Retryable(t *testing.T) {
	assert.True(t, ClassRateLimited.Retryable())
	assert.True(t, ClassServerTransient.Retryable())
	assert.True(t, ClassTransport.Retryable())
	assert.False(t, ClassClientFatal.Retryable())
	assert.False(t, ClassCancelled.Retryable())
}

func TestDelay_MonotonicGrowthWithinClass(t *testing.T) {
	// Doubling classes must grow even after subtracting the max jitter.
	d0 := Delay(ClassRateLimited, 0)
	d1 := Delay(ClassRateLimited, 1)
	assert.GreaterOrEqual(t, d0, 2000*time.Millisecond)
	assert.Less(t, d0, 3000*time.Millisecond)
	assert.GreaterOrEqual(t, d1, 4000*time.Millisecond)
	assert.Less(t, d1, 5000*time.Millisecond)
}

func TestDelay_TransportIsLinear(t *testing.T) {
	d0 := Delay(ClassTransport, 0)
	d1 := Delay(ClassTransport, 1)
	assert.GreaterOrEqual(t, d0, 1000*time.Millisecond)
	assert.Less(t, d0, 1500*time.Millisecond)
	assert.GreaterOrEqual(t, d1, 2000*time.Millisecond)
	assert.Less(t, d1, 2500*time.Millisecond)
}

func TestDelay_ClientFatalAndCancelledAreZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), Delay(ClassClientFatal, 0))
	assert.Equal(t, time.Duration(0), Delay(ClassCancelled, 0))
}

func TestInterruptibleSleep_CompletesNormally(t *testing.T) {
	ctx := context.Background()
	start := time.Now()
	err := InterruptibleSleep(ctx, 30*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestInterruptibleSleep_InterruptedWithin100ms(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := InterruptibleSleep(ctx, 5*time.Second)
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestInterruptibleSleep_ZeroDuration(t *testing.T) {
	err := InterruptibleSleep(context.Background(), 0)
	assert.NoError(t, err)
}
