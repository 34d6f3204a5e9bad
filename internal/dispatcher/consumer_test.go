package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/newsletter-dispatch/internal/models"
	"github.com/blockedby/newsletter-dispatch/internal/nats"
)

type fakeSource struct {
	spec    nats.ConsumerSpec
	handler func(nats.Message)
	stopped bool
	err     error
}

func (f *fakeSource) Subscribe(_ context.Context, spec nats.ConsumerSpec, handler func(nats.Message)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.spec = spec
	f.handler = handler
	return func() { f.stopped = true }, nil
}

type fakeMsg struct {
	data []byte

	mu       sync.Mutex
	acked    bool
	termed   bool
	nakDelay *time.Duration
	done     chan struct{}
}

func newFakeMsg(t *testing.T, v any) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &fakeMsg{data: data, done: make(chan struct{})}
}

func (m *fakeMsg) Data() []byte { return m.data }

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	close(m.done)
	return nil
}

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nakDelay = &d
	close(m.done)
	return nil
}

func (m *fakeMsg) Term() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.termed = true
	close(m.done)
	return nil
}

func (m *fakeMsg) InProgress() error { return nil }

func (m *fakeMsg) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not settled")
	}
}

type dispatchFunc func(ctx context.Context, id int64) Outcome

func (f dispatchFunc) Dispatch(ctx context.Context, id int64) Outcome { return f(ctx, id) }

func job(id int64) models.DispatchJob {
	return models.DispatchJob{JobID: uuid.New(), ContentID: id, EnqueuedAt: testNow}
}

func startConsumer(t *testing.T, exec Dispatcher, workers int) (*Consumer, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	c := NewConsumer(src, exec, ConsumerConfig{Workers: workers, HardTimeout: time.Hour, MaxRetries: 3}, nopLog())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, src
}

func TestConsumer_Spec(t *testing.T) {
	_, src := startConsumer(t, dispatchFunc(func(context.Context, int64) Outcome { return Outcome{} }), 4)

	assert.Equal(t, models.JobsStream, src.spec.Stream)
	assert.Equal(t, models.DispatchConsumer, src.spec.Durable)
	assert.Equal(t, models.DispatchSubject, src.spec.Subject)
	assert.Equal(t, 4, src.spec.MaxAckPending)
	assert.Equal(t, time.Hour, src.spec.AckWait)
	assert.Equal(t, 5, src.spec.MaxDeliver)
}

func TestConsumer_StartTwice(t *testing.T) {
	c, _ := startConsumer(t, dispatchFunc(func(context.Context, int64) Outcome { return Outcome{} }), 1)

	assert.Error(t, c.Start(context.Background()))
}

func TestConsumer_SubscribeError(t *testing.T) {
	c := NewConsumer(&fakeSource{err: errors.New("stream not found")}, nil, ConsumerConfig{}, nopLog())

	err := c.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream not found")
}

func TestConsumer_Settle(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		ack     bool
		nak     bool
	}{
		{name: "sent", outcome: Outcome{Kind: OutcomeSent}, ack: true},
		{name: "failed", outcome: Outcome{Kind: OutcomeFailed}, ack: true},
		{name: "skipped", outcome: Outcome{Kind: OutcomeSkipped}, ack: true},
		{name: "not found", outcome: Outcome{Kind: OutcomeNotFound}, ack: true},
		{name: "infra retry", outcome: Outcome{Kind: OutcomeInfraFailure, Retry: true, RetryAfter: time.Minute}, nak: true},
		{name: "infra abandoned", outcome: Outcome{Kind: OutcomeInfraFailure}, ack: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID int64
			_, src := startConsumer(t, dispatchFunc(func(_ context.Context, id int64) Outcome {
				gotID = id
				return tt.outcome
			}), 1)

			msg := newFakeMsg(t, job(42))
			src.handler(msg)
			msg.wait(t)

			assert.Equal(t, int64(42), gotID)
			assert.Equal(t, tt.ack, msg.acked)
			if tt.nak {
				require.NotNil(t, msg.nakDelay)
				assert.Equal(t, tt.outcome.RetryAfter, *msg.nakDelay)
			} else {
				assert.Nil(t, msg.nakDelay)
			}
		})
	}
}

func TestConsumer_PoisonMessage(t *testing.T) {
	var calls atomic.Int32
	_, src := startConsumer(t, dispatchFunc(func(context.Context, int64) Outcome {
		calls.Add(1)
		return Outcome{}
	}), 1)

	garbage := &fakeMsg{data: []byte("not json"), done: make(chan struct{})}
	src.handler(garbage)
	garbage.wait(t)

	zero := newFakeMsg(t, models.DispatchJob{JobID: uuid.New()})
	src.handler(zero)
	zero.wait(t)

	assert.True(t, garbage.termed)
	assert.True(t, zero.termed)
	assert.Zero(t, calls.Load())
}

func TestConsumer_PanicIsRetried(t *testing.T) {
	_, src := startConsumer(t, dispatchFunc(func(context.Context, int64) Outcome {
		panic("unexpected")
	}), 1)

	msg := newFakeMsg(t, job(1))
	src.handler(msg)
	msg.wait(t)

	require.NotNil(t, msg.nakDelay)
	assert.False(t, msg.acked)
}

func TestConsumer_BoundsWorkers(t *testing.T) {
	const workers = 2
	var running, peak atomic.Int32
	release := make(chan struct{})

	c, src := startConsumer(t, dispatchFunc(func(context.Context, int64) Outcome {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return Outcome{Kind: OutcomeSent}
	}), workers)

	msgs := make([]*fakeMsg, 5)
	for i := range msgs {
		msgs[i] = newFakeMsg(t, job(int64(i+1)))
	}
	delivered := make(chan struct{})
	go func() {
		// handler blocks while all workers are busy
		for _, m := range msgs {
			src.handler(m)
		}
		close(delivered)
	}()

	require.Eventually(t, func() bool { return running.Load() == workers }, time.Second, 5*time.Millisecond)
	close(release)
	<-delivered

	require.NoError(t, c.Stop(context.Background()))
	for _, m := range msgs {
		assert.True(t, m.acked)
	}
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.True(t, src.stopped)
}

func TestConsumer_StopWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	c, src := startConsumer(t, dispatchFunc(func(ctx context.Context, _ int64) Outcome {
		<-release
		assert.NoError(t, ctx.Err(), "dispatch context outlives Stop")
		return Outcome{Kind: OutcomeSent}
	}), 1)

	msg := newFakeMsg(t, job(1))
	src.handler(msg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Stop(ctx), "in-flight dispatch still running")

	close(release)
	require.NoError(t, c.Stop(context.Background()))
	msg.wait(t)
	assert.True(t, msg.acked)
}
