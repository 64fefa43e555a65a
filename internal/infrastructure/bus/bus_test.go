package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBus(client)
}

func waitEvent(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return Envelope{}
	}
}

func TestBus_PublishAndSubscribe(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, ScanProgressTopic("scan-1"))
	require.NoError(t, err)
	defer sub.Close()

	data, _ := json.Marshal(map[string]string{"step": "COMPILE"})
	require.NoError(t, b.Publish(ctx, ScanProgressTopic("scan-1"), Envelope{
		EventType: "scan:step",
		ScanID:    "scan-1",
		Data:      data,
	}))

	env := waitEvent(t, sub.Events)
	assert.Equal(t, "scan:step", env.EventType)
	assert.Equal(t, "scan-1", env.ScanID)
	assert.False(t, env.Timestamp.IsZero(), "publish stamps missing timestamps")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "COMPILE", payload["step"])
}

func TestBus_LateSubscriberGetsCurrentProgress(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	topic := ValidationProgressTopic("val-1")
	require.NoError(t, b.Publish(ctx, topic, Envelope{
		EventType:    "validation:started",
		ValidationID: "val-1",
	}))
	require.NoError(t, b.Publish(ctx, topic, Envelope{
		EventType:    "validation:executing",
		ValidationID: "val-1",
	}))

	// subscriber joins after both events
	sub, err := b.Subscribe(ctx, topic)
	require.NoError(t, err)
	defer sub.Close()

	primed := waitEvent(t, sub.Events)
	assert.Equal(t, "validation:executing", primed.EventType, "primed with the latest event only")

	require.NoError(t, b.Publish(ctx, topic, Envelope{
		EventType:    "validation:completed",
		ValidationID: "val-1",
	}))
	live := waitEvent(t, sub.Events)
	assert.Equal(t, "validation:completed", live.EventType)
}

func TestBus_PrimingIsPerEntity(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	dataA, _ := json.Marshal(map[string]interface{}{"currentStep": "COMPILE", "progress": 25})
	require.NoError(t, b.Publish(ctx, ScanProgressTopic("scan-a"), Envelope{
		EventType: "scan:progress", ScanID: "scan-a", Data: dataA,
	}))
	dataB, _ := json.Marshal(map[string]interface{}{"currentStep": "ANALYZE", "progress": 60})
	require.NoError(t, b.Publish(ctx, ScanProgressTopic("scan-b"), Envelope{
		EventType: "scan:progress", ScanID: "scan-b", Data: dataB,
	}))

	// a late subscriber to one scan is primed with that scan's state, not
	// whichever scan published last
	sub, err := b.Subscribe(ctx, ScanProgressTopic("scan-a"))
	require.NoError(t, err)
	defer sub.Close()

	primed := waitEvent(t, sub.Events)
	assert.Equal(t, "scan-a", primed.ScanID)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(primed.Data, &payload))
	assert.Equal(t, "COMPILE", payload["currentStep"])
}

func TestBus_CurrentProgress(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	env, err := b.CurrentProgress(ctx, ProtocolRegistrationTopic("proto-1"))
	require.NoError(t, err)
	assert.Nil(t, env, "no event published yet")

	require.NoError(t, b.Publish(ctx, ProtocolRegistrationTopic("proto-1"), Envelope{
		EventType:  "protocol:registered",
		ProtocolID: "proto-1",
	}))

	env, err = b.CurrentProgress(ctx, ProtocolRegistrationTopic("proto-1"))
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "protocol:registered", env.EventType)
	assert.Equal(t, "proto-1", env.ProtocolID)
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	scanSub, err := b.Subscribe(ctx, ScanProgressTopic("s1"))
	require.NoError(t, err)
	defer scanSub.Close()

	require.NoError(t, b.Publish(ctx, TopicPaymentEvents, Envelope{EventType: "payment:completed"}))
	require.NoError(t, b.Publish(ctx, ScanProgressTopic("s1"), Envelope{EventType: "scan:queued", ScanID: "s1"}))

	env := waitEvent(t, scanSub.Events)
	assert.Equal(t, "scan:queued", env.EventType)
}
