package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
	pubErr    error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	f.streamed[stream] = append(f.streamed[stream], payload)
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestRiskSink_PublishesAndStreamsActionableKinds(t *testing.T) {
	bus := newFakeBus()
	sink := NewRiskSink(bus, "", "")

	ctx := context.Background()
	sig := domain.RiskSignal{ID: "a", Kind: domain.SignalPositionCritical, Snapshot: domain.RiskSnapshot{PositionID: "p1"}}
	require.NoError(t, sink.Emit(ctx, sig))
	require.NoError(t, sink.Emit(ctx, domain.RiskSignal{ID: "b", Kind: domain.SignalRiskUpdated}))

	require.Len(t, bus.published["hedgerisk.signal.positionCritical"], 1)
	require.Len(t, bus.published["hedgerisk.signal.riskUpdated"], 1)
	require.Len(t, bus.streamed["hedgerisk:signals"], 1)

	var got domain.RiskSignal
	require.NoError(t, json.Unmarshal(bus.streamed["hedgerisk:signals"][0], &got))
	assert.Equal(t, "p1", got.Snapshot.PositionID)
	assert.Equal(t, domain.SignalPositionCritical, got.Kind)
}

func TestRiskSink_PublishErrorSkipsStream(t *testing.T) {
	bus := newFakeBus()
	bus.pubErr = errors.New("conn refused")
	sink := NewRiskSink(bus, "risk", "risk:stream")

	err := sink.Emit(context.Background(), domain.RiskSignal{Kind: domain.SignalPositionInDanger})
	require.Error(t, err)
	assert.Empty(t, bus.streamed)
	assert.Equal(t, "risk:stream", sink.Stream())
}
