package mq

import (
	"context"
	"testing"

	"github.com/jjudge-oj/identity/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	channel string
	data    []byte
	attrs   map[string]string
	closed  bool
}

func (b *recordingBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.channel, b.data, b.attrs = channel, data, attrs
	return "msg-1", nil
}

func (b *recordingBackend) Close() error {
	b.closed = true
	return nil
}

func TestMQ_DelegatesToBackend(t *testing.T) {
	backend := &recordingBackend{}
	q := New(backend)

	id, err := q.Publish(context.Background(), "resets", []byte(`{}`), map[string]string{"type": "x"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "resets", backend.channel)
	assert.Equal(t, "x", backend.attrs["type"])

	require.NoError(t, q.Close())
	assert.True(t, backend.closed)
}

func TestOpen_None(t *testing.T) {
	for _, name := range []string{"", "none"} {
		q, err := Open(context.Background(), config.ResetNotifyConfig{Backend: name})
		require.NoError(t, err)
		assert.Nil(t, q)
	}
}

func TestOpen_RequiresSettings(t *testing.T) {
	_, err := Open(context.Background(), config.ResetNotifyConfig{Backend: "rabbitmq"})
	assert.ErrorContains(t, err, "rabbitmq url is required")

	_, err = Open(context.Background(), config.ResetNotifyConfig{Backend: "pubsub"})
	assert.ErrorContains(t, err, "pubsub project id is required")

	_, err = Open(context.Background(), config.ResetNotifyConfig{Backend: "kafka"})
	assert.Error(t, err)
}
