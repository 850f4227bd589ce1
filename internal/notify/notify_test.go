package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	topics       []string
	qos          []byte
	err          error
	hang         bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, _ interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.qos = append(c.qos, qos)
	tok := &fakeToken{done: make(chan struct{}), err: c.err}
	if !c.hang {
		close(tok.done)
	}
	return tok
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTT_Publish(t *testing.T) {
	fc := &fakeClient{}
	m := &MQTT{client: fc, logger: zap.NewNop()}

	require.NoError(t, m.Publish(context.Background(), "mealdash/donations/offers", []byte(`{}`)))
	assert.Equal(t, []string{"mealdash/donations/offers"}, fc.topics)
	assert.Equal(t, []byte{1}, fc.qos)

	m.Close()
	assert.True(t, fc.disconnected)
}

func TestMQTT_PublishErrors(t *testing.T) {
	m := &MQTT{client: &fakeClient{err: errors.New("not connected")}, logger: zap.NewNop()}
	assert.ErrorContains(t, m.Publish(context.Background(), "t", []byte("x")), "not connected")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m = &MQTT{client: &fakeClient{hang: true}, logger: zap.NewNop()}
	assert.ErrorIs(t, m.Publish(ctx, "t", []byte("x")), context.Canceled)
}

func TestLog_Publish(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var n Notifier = Log{Logger: zap.New(core)}

	require.NoError(t, n.Publish(context.Background(), "offers", []byte(`{"foodItem":"Rice"}`)))
	assert.Equal(t, 1, logs.Len())
	assert.Error(t, n.Publish(context.Background(), "offers", nil))
	n.Close()
}
