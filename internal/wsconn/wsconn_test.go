package wsconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffExponentialWithCap(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Wait(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Duration(float64(b.Max)*1.3)+time.Millisecond)
	}
}

func TestBackoffZeroWhenDisabled(t *testing.T) {
	b := Backoff{Base: 0, Max: 0}
	assert.Equal(t, time.Duration(0), b.Wait(1))
}

func TestConnectionNotConnectedRejectsSend(t *testing.T) {
	c := New("test", "wss://example.invalid/ws")
	err := c.SendJSONMessage(map[string]string{"a": "b"})
	assert.Error(t, err)
}
