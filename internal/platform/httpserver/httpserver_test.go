package httpserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesConfiguredHeaderTimeout(t *testing.T) {
	srv := New(":0", nil, 7*time.Second)
	assert.Equal(t, 7*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 2*time.Minute, srv.IdleTimeout)
}

func TestNewDefaultsZeroHeaderTimeout(t *testing.T) {
	srv := New(":0", nil, 0)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
}
