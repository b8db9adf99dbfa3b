package searchd

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestNewRequiresAddresses(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("want error without addresses")
	}
}

func TestNewDoesNotDial(t *testing.T) {
	// The address points nowhere; construction must still succeed because
	// the connection is lazy.
	c, err := New(
		WithAddresses("http://127.0.0.1:1"),
		WithBasicAuth("elastic", "secret"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if ti := c.Index(context.Background(), "acme", "invoice"); ti == nil {
		t.Fatal("Index must hand out a usable view regardless of cluster state")
	}
}
