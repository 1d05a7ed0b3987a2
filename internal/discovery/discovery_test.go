package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	shutdown chan struct{}
}

func (f *fakeServer) Shutdown() { close(f.shutdown) }

func TestTXTRecords(t *testing.T) {
	assert.Equal(t, []string{"path=/", "version=1.9.0", "api=0.1"},
		TXTRecords(Config{Version: "1.9.0", API: "0.1"}))
	assert.Equal(t, []string{"path=/octo"}, TXTRecords(Config{Path: "/octo"}))
}

func TestRunRegistersAndShutsDown(t *testing.T) {
	srv := &fakeServer{shutdown: make(chan struct{})}
	var gotInstance, gotService string
	var gotPort int
	var gotText []string

	a := NewAdvertiser(Config{InstanceName: "Snapmaker Proxy", Port: 8080, Version: "1.9.0"}, nil)
	a.register = func(instance, service, domain string, port int, text []string) (shutdowner, error) {
		gotInstance, gotService, gotPort, gotText = instance, service, port, text
		return srv, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, "Snapmaker Proxy", gotInstance)
	assert.Equal(t, ServiceType, gotService)
	assert.Equal(t, 8080, gotPort)
	assert.Contains(t, gotText, "version=1.9.0")
	select {
	case <-srv.shutdown:
	default:
		t.Fatal("service not shut down")
	}
}

func TestRunRegistrationFailure(t *testing.T) {
	a := NewAdvertiser(Config{InstanceName: "x", Port: 8080}, nil)
	a.register = func(string, string, string, int, []string) (shutdowner, error) {
		return nil, errors.New("no multicast")
	}
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no multicast")
}

func TestRunRejectsBadPort(t *testing.T) {
	a := NewAdvertiser(Config{InstanceName: "x"}, nil)
	assert.Error(t, a.Run(context.Background()))
}
