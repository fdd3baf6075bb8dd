package udpwake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeWaker struct{ woken chan struct{} }

func newFakeWaker() *fakeWaker { return &fakeWaker{woken: make(chan struct{}, 1)} }

func (f *fakeWaker) Wake() {
	select {
	case f.woken <- struct{}{}:
	default:
	}
}

type fakeInvalidator struct{ invalidated chan struct{} }

func newFakeInvalidator() *fakeInvalidator { return &fakeInvalidator{invalidated: make(chan struct{}, 1)} }

func (f *fakeInvalidator) Invalidate() {
	select {
	case f.invalidated <- struct{}{}:
	default:
	}
}

const testGroup = "239.192.77.77"

func TestListenerDispatchesCommand(t *testing.T) {
	cmd := newFakeWaker()
	l, err := NewListener("receiver", testGroup, 23771, cmd, nil, nil)
	require.NoError(t, err)
	defer l.Stop()
	l.Start()

	sender, err := NewSender("sender", testGroup, 23771)
	require.NoError(t, err)
	defer sender.Close()

	sender.Notify("receiver")

	select {
	case <-cmd.woken:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not dispatch command wake")
	}
}

func TestListenerIgnoresSelf(t *testing.T) {
	cmd := newFakeWaker()
	l, err := NewListener("same-id", testGroup, 23772, cmd, nil, nil)
	require.NoError(t, err)
	defer l.Stop()
	l.Start()

	sender, err := NewSender("same-id", testGroup, 23772)
	require.NoError(t, err)
	defer sender.Close()

	sender.Notify("same-id")

	select {
	case <-cmd.woken:
		t.Fatal("listener dispatched a self-sent datagram")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestListenerDispatchesJobInvalidate(t *testing.T) {
	job := newFakeInvalidator()
	l, err := NewListener("receiver", testGroup, 23773, nil, nil, job)
	require.NoError(t, err)
	defer l.Stop()
	l.Start()

	sender, err := NewSender("sender", testGroup, 23773)
	require.NoError(t, err)
	defer sender.Close()

	sender.NotifyJob()

	select {
	case <-job.invalidated:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not dispatch job invalidate")
	}
}
