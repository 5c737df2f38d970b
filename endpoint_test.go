package ipc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func dur(d time.Duration) *time.Duration { return &d }

// scenario 2: basic round trip.
func TestSendRecvBasicRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.mmap")

	sender, err := Open(path)
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := Open(path)
	require.NoError(t, err)
	defer receiver.Close()

	data := []byte("Hello Worlda")
	n, err := sender.Send(data, false, nil)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	got, err := receiver.Recv(false, nil)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

// scenario 3: buffer-full behavior, forward and wrapped.
func TestSendNonBlockingReturnsZeroWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.mmap")

	sender, err := Open(path, WithPayloadSize(16))
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := Open(path, WithPayloadSize(16))
	require.NoError(t, err)
	defer receiver.Close()

	n, err := sender.Send([]byte("AAAA"), false, nil)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = sender.Send([]byte("BBBB"), false, nil)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = sender.Send([]byte("C"), false, nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = receiver.Recv(false, nil)
	require.NoError(t, err)
	_, err = receiver.Recv(false, nil)
	require.NoError(t, err)

	n, err = sender.Send([]byte("AAAA"), false, nil)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	_, err = receiver.Recv(false, nil)
	require.NoError(t, err)

	n, err = sender.Send([]byte("BBBBBBBBBBBB"), false, nil)
	require.NoError(t, err)
	require.Equal(t, 12, n)

	n, err = sender.Send([]byte("C"), false, nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// scenario 4: payload straddles the ring boundary.
func TestRecvReassemblesStraddlingPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.mmap")

	sender, err := Open(path, WithPayloadSize(32))
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := Open(path, WithPayloadSize(32))
	require.NoError(t, err)
	defer receiver.Close()

	first := make([]byte, 12)
	for i := range first {
		first[i] = 'A'
	}
	n, err := sender.Send(first, false, nil)
	require.NoError(t, err)
	require.Equal(t, 12, n)
	got, err := receiver.Recv(false, nil)
	require.NoError(t, err)
	require.Equal(t, first, got)

	second := make([]byte, 28)
	for i := range second {
		second[i] = 'B'
	}
	n, err = sender.Send(second, false, nil)
	require.NoError(t, err)
	require.Equal(t, 28, n)
	got, err = receiver.Recv(false, nil)
	require.NoError(t, err)
	require.Equal(t, second, got)
}

// scenario 5: the length prefix itself straddles the boundary.
func TestRecvReassemblesStraddlingLengthPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.mmap")

	sender, err := Open(path, WithPayloadSize(32))
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := Open(path, WithPayloadSize(32))
	require.NoError(t, err)
	defer receiver.Close()

	first := make([]byte, 26)
	for i := range first {
		first[i] = 'A'
	}
	n, err := sender.Send(first, false, nil)
	require.NoError(t, err)
	require.Equal(t, 26, n)
	got, err := receiver.Recv(false, nil)
	require.NoError(t, err)
	require.Equal(t, first, got)

	second := make([]byte, 28)
	for i := range second {
		second[i] = 'B'
	}
	n, err = sender.Send(second, false, nil)
	require.NoError(t, err)
	require.Equal(t, 28, n)
	got, err = receiver.Recv(false, nil)
	require.NoError(t, err)
	require.Equal(t, second, got)
}

// scenario 6: empty recv, and a send that must time out.
func TestRecvEmptyAndSendTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.mmap")

	receiver, err := Open(path, WithPayloadSize(4))
	require.NoError(t, err)
	defer receiver.Close()

	got, err := receiver.Recv(false, nil)
	require.NoError(t, err)
	require.Nil(t, got)

	sender, err := Open(path, WithPayloadSize(4), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Send([]byte("AAAAAAAA"), true, dur(20*time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)
}

// empty payloads round-trip (§4.5 edge case).
func TestEmptyPayloadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.mmap")

	sender, err := Open(path)
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := Open(path)
	require.NoError(t, err)
	defer receiver.Close()

	n, err := sender.Send(nil, false, nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	got, err := receiver.Recv(false, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{}, got)
}

// a payload that can never fit the ring's capacity is not rejected up
// front (§9): it simply never reports enough free space, so a
// non-blocking send is a no-op and a blocking send times out exactly like
// any other send that isn't serviced in time.
func TestSendLargerThanCapacityNeverSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.mmap")

	sender, err := Open(path, WithPayloadSize(8), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer sender.Close()

	n, err := sender.Send(make([]byte, 100), false, nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = sender.Send(make([]byte, 100), true, dur(20*time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)
}

// scenario 7: two goroutines standing in for two processes, 10 iterations
// of 512-byte messages. Real process separation is out of scope for the
// core protocol (§12 of SPEC_FULL.md); the SPSC guarantee holds regardless
// of whether the two sides are threads or processes, since correctness
// depends only on one writer/one reader per cursor.
func TestConcurrentSendRecvMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.mmap")

	messages := make([][]byte, 10)
	for i := range messages {
		msg := make([]byte, 512)
		for j := range msg {
			msg[j] = byte('1' + i)
		}
		messages[i] = msg
	}

	var g errgroup.Group

	g.Go(func() error {
		sender, err := Open(path, WithPollInterval(2*time.Millisecond))
		if err != nil {
			return err
		}
		defer sender.Close()
		for _, msg := range messages {
			if _, err := sender.Send(msg, true, nil); err != nil {
				return err
			}
		}
		return nil
	})

	received := make([][]byte, 0, len(messages))
	g.Go(func() error {
		receiver, err := Open(path, WithPollInterval(2*time.Millisecond))
		if err != nil {
			return err
		}
		defer receiver.Close()
		for range messages {
			msg, err := receiver.Recv(true, nil)
			if err != nil {
				return err
			}
			received = append(received, msg)
		}
		return nil
	})

	require.NoError(t, g.Wait())
	require.Equal(t, messages, received)
}
