package session

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpAddr(ip string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestRegisterOutcomes(t *testing.T) {
	r := New()

	out, err := r.Register("alice", tcpAddr("10.0.0.1", 5000))
	require.NoError(t, err)
	assert.Equal(t, Accepted, out)

	// same host, different source port
	out, err = r.Register("alice", tcpAddr("10.0.0.1", 6000))
	require.NoError(t, err)
	assert.Equal(t, Rejoined, out)

	out, err = r.Register("alice", tcpAddr("10.0.0.2", 5000))
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.Equal(t, Rejected, out)

	out, err = r.Register("bob", tcpAddr("10.0.0.2", 5000))
	require.NoError(t, err)
	assert.Equal(t, Accepted, out)

	assert.Equal(t, 2, r.Len())
}

func TestRejoinDoesNotRebind(t *testing.T) {
	r := New()
	_, err := r.Register("alice", tcpAddr("10.0.0.1", 1))
	require.NoError(t, err)
	_, err = r.Register("alice", tcpAddr("10.0.0.1", 2))
	require.NoError(t, err)

	entries := r.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.1", entries[0].Origin)
}

func TestRejectedLeavesRegistryUnchanged(t *testing.T) {
	r := New()
	_, err := r.Register("alice", tcpAddr("10.0.0.1", 1))
	require.NoError(t, err)
	before := r.Snapshot()

	_, err = r.Register("alice", tcpAddr("10.0.0.9", 1))
	require.Error(t, err)
	assert.Equal(t, before, r.Snapshot())
}

func TestConcurrentRegisterSingleWinner(t *testing.T) {
	r := New()
	const n = 64

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// every caller comes from its own host
			out, _ := r.Register("carol", tcpAddr(net.IPv4(10, 1, byte(i/256), byte(i%256)).String(), 1000))
			mu.Lock()
			defer mu.Unlock()
			switch out {
			case Accepted:
				accepted++
			case Rejected:
				rejected++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, rejected)
	assert.Equal(t, 1, r.Len())
}

func TestSnapshotSorted(t *testing.T) {
	r := New()
	for _, name := range []string{"zed", "alice", "mike"} {
		_, err := r.Register(name, tcpAddr("127.0.0.1", 1))
		require.NoError(t, err)
	}
	var names []string
	for _, e := range r.Snapshot() {
		names = append(names, e.Username)
	}
	assert.Equal(t, []string{"alice", "mike", "zed"}, names)
}

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

func TestOriginIP(t *testing.T) {
	assert.Equal(t, "127.0.0.1", OriginIP(tcpAddr("127.0.0.1", 80)))
	assert.Equal(t, "::1", OriginIP(tcpAddr("::1", 80)))
	assert.Equal(t, "192.168.1.4", OriginIP(pipeAddr("192.168.1.4:9000")))
	assert.Equal(t, "pipe", OriginIP(pipeAddr("pipe")))
	assert.Equal(t, "", OriginIP(nil))
}
