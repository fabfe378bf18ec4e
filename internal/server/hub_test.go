package server

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/protocol"
)

var testOrigin = &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}

func textMessage(sender, text string) protocol.ChatMessage {
	return protocol.NewUserMessage(sender, text, time.Unix(1700000000, 0))
}

func TestHubFanOut(t *testing.T) {
	h := NewHub(8)
	subs := make([]*Subscription, 5)
	for i := range subs {
		subs[i] = h.Subscribe()
	}

	h.Publish(textMessage("alice", "hi"), testOrigin)

	for i, s := range subs {
		select {
		case b := <-s.C():
			assert.Equal(t, "hi", b.Message.Text, "subscriber %d", i)
			assert.Equal(t, testOrigin, b.Origin)
		default:
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestHubPreservesPublishOrder(t *testing.T) {
	h := NewHub(100)
	a, b := h.Subscribe(), h.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				h.Publish(textMessage(fmt.Sprintf("p%d", p), fmt.Sprint(i)), testOrigin)
			}
		}(p)
	}
	wg.Wait()

	var seqA, seqB []string
	for i := 0; i < 80; i++ {
		ma, mb := <-a.C(), <-b.C()
		seqA = append(seqA, ma.Message.Sender+"/"+ma.Message.Text)
		seqB = append(seqB, mb.Message.Sender+"/"+mb.Message.Text)
	}
	assert.Equal(t, seqA, seqB)
}

func TestHubDropsOldestForLaggingSubscriber(t *testing.T) {
	h := NewHub(3)
	slow := h.Subscribe()
	fast := h.Subscribe()

	var fastTexts []string
	for i := 1; i <= 5; i++ {
		h.Publish(textMessage("alice", fmt.Sprint(i)), testOrigin)
		b := <-fast.C()
		fastTexts = append(fastTexts, b.Message.Text)
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, fastTexts)
	assert.Zero(t, fast.Dropped())

	var texts []string
	for b := range drain(slow) {
		texts = append(texts, b.Message.Text)
	}
	assert.Equal(t, []string{"3", "4", "5"}, texts)
	assert.Equal(t, uint64(2), slow.Dropped())

	stats := h.Stats()
	assert.Equal(t, uint64(5), stats.Published)
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, 2, stats.Subscribers)
}

func drain(s *Subscription) <-chan Broadcast {
	out := make(chan Broadcast, cap(s.ch))
	for {
		select {
		case b := <-s.C():
			out <- b
		default:
			close(out)
			return out
		}
	}
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub(4)
	s := h.Subscribe()
	assert.Equal(t, 1, h.Stats().Subscribers)

	s.Close()
	s.Close()
	assert.Equal(t, 0, h.Stats().Subscribers)

	_, ok := <-s.C()
	assert.False(t, ok)

	// publishing with nobody attached must not block or panic
	h.Publish(textMessage("alice", "x"), testOrigin)
}

func TestHubClose(t *testing.T) {
	h := NewHub(0)
	assert.Equal(t, DefaultHubCapacity, h.Stats().Capacity)

	s := h.Subscribe()
	h.Close()
	_, ok := <-s.C()
	assert.False(t, ok)

	late := h.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)

	h.Publish(textMessage("alice", "x"), testOrigin)
	assert.Zero(t, h.Stats().Published)
	s.Close()
}

func TestSubscribeSeesOnlyLaterMessages(t *testing.T) {
	h := NewHub(4)
	h.Publish(textMessage("alice", "before"), testOrigin)
	s := h.Subscribe()
	h.Publish(textMessage("alice", "after"), testOrigin)

	b := <-s.C()
	require.Equal(t, "after", b.Message.Text)
	select {
	case extra := <-s.C():
		t.Fatalf("unexpected message %q", extra.Message.Text)
	default:
	}
}
