package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/ports"
)

type poolStub struct {
	mu     sync.Mutex
	events []nostr.Event
	pubErr error
}

func (p *poolStub) PublishMany(_ context.Context, _ []string, ev nostr.Event) chan nostr.PublishResult {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	ch := make(chan nostr.PublishResult, 1)
	if p.pubErr != nil {
		ch <- nostr.PublishResult{Error: p.pubErr}
	}
	close(ch)
	return ch
}

func TestNotifyEncryptsForRecipient(t *testing.T) {
	senderSK := nostr.GeneratePrivateKey()
	recipientSK := nostr.GeneratePrivateKey()
	recipientPK, err := nostr.GetPublicKey(recipientSK)
	require.NoError(t, err)

	pool := &poolStub{}
	n, err := NewWithPool(config.NostrConfig{PrivateKey: senderSK, Relays: []string{"wss://r"}, Recipients: []string{recipientPK}}, pool)
	require.NoError(t, err)

	err = n.Notify(context.Background(), ports.Notification{RunID: "r1", Status: "completed", Title: "Run finished", Body: "all good"})
	require.NoError(t, err)
	require.Len(t, pool.events, 1)

	ev := pool.events[0]
	assert.Equal(t, nostr.KindEncryptedDirectMessage, ev.Kind)
	assert.Equal(t, n.PubKey(), ev.PubKey)
	ok, err := ev.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)

	secret, err := nip04.ComputeSharedSecret(n.PubKey(), recipientSK)
	require.NoError(t, err)
	plain, err := nip04.Decrypt(ev.Content, secret)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plain, "Run finished"))
	assert.Contains(t, plain, "run: r1")
	assert.Contains(t, plain, "all good")
}

func TestNotifyPropagatesPublishError(t *testing.T) {
	recipientPK, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	pool := &poolStub{pubErr: errors.New("relay down")}
	n, err := NewWithPool(config.NostrConfig{PrivateKey: nostr.GeneratePrivateKey(), Recipients: []string{recipientPK}}, pool)
	require.NoError(t, err)
	err = n.Notify(context.Background(), ports.Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay down")
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := NewWithPool(config.NostrConfig{PrivateKey: "zz"}, &poolStub{})
	assert.Error(t, err)
	_, err = NewWithPool(config.NostrConfig{PrivateKey: nostr.GeneratePrivateKey()}, nil)
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "Title", Format(ports.Notification{Title: "Title"}))
	assert.Equal(t, "T\nrun: 1\nstatus: failed\n\nboom", Format(ports.Notification{Title: "T", RunID: "1", Status: "failed", Body: "boom"}))
}
