// Package notify delivers agent run notifications as encrypted Nostr DMs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/ports"
)

// Pool abstracts SimplePool for testability.
type Pool interface {
	PublishMany(ctx context.Context, relays []string, ev nostr.Event) chan nostr.PublishResult
}

var _ ports.Notifier = (*Nostr)(nil)

// Nostr sends each notification to every configured recipient.
type Nostr struct {
	pool       Pool
	privKey    string
	pubKey     string
	relays     []string
	recipients []string

	secretMu sync.Mutex
	secrets  map[string][]byte
}

// New connects a SimplePool to the configured relays.
func New(ctx context.Context, cfg config.NostrConfig) (*Nostr, error) {
	return NewWithPool(cfg, nostr.NewSimplePool(ctx))
}

// NewWithPool builds a notifier on top of an existing pool.
func NewWithPool(cfg config.NostrConfig, pool Pool) (*Nostr, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	pub, err := nostr.GetPublicKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("derive pubkey: %w", err)
	}
	recipients := make([]string, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		recipients = append(recipients, strings.ToLower(r))
	}
	return &Nostr{
		pool:       pool,
		privKey:    cfg.PrivateKey,
		pubKey:     pub,
		relays:     cfg.Relays,
		recipients: recipients,
		secrets:    make(map[string][]byte),
	}, nil
}

// PubKey is the key notifications are signed with.
func (n *Nostr) PubKey() string { return n.pubKey }

// Notify DMs every recipient and returns the first failure.
func (n *Nostr) Notify(ctx context.Context, msg ports.Notification) error {
	text := Format(msg)
	var firstErr error
	for _, to := range n.recipients {
		if err := n.send(ctx, to, text); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("notify %s: %w", to, err)
		}
	}
	return firstErr
}

// Format renders a notification as DM text.
func Format(msg ports.Notification) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	if msg.RunID != "" {
		fmt.Fprintf(&b, "\nrun: %s", msg.RunID)
	}
	if msg.Status != "" {
		fmt.Fprintf(&b, "\nstatus: %s", msg.Status)
	}
	if msg.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Body)
	}
	return b.String()
}

func (n *Nostr) send(ctx context.Context, toPubKey, message string) error {
	secret, err := n.sharedSecret(toPubKey)
	if err != nil {
		return err
	}

	enc, err := nip04.Encrypt(message, secret)
	if err != nil {
		return fmt.Errorf("encrypt DM: %w", err)
	}

	ev := nostr.Event{
		PubKey:    n.pubKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{nostr.Tag{"p", toPubKey}},
		Content:   enc,
	}
	if err := ev.Sign(n.privKey); err != nil {
		return fmt.Errorf("sign DM: %w", err)
	}

	results := n.pool.PublishMany(ctx, n.relays, ev)
	var firstErr error
	for res := range results {
		if res.Error != nil && firstErr == nil {
			firstErr = res.Error
		}
	}
	return firstErr
}

func (n *Nostr) sharedSecret(peerPub string) ([]byte, error) {
	n.secretMu.Lock()
	defer n.secretMu.Unlock()
	if key, ok := n.secrets[peerPub]; ok {
		return key, nil
	}
	key, err := nip04.ComputeSharedSecret(peerPub, n.privKey)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	n.secrets[peerPub] = key
	return key, nil
}
