// Package webpush delivers encrypted Web Push messages (RFC 8291, aes128gcm
// content coding) authenticated with VAPID (RFC 8292). Encryption and VAPID
// signing are done by webpush-go; this package validates inputs up front and
// maps push service responses onto errors the notification pipeline acts on.
package webpush

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpushgo "github.com/SherClockHolmes/webpush-go"
)

var (
	// ErrSubscriptionGone means the push service no longer knows the endpoint; the subscription should be deleted.
	ErrSubscriptionGone = errors.New("push subscription expired or unsubscribed")
	ErrPayloadTooLarge  = errors.New("push payload too large")
	ErrInvalidKeys      = errors.New("invalid subscription keys")
)

const (
	recordSize = 4096
	// MaxPayload leaves room for the 86-byte header, the delimiter and the GCM tag.
	MaxPayload = recordSize - 86 - 1 - 16
)

const (
	UrgencyVeryLow = string(webpushgo.UrgencyVeryLow)
	UrgencyLow     = string(webpushgo.UrgencyLow)
	UrgencyNormal  = string(webpushgo.UrgencyNormal)
	UrgencyHigh    = string(webpushgo.UrgencyHigh)
)

// Subscription is the browser PushSubscription with base64url keys.
type Subscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

type Options struct {
	TTL     time.Duration
	Urgency string
	Topic   string
}

// StatusError is returned for push service responses other than success or gone.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Body)
}

type Sender struct {
	client     *http.Client
	publicKey  string
	privateKey string
	subscriber string
}

// NewSender builds a sender from a base64url VAPID key pair (65-byte uncompressed
// public point, 32-byte private scalar) and a mailto: or https: subject.
func NewSender(publicKey, privateKey, subject string, client *http.Client) (*Sender, error) {
	d, err := decodeKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("vapid private key: %w", err)
	}
	derived, err := ecdh.P256().NewPrivateKey(d)
	if err != nil {
		return nil, fmt.Errorf("vapid private key: %w", err)
	}
	if publicKey != "" {
		given, err := decodeKey(publicKey)
		if err != nil || !bytes.Equal(given, derived.PublicKey().Bytes()) {
			return nil, errors.New("vapid public key does not match private key")
		}
	}
	if subject == "" {
		return nil, errors.New("vapid subject is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Sender{
		client:     client,
		publicKey:  base64.RawURLEncoding.EncodeToString(derived.PublicKey().Bytes()),
		privateKey: base64.RawURLEncoding.EncodeToString(d),
		// webpush-go adds the mailto: scheme to anything that is not an https URL.
		subscriber: strings.TrimPrefix(subject, "mailto:"),
	}, nil
}

// PublicKey returns the application server key browsers subscribe with.
func (s *Sender) PublicKey() string { return s.publicKey }

// GenerateVAPIDKeys returns a fresh base64url key pair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpushgo.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}

// Send encrypts payload for sub and posts it to the push service.
func (s *Sender) Send(ctx context.Context, sub Subscription, payload []byte, opts Options) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	if err := checkKeys(sub); err != nil {
		return err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	resp, err := webpushgo.SendNotificationWithContext(ctx, payload, &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpushgo.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpushgo.Options{
		HTTPClient:      s.client,
		RecordSize:      recordSize,
		Subscriber:      s.subscriber,
		Topic:           opts.Topic,
		TTL:             int(ttl.Seconds()),
		Urgency:         webpushgo.Urgency(opts.Urgency),
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
	})
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()
	return statusError(resp)
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
}

// checkKeys rejects subscriptions whose keys cannot be used for encryption,
// so a bad row is dropped instead of retried.
func checkKeys(sub Subscription) error {
	uaPub, err := decodeKey(sub.P256dh)
	if err != nil {
		return fmt.Errorf("%w: p256dh", ErrInvalidKeys)
	}
	if _, err := ecdh.P256().NewPublicKey(uaPub); err != nil {
		return fmt.Errorf("%w: p256dh", ErrInvalidKeys)
	}
	authSecret, err := decodeKey(sub.Auth)
	if err != nil || len(authSecret) == 0 {
		return fmt.Errorf("%w: auth", ErrInvalidKeys)
	}
	return nil
}

// decodeKey accepts base64url or standard base64, padded or not.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}
