package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// ticketCleanupInterval is how often expired tickets are purged.
	ticketCleanupInterval = time.Minute

	// ticketBytes is the number of random bytes used for WebSocket tickets.
	ticketBytes = 32
)

// errTokenInvalid is returned for any bearer token that fails validation.
var errTokenInvalid = errors.New("invalid token")

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue creates a ticket for subject.
func (t *ticketStore) issue(subject string, now time.Time) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{subject: subject, expiresAt: now.Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// consume validates a ticket and removes it (single-use).
func (t *ticketStore) consume(ticket string, now time.Time) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)
	if now.After(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// purge removes expired tickets and returns how many were dropped.
func (t *ticketStore) purge(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
			n++
		}
	}
	return n
}

func (t *ticketStore) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tickets)
}

// cleanTicketsLoop purges expired tickets until ctx is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.tickets.purge(now); n > 0 {
				s.logger.Debug("expired websocket tickets purged", "count", n)
			}
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// Browsers cannot set headers on a WebSocket handshake, so the client
// exchanges its bearer token for a ticket and passes it as ?ticket=.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is disabled
	ticket := s.tickets.issue(subject, time.Now())

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// authEnabled reports whether a JWT secret is configured.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}

// parseToken validates an HS256 token against the configured secret and,
// when set, the configured issuer.
func (s *Server) parseToken(raw string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.secCfg.JWT.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.secCfg.JWT.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return []byte(s.secCfg.JWT.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTokenInvalid, err)
	}
	if !token.Valid {
		return nil, errTokenInvalid
	}
	return claims, nil
}

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
