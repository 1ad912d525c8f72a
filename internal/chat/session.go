package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wavechat/chatkit/internal/api"
	"github.com/wavechat/chatkit/internal/config"
	"github.com/wavechat/chatkit/internal/storage"
	"github.com/wavechat/chatkit/internal/transport"
)

// Session owns the messaging stack for one logged-in user: the REST client,
// the broker transport and the state mirror. It is constructed at login and
// torn down at logout; consumers receive it by injection instead of sharing
// ambient global state.
type Session struct {
	cfg    *config.Config
	creds  *storage.Credentials
	rest   *api.Client
	broker *transport.Client
	mirror *Mirror
}

// NewSession assembles a session from persisted credentials. Rotated tokens
// are written back to disk so the next process start stays logged in.
func NewSession(cfg *config.Config, creds *storage.Credentials) *Session {
	rest := api.NewClient(cfg.ServerURL, creds.Token)
	rest.SetTokenRefresher(func() (string, error) {
		pair, err := rest.RefreshToken(context.Background(), creds.RefreshToken)
		if err != nil {
			return "", err
		}
		creds.Token = pair.Token
		if pair.RefreshToken != "" {
			creds.RefreshToken = pair.RefreshToken
		}
		if err := storage.SaveCredentials(cfg.CredentialsPath(), creds); err != nil {
			log.Warn().Err(err).Msg("could not persist rotated token")
		}
		return pair.Token, nil
	})

	broker := transport.NewClient(cfg.BrokerURL)
	mirror := NewMirror(creds.UserID, creds.DisplayName, rest, broker)

	return &Session{
		cfg:    cfg,
		creds:  creds,
		rest:   rest,
		broker: broker,
		mirror: mirror,
	}
}

// Start refreshes a near-expiry token, connects the transport and hydrates
// the mirror.
func (s *Session) Start(ctx context.Context) error {
	if expiry, ok := api.TokenExpiresAt(s.creds.Token); ok && time.Until(expiry) < time.Minute {
		pair, err := s.rest.RefreshToken(ctx, s.creds.RefreshToken)
		if err != nil {
			// The 401 interceptor still covers the session if this fails.
			log.Warn().Err(err).Msg("proactive token refresh failed")
		} else {
			s.creds.Token = pair.Token
			if pair.RefreshToken != "" {
				s.creds.RefreshToken = pair.RefreshToken
			}
			s.rest.SetToken(pair.Token)
			if err := storage.SaveCredentials(s.cfg.CredentialsPath(), s.creds); err != nil {
				log.Warn().Err(err).Msg("could not persist refreshed token")
			}
		}
	}
	return s.mirror.Start(ctx)
}

// Mirror exposes the state mirror for reads and commands.
func (s *Session) Mirror() *Mirror {
	return s.mirror
}

// REST exposes the underlying API client.
func (s *Session) REST() *api.Client {
	return s.rest
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mirror.Close()
}
