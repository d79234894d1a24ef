package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/strrl/replicant/internal/retry"
	"github.com/strrl/replicant/internal/simulator"
)

// Sender is the part of *mautrix.Client the sink uses.
type Sender interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// Account maps a simulated participant to the Matrix user that speaks for it.
type Account struct {
	Participant string
	MatrixUser  string
	Token       string
}

type MatrixConfig struct {
	Homeserver    string
	RoomID        string
	RatePerSecond float64
	Burst         int
	Retry         retry.Policy
}

// MatrixSink posts each event as the participant's own Matrix user. All sends
// share one limiter so the homeserver sees a bounded message rate regardless
// of how many rooms are simulated.
type MatrixSink struct {
	senders map[string]Sender
	room    id.RoomID
	limiter *rate.Limiter
	retry   retry.Policy
	logger  *zap.Logger

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewMatrixSink logs every account in with its access token. Accounts without
// a token are skipped; their events are dropped at delivery.
func NewMatrixSink(cfg MatrixConfig, accounts []Account, logger *zap.Logger) (*MatrixSink, error) {
	if cfg.Homeserver == "" || cfg.RoomID == "" {
		return nil, errors.New("matrix homeserver and room id are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	senders := make(map[string]Sender, len(accounts))
	for _, acc := range accounts {
		if acc.MatrixUser == "" || acc.Token == "" {
			logger.Warn("participant has no matrix credentials", zap.String("participant", acc.Participant))
			continue
		}
		client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(acc.MatrixUser), acc.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create Matrix client for %s: %w", acc.MatrixUser, err)
		}
		senders[acc.Participant] = client
	}
	if len(senders) == 0 {
		return nil, errors.New("no participant has matrix credentials")
	}

	return newMatrixSink(cfg, senders, logger), nil
}

func newMatrixSink(cfg MatrixConfig, senders map[string]Sender, logger *zap.Logger) *MatrixSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := max(cfg.Burst, 1)

	return &MatrixSink{
		senders: senders,
		room:    id.RoomID(cfg.RoomID),
		limiter: rate.NewLimiter(limit, burst),
		retry:   cfg.Retry,
		logger:  logger,
	}
}

func (s *MatrixSink) Deliver(ctx context.Context, ev simulator.Event) error {
	sender, ok := s.senders[ev.From]
	if !ok {
		s.dropped.Add(1)
		s.logger.Warn("no matrix account for speaker, dropping event",
			zap.String("from", ev.From), zap.String("event", ev.ID.String()))
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	err := retry.Do(ctx, s.retry, s.logger, func(ctx context.Context) error {
		_, err := sender.SendText(ctx, s.room, ev.Message)
		if errors.Is(err, mautrix.MForbidden) || errors.Is(err, mautrix.MUnknownToken) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send message as %s: %w", ev.From, err)
	}

	s.sent.Add(1)
	s.logger.Debug("sent message", zap.String("from", ev.From), zap.String("room", s.room.String()))
	return nil
}

func (s *MatrixSink) Sent() int64 {
	return s.sent.Load()
}

func (s *MatrixSink) Dropped() int64 {
	return s.dropped.Load()
}
