package adapters

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"inmocrm_backend/internal/campaigns/domain"
	"inmocrm_backend/internal/campaigns/ports"
	"inmocrm_backend/platform/config"
	"inmocrm_backend/platform/logger"
)

// Router resolves the message sender for a campaign channel. All senders
// share one outbound rate limiter so a burst of due steps cannot flood the
// providers.
type Router struct {
	senders map[string]ports.MessageSender
	limiter *rate.Limiter
}

// NewRouter builds all configured channel senders. Unconfigured channels
// stay unrouted; dispatching to one fails the step with a clear error.
func NewRouter(cfg *config.Config, log *logger.Logger) *Router {
	senders := make(map[string]ports.MessageSender)
	if wa := NewWhatsAppSender(cfg, log); wa != nil {
		senders[domain.ChannelWhatsApp] = wa
	}
	if tg := NewTelegramSender(cfg, log); tg != nil {
		senders[domain.ChannelTelegram] = tg
	}
	if mail := NewEmailSender(cfg, log); mail != nil {
		senders[domain.ChannelEmail] = mail
	}

	perSecond := cfg.GetSendRatePerSecond()
	if perSecond <= 0 {
		perSecond = 5
	}

	return &Router{
		senders: senders,
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
	}
}

func (r *Router) SenderFor(channel string) (ports.MessageSender, error) {
	sender, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("channel %q is not configured", channel)
	}
	return &limitedSender{inner: sender, limiter: r.limiter}, nil
}

type limitedSender struct {
	inner   ports.MessageSender
	limiter *rate.Limiter
}

func (s *limitedSender) SendMessage(ctx context.Context, to, body string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.inner.SendMessage(ctx, to, body)
}

var _ ports.SenderRouter = (*Router)(nil)
var _ ports.CallPlacer = (*VoiceCaller)(nil)
var _ ports.MeetingScheduler = (*CalendarScheduler)(nil)
