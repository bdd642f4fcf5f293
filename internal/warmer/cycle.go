package warmer

import (
	"context"
	"time"

	"chatwarmer/internal/config"
	"chatwarmer/internal/eventbus"
	"chatwarmer/internal/storage"
	logx "chatwarmer/pkg/logx"
)

// CycleResult is the bus payload published on eventbus.TypeWarmerCycle.
type CycleResult struct {
	Mode     Mode `json:"mode"`
	Eligible int  `json:"eligible"`
	Sent     int  `json:"sent"`
	Skipped  int  `json:"skipped"`
}

// SentEvent is the bus payload published on eventbus.TypeMessageSent.
type SentEvent struct {
	AccountID string `json:"account_id"`
	Recipient string `json:"recipient"`
	Mode      Mode   `json:"mode"`
	Kind      string `json:"kind"` // "cycle" or "reply"
	Template  string `json:"template,omitempty"`
}

// runCycle executes one warming pass over all eligible senders. Failures are
// contained here; the cadence in runLoop is never affected.
func (s *Service) runCycle(ctx context.Context) {
	defer s.cycles.Add(1)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if !s.withinWorkingHours() {
		s.log.Debug("cycle skipped outside working hours")
		s.publish(eventbus.TypeWarmerCycle, CycleResult{Mode: ModeDirect})
		return
	}

	ring := sortRing(s.eligibleConnected())

	// Group mode is only on the table when broadcast is enabled and a target
	// group is configured; otherwise every cycle is direct.
	mode := ModeDirect
	if cfg.SendToGroup && pickGroup(cfg.Groups.Primary, cfg.Groups.Secondary, s.intn) != "" {
		s.mu.Lock()
		mode = s.modes.next()
		s.mu.Unlock()
	}

	result := CycleResult{Mode: mode, Eligible: len(ring)}
	defer func() {
		s.publish(eventbus.TypeWarmerCycle, result)
		s.metrics.CycleCompleted(string(mode))
	}()

	switch mode {
	case ModeDirect:
		if len(ring) < 2 {
			s.log.Debug("cycle skipped", logx.String("reason", "insufficient accounts"), logx.Int("eligible", len(ring)))
			return
		}
	case ModeGroup:
		if len(ring) < 1 {
			s.log.Debug("cycle skipped", logx.String("reason", "no eligible accounts"))
			return
		}
	}

	// Senders run sequentially in ring order so a cooldown armed mid-cycle is
	// honored by the remaining senders.
	for _, sender := range ring {
		if s.rates.coolingDown(sender.ID) {
			result.Skipped++
			s.metrics.SendSkipped("cooldown")
			continue
		}
		if s.attemptSend(ctx, cfg, ring, sender, mode) {
			result.Sent++
		} else {
			result.Skipped++
		}
	}
	s.log.Info("cycle completed",
		logx.String("mode", string(mode)),
		logx.Int("eligible", result.Eligible),
		logx.Int("sent", result.Sent),
		logx.Int("skipped", result.Skipped),
	)
}

// attemptSend performs at most one send for the given sender.
func (s *Service) attemptSend(ctx context.Context, cfg config.WarmerConfig, ring []storage.Account, sender storage.Account, mode Mode) bool {
	var (
		recipient storage.Account
		group     string
	)
	if mode == ModeDirect {
		r, ok := nextRecipient(ring, sender.ID)
		if !ok {
			s.metrics.SendSkipped("no_recipient")
			return false
		}
		recipient = r
	} else {
		// Fresh coin flip per sender, independent of the mode balance.
		group = pickGroup(cfg.Groups.Primary, cfg.Groups.Secondary, s.intn)
		if group == "" {
			s.metrics.SendSkipped("no_group")
			return false
		}
	}

	limit, pause := throttleFor(sender, cfg)
	if !s.rates.tryConsume(sender.ID, limit, pause) {
		s.metrics.SendSkipped("cooldown")
		return false
	}

	name := recipient.Name
	if mode == ModeGroup {
		name = group
	}
	rendered, err := s.catalog.RenderAny(ctx, map[string]string{"name": name})
	if err != nil {
		s.log.Warn("render failed", logx.String("sender", sender.ID), logx.Err(err))
		s.metrics.SendSkipped("render_failed")
		return false
	}

	if mode == ModeDirect {
		err = s.msgr.Send(ctx, sender.ID, recipient.Address, rendered.Message)
	} else {
		err = s.msgr.SendToGroup(ctx, sender.ID, group, rendered.Message)
	}

	target := recipient.Address
	if mode == ModeGroup {
		target = group
	}
	if err != nil {
		s.log.Warn("send failed",
			logx.String("sender", sender.ID),
			logx.String("to", target),
			logx.String("mode", string(mode)),
			logx.Err(err),
		)
		s.metrics.SendSkipped("send_failed")
		s.record(ctx, storage.HistoryEntry{
			AccountID: sender.ID, Recipient: target, Mode: string(mode), Kind: "cycle",
			Template: rendered.TemplateName, Error: err.Error(),
		})
		return false
	}

	s.metrics.MessageSent(string(mode), "cycle")
	s.publish(eventbus.TypeMessageSent, SentEvent{
		AccountID: sender.ID, Recipient: target, Mode: mode, Kind: "cycle",
		Template: rendered.TemplateName,
	})
	s.record(ctx, storage.HistoryEntry{
		AccountID: sender.ID, Recipient: target, Mode: string(mode), Kind: "cycle",
		Template: rendered.TemplateName, Body: rendered.Message,
	})

	if mode == ModeDirect {
		s.scheduleReply(cfg, sender, recipient)
	}
	return true
}

// scheduleReply arms a one-shot reply from the recipient back to the sender
// after a random delay. Replies are independent of the session: they survive
// StopWarming, re-check the working-hours gate at fire time, and bypass the
// burst limiter.
func (s *Service) scheduleReply(cfg config.WarmerConfig, sender, recipient storage.Account) {
	min, max := cfg.Reply.MinDelaySeconds, cfg.Reply.MaxDelaySeconds
	sec := min
	if max > min {
		sec = min + s.intn(max-min+1)
	}
	delay := time.Duration(sec) * time.Second

	s.pendingReplies.Add(1)
	s.clock.AfterFunc(delay, func() {
		defer s.pendingReplies.Add(-1)
		if !s.withinWorkingHours() {
			s.log.Debug("reply dropped outside working hours",
				logx.String("from", recipient.ID), logx.String("to", sender.ID))
			return
		}
		body := s.catalog.Reply(sender.Name)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.msgr.Send(ctx, recipient.ID, sender.Address, body); err != nil {
			s.log.Warn("reply failed",
				logx.String("from", recipient.ID),
				logx.String("to", sender.Address),
				logx.Err(err),
			)
			return
		}
		s.metrics.MessageSent(string(ModeDirect), "reply")
		s.publish(eventbus.TypeMessageSent, SentEvent{
			AccountID: recipient.ID, Recipient: sender.Address, Mode: ModeDirect, Kind: "reply",
		})
		s.record(context.Background(), storage.HistoryEntry{
			AccountID: recipient.ID, Recipient: sender.Address, Mode: string(ModeDirect),
			Kind: "reply", Body: body,
		})
	})
}

// throttleFor resolves the effective burst limit and pause for an account,
// with per-account overrides winning over the global config.
func throttleFor(a storage.Account, cfg config.WarmerConfig) (limit int, pause time.Duration) {
	limit = cfg.BurstLimit
	if a.BurstLimit > 0 {
		limit = a.BurstLimit
	}
	pauseSec := cfg.PauseSeconds
	if a.PauseSeconds > 0 {
		pauseSec = a.PauseSeconds
	}
	return limit, time.Duration(pauseSec) * time.Second
}

// record appends to history when a store is configured.
func (s *Service) record(ctx context.Context, e storage.HistoryEntry) {
	if s.history == nil {
		return
	}
	e.At = s.clock.Now()
	if err := s.history.AppendHistory(ctx, e); err != nil {
		s.log.Debug("history append failed", logx.Err(err))
	}
}
