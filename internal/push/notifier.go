package push

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Notifier fans events out to every live channel of an identity.
type Notifier struct {
	reg *Registry
	log zerolog.Logger
}

func NewNotifier(reg *Registry, log zerolog.Logger) *Notifier {
	return &Notifier{reg: reg, log: log.With().Str("component", "notifier").Logger()}
}

// Notify encodes ev once and sends it to each writable channel of identity.
// It returns the number of channels the event was handed to.
func (n *Notifier) Notify(identity int64, ev Event) int {
	channels := n.reg.ChannelsFor(identity)
	if len(channels) == 0 {
		deliveriesTotal.WithLabelValues("dropped").Inc()
		n.log.Debug().Int64("user_id", identity).Str("type", string(ev.Type)).Msg("no live channels")
		return 0
	}

	data, err := json.Marshal(ev)
	if err != nil {
		n.log.Error().Err(err).Str("type", string(ev.Type)).Msg("encode event")
		return 0
	}

	sent := 0
	for _, ch := range channels {
		if !ch.Writable() {
			deliveriesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if err := ch.Send(data); err != nil {
			deliveriesTotal.WithLabelValues("failed").Inc()
			n.log.Warn().Err(err).Int64("user_id", identity).Str("type", string(ev.Type)).Msg("push send")
			continue
		}
		deliveriesTotal.WithLabelValues("sent").Inc()
		sent++
	}
	return sent
}
