// Package notify - Alert sinks: MQTT, email and fan-out.
package notify

import (
	"context"
	"strings"

	"github.com/nvr-ai/go-behavior/alert"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Multi delivers each alert to every notifier in order.
//
// A failing notifier does not stop the others.
type Multi []alert.Notifier

// Notify calls every notifier and reports the failures together.
func (m Multi) Notify(ctx context.Context, a alert.Alert) error {
	var failures []string
	for i, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			log.Error().Err(err).Str("alert_id", a.ID).Int("notifier", i).Msg("notifier failed")
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return errors.Errorf("%d of %d notifiers failed: %s", len(failures), len(m), strings.Join(failures, "; "))
	}
	return nil
}
