package mqtt

import (
	"context"
	"strings"
	"time"

	"medscan-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
)

// Befehle auf <prefix>/command
const (
	CommandToggleFacing = "toggle_facing"
	CommandRetryCamera  = "retry_camera"
)

// Controller ist die Steuerfläche der Erkennungsschleife
type Controller interface {
	ToggleFacing(ctx context.Context) (vision.Facing, error)
	Retry(ctx context.Context) error
}

// CommandHandler führt Befehle aus, die per MQTT eintreffen
type CommandHandler struct {
	ctrl    Controller
	timeout time.Duration
}

// NewCommandHandler erstellt einen Handler für ctrl
func NewCommandHandler(ctrl Controller, timeout time.Duration) *CommandHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandHandler{ctrl: ctrl, timeout: timeout}
}

// HandleMessage implementiert MessageHandler
func (h *CommandHandler) HandleMessage(topic string, payload []byte) {
	cmd := strings.ToLower(strings.TrimSpace(string(payload)))
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	switch cmd {
	case CommandToggleFacing:
		facing, err := h.ctrl.ToggleFacing(ctx)
		if err != nil {
			log.WithError(err).Warnf("MQTT command %s failed", cmd)
			return
		}
		log.Infof("MQTT command %s: camera now %s", cmd, facing)
	case CommandRetryCamera:
		if err := h.ctrl.Retry(ctx); err != nil {
			log.WithError(err).Warnf("MQTT command %s failed", cmd)
			return
		}
		log.Infof("MQTT command %s executed", cmd)
	default:
		log.Warnf("Unknown MQTT command %q on %s", cmd, topic)
	}
}
