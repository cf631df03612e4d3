package xmbox

import (
	"time"

	"doorbus/pkg/xmq"

	"github.com/pkg/errors"
)

// Settings configures mailbox queues and protocol timing.
type Settings struct {
	Backend       string        `env:"BACKEND" envDefault:"memory" yaml:"backend"`
	QueueSize     int           `env:"QUEUE_SIZE" envDefault:"10" yaml:"queue_size"`     // mq maxmsg
	MaxMsgSize    int           `env:"MAX_MSG_SIZE" envDefault:"200" yaml:"max_msg_size"` // mq msgsize
	RTO           time.Duration `env:"RTO" envDefault:"2s" yaml:"rto"`
	BaseTTL       int           `env:"BASE_TTL" envDefault:"5" yaml:"base_ttl"`
	DrainOnOpen   bool          `env:"DRAIN_ON_OPEN" envDefault:"true" yaml:"drain_on_open"`
	UnlinkOnClose bool          `env:"UNLINK_ON_CLOSE" envDefault:"false" yaml:"unlink_on_close"`
}

func DefaultSettings() Settings {
	return Settings{
		Backend:     xmq.Memory.Name(),
		QueueSize:   10,
		MaxMsgSize:  200,
		RTO:         2 * time.Second,
		BaseTTL:     5,
		DrainOnOpen: true,
	}
}

func (s Settings) Validate() error {
	if s.QueueSize <= 0 || s.MaxMsgSize <= 0 {
		return errors.Wrapf(ErrInvalidSettings, "queue_size=%d max_msg_size=%d", s.QueueSize, s.MaxMsgSize)
	}
	if s.RTO <= 0 {
		return errors.Wrapf(ErrInvalidTimeout, "rto=%v", s.RTO)
	}
	if s.BaseTTL <= 0 {
		return errors.Wrapf(ErrInvalidSettings, "base_ttl=%d", s.BaseTTL)
	}
	return nil
}

// OpenBackend resolves the configured backend from the xmq registry.
func (s Settings) OpenBackend() (xmq.Backend, error) {
	return xmq.Get(s.Backend)
}

func (s Settings) attr() xmq.Attr {
	return xmq.Attr{MaxMsg: s.QueueSize, MsgSize: s.MaxMsgSize}
}
