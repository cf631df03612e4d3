package xlatency

import (
	"context"
	"math/rand"
	"time"

	"doorbus/pkg/xactor"
	"doorbus/pkg/xlog"
	"doorbus/pkg/xmq"

	"go.uber.org/zap"
)

const tickInterval = 5 * time.Millisecond

// Stats counts what went through a link.
type Stats struct {
	Packets  uint64
	Lost     uint64 // dropped by the loss rate or by a full/closed queue
	AllDelay time.Duration
}

// AverageDelay is the mean injected delay of delivered packets.
func (s Stats) AverageDelay() time.Duration {
	if s.Packets <= s.Lost {
		return 0
	}
	return s.AllDelay / time.Duration(s.Packets-s.Lost)
}

type delayed struct {
	q   xmq.Queue
	msg []byte
	at  time.Time
}

// link is the actor state: it decides the fate of every message written
// through the decorated backend and delivers the survivors when they are due.
type link struct {
	name string
	conf Config
	rnd  *rand.Rand

	pending []*delayed
	inUse   map[xmq.Queue]int
	closing map[xmq.Queue]bool

	stats Stats
}

type (
	sendReq struct {
		q   xmq.Queue
		msg []byte
	}
	closeReq  struct{ q xmq.Queue }
	statsReq  struct{}
	statsResp struct{ stats Stats }
)

func newLink(name string, conf Config) *link {
	seed := conf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &link{
		name:    name,
		conf:    conf,
		rnd:     rand.New(rand.NewSource(seed)),
		inUse:   make(map[xmq.Queue]int),
		closing: make(map[xmq.Queue]bool),
	}
}

func (l *link) Handlers() xactor.Handlers {
	return xactor.Handlers{
		Calls:        []xactor.CallRoute{xactor.OnCall(l.getStats)},
		Casts:        []xactor.CastRoute{xactor.OnCast(l.transmit), xactor.OnCast(l.release)},
		Ticks:        []xactor.TickHandler{l.tick},
		TickInterval: tickInterval,
	}
}

func (l *link) Name() string { return l.name }

func (l *link) Close(ctx context.Context) {
	for q := range l.closing {
		_ = q.Close()
	}
	xlog.Get(ctx).Info("Link closed", zap.String("link", l.name),
		zap.Uint64("packets", l.stats.Packets), zap.Uint64("lost", l.stats.Lost),
		zap.Int("undelivered", len(l.pending)), zap.Duration("average_delay", l.stats.AverageDelay()))
}

func (l *link) isLoss(q xmq.Queue, msg []byte) bool {
	if l.conf.Match != nil && !l.conf.Match(q.Name(), msg) {
		return false
	}
	return l.rnd.Int31n(100) < int32(l.conf.Loss)
}

func (l *link) randLatency() time.Duration {
	if l.conf.Latency <= 0 {
		return 0
	}
	return time.Duration(l.rnd.Int63n(int64(l.conf.Latency)))
}

func (l *link) transmit(ctx context.Context, req *sendReq) {
	l.stats.Packets++
	if l.isLoss(req.q, req.msg) {
		l.stats.Lost++
		xlog.Get(ctx).Debug("Link dropped message", zap.String("queue", req.q.Name()), zap.ByteString("msg", req.msg))
		return
	}
	delay := l.randLatency()
	l.stats.AllDelay += delay
	if delay == 0 {
		l.deliver(ctx, req.q, req.msg)
		return
	}
	l.inUse[req.q]++
	l.pending = append(l.pending, &delayed{q: req.q, msg: req.msg, at: time.Now().Add(delay)})
}

func (l *link) deliver(ctx context.Context, q xmq.Queue, msg []byte) {
	if err := q.Send(ctx, msg, xmq.Poll); err != nil {
		l.stats.Lost++
		xlog.Get(ctx).Debug("Link delivery failed", zap.String("queue", q.Name()), zap.Error(err))
	}
}

// release closes q once nothing delayed still needs it.
func (l *link) release(ctx context.Context, req *closeReq) {
	if l.inUse[req.q] > 0 {
		l.closing[req.q] = true
		return
	}
	_ = req.q.Close()
}

func (l *link) tick(ctx context.Context) {
	now := time.Now()
	pending := l.pending[:0]
	for _, d := range l.pending {
		if d.at.After(now) {
			pending = append(pending, d)
			continue
		}
		l.deliver(ctx, d.q, d.msg)
		if l.inUse[d.q]--; l.inUse[d.q] == 0 {
			delete(l.inUse, d.q)
			if l.closing[d.q] {
				delete(l.closing, d.q)
				_ = d.q.Close()
			}
		}
	}
	l.pending = pending
}

func (l *link) getStats(ctx context.Context, req *statsReq) (*statsResp, error) {
	return &statsResp{stats: l.stats}, nil
}
