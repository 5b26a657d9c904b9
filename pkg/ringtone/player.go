// Package ringtone воспроизводит сигналы вызова.
//
// Player проигрывает не более одного зацикленного сигнала: контроль посылки
// вызова при исходящем звонке и сигнал входящего вызова. Ошибки устройства
// воспроизведения пишутся в лог и учитываются метрикой, но никогда не
// влияют на звонок.
package ringtone

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Player проигрыватель сигналов
type Player struct {
	sink  Sink
	log   *zap.Logger
	clips map[Cue]*Clip

	starts   *prometheus.CounterVec
	failures prometheus.Counter

	mu      sync.Mutex
	active  bool
	current Cue
}

// Options дополнительные параметры проигрывателя
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	SampleRate int
}

// NewPlayer создает проигрыватель поверх sink. nil sink означает NopSink.
func NewPlayer(sink Sink, opts Options) *Player {
	if sink == nil {
		sink = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(opts.Registerer)

	return &Player{
		sink: sink,
		log:  opts.Logger.Named("ringtone"),
		clips: map[Cue]*Clip{
			CueRingback: Synthesize(CueRingback, opts.SampleRate),
			CueRing:     Synthesize(CueRing, opts.SampleRate),
		},
		starts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "ringtone",
			Name:      "starts_total",
			Help:      "Количество запусков сигнала вызова",
		}, []string{"cue"}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "ringtone",
			Name:      "failures_total",
			Help:      "Ошибки устройства воспроизведения",
		}),
	}
}

// Start запускает сигнал. Повторный запуск того же сигнала ничего не делает,
// запуск другого сигнала сначала останавливает текущий.
func (p *Player) Start(cue Cue) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active && p.current == cue {
		return
	}
	if p.active {
		p.stopLocked()
	}

	clip, ok := p.clips[cue]
	if !ok || clip == nil {
		p.log.Warn("unknown ringtone cue", zap.String("cue", string(cue)))
		return
	}

	if err := p.sink.Play(clip); err != nil {
		p.failures.Inc()
		p.log.Warn("ringtone playback failed", zap.String("cue", string(cue)), zap.Error(err))
		return
	}
	p.active = true
	p.current = cue
	p.starts.WithLabelValues(string(cue)).Inc()
}

// Stop останавливает и перематывает текущий сигнал
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if err := p.sink.Pause(); err != nil {
		p.failures.Inc()
		p.log.Warn("ringtone stop failed", zap.String("cue", string(p.current)), zap.Error(err))
	}
	p.sink.Rewind()
	p.active = false
	p.current = ""
}

// Active сообщает играет ли сигнал и какой
func (p *Player) Active() (Cue, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.active
}
