package ringtone

import (
	"math"
	"time"
)

// Cue звуковой сигнал вызова
type Cue string

const (
	// CueRingback сигнал контроля посылки вызова для исходящего звонка
	CueRingback Cue = "ringback"
	// CueRing сигнал входящего звонка
	CueRing Cue = "ring"
)

// DefaultSampleRate частота дискретизации синтезируемых сигналов
const DefaultSampleRate = 8000

// Clip зацикливаемый фрагмент PCM (16 бит, моно)
type Clip struct {
	Cue        Cue
	SampleRate int
	Samples    []int16
}

// Duration длительность одного цикла
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

type segment struct {
	on     bool
	length time.Duration
}

type pattern struct {
	freqs    []float64
	segments []segment
}

var patterns = map[Cue]pattern{
	// 440+480 Гц, 2с сигнал, 4с пауза
	CueRingback: {
		freqs:    []float64{440, 480},
		segments: []segment{{true, 2 * time.Second}, {false, 4 * time.Second}},
	},
	// двойной сигнал 400+450 Гц
	CueRing: {
		freqs: []float64{400, 450},
		segments: []segment{
			{true, 400 * time.Millisecond},
			{false, 200 * time.Millisecond},
			{true, 400 * time.Millisecond},
			{false, 2 * time.Second},
		},
	},
}

// Synthesize синтезирует сигнал. Для неизвестного сигнала возвращает nil.
func Synthesize(cue Cue, sampleRate int) *Clip {
	p, ok := patterns[cue]
	if !ok {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	amp := 0.2 * math.MaxInt16
	clip := &Clip{Cue: cue, SampleRate: sampleRate}
	n := 0
	for _, seg := range p.segments {
		count := int(seg.length * time.Duration(sampleRate) / time.Second)
		for i := 0; i < count; i++ {
			var v float64
			if seg.on {
				t := float64(n) / float64(sampleRate)
				for _, f := range p.freqs {
					v += math.Sin(2 * math.Pi * f * t)
				}
				v = v / float64(len(p.freqs)) * amp
			}
			clip.Samples = append(clip.Samples, int16(v))
			n++
		}
	}
	return clip
}
