package ringtone

// Sink устройство воспроизведения сигналов.
//
// Play начинает зацикленное воспроизведение с текущей позиции,
// Pause останавливает его, сохраняя позицию, Rewind сбрасывает позицию в начало.
type Sink interface {
	Play(clip *Clip) error
	Pause() error
	Rewind()
}

// NopSink ничего не воспроизводит
type NopSink struct{}

func (NopSink) Play(*Clip) error { return nil }
func (NopSink) Pause() error     { return nil }
func (NopSink) Rewind()          {}
