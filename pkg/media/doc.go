// Package media управляет локальными устройствами захвата звонка.
//
// Controller захватывает микрофон (аудио звонок) или микрофон и камеру
// (видео звонок), переключает mute и видео без пересогласования и подменяет
// исходящий видео источник при демонстрации экрана. Одновременно устройства
// удерживает только одна сессия: повторный захват того же типа переиспользует
// треки, захват другого типа сначала освобождает текущие.
//
// Захват может блокироваться на запросе разрешения. Если за это время
// контекст был отменен или вызван Release, полученные треки сразу
// останавливаются и Acquire возвращает ErrAcquireCancelled.
//
// Пример использования:
//
//	ctrl := media.NewController(platform, media.Options{Logger: log})
//	stream, err := ctrl.Acquire(ctx, rtc.CallVideo)
//	if err != nil {
//		var de *media.DeviceError
//		if errors.As(err, &de) { ... }
//	}
//	defer ctrl.Release()
package media
