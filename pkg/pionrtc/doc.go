// Package pionrtc реализует rtc.Platform на pion/webrtc.
//
// Соединения создаются через общий webrtc.API с движком кодеков,
// стандартными интерсепторами (NACK, RTCP отчеты) и настройками ICE.
// Захват камеры, микрофона и экрана выполняется pion/mediadevices и
// доступен только в сборках linux с cgo, на остальных платформах
// соединения работают на прием.
package pionrtc
