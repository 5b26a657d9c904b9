// Package rtc описывает возможности медиа платформы, которыми пользуется движок звонков.
//
// Пакет не содержит реализации: захват устройств и peer connection поставляются
// платформой (pionrtc для реального стека, mockrtc для тестов). Все остальные
// пакеты движка зависят только от интерфейсов и типов значений, объявленных здесь.
//
// Основные понятия:
//   - LocalTrack - локальный трек микрофона, камеры или экрана
//   - RemoteTrack - трек, полученный от удаленного участника
//   - PeerConnection - соединение с одним удаленным участником (offer/answer, trickle ICE)
//   - Capturer - доступ к устройствам захвата
//   - Platform - Capturer плюс фабрика PeerConnection
package rtc
