// Package call реализует движок сессий звонков один-на-один поверх WebRTC.
//
// Engine ведет сессию по фазам idle, initiating, outgoing_ringing,
// incoming_ringing, connecting, active и ended. Команды пользователя,
// сигнальные сообщения, уведомления соединений и таймеры обрабатываются
// последовательно в одной горутине, поэтому состояние сессии не требует
// блокировок. Захват устройств и работа с описаниями выполняются вне цикла,
// их результаты для уже завершенной сессии отбрасываются.
//
// Наблюдатели получают снимки через State, Session, LocalStream,
// RemoteStreams, Participants, Duration, Err и события Subscribe.
package call
