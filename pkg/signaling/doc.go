// Package signaling реализует сигнальный протокол звонков и транспорт для него.
//
// Сообщения (invite, accept, decline, busy, offer, answer, ice-candidate,
// hangup) передаются в JSON и всегда содержат идентификатор сессии и
// отправителя. Поле toId используется ретранслятором для маршрутизации.
//
// Manager - явно создаваемый менеджер подключения к сигнальному серверу.
// Он устанавливает соединение через Dialer, раздает входящие сообщения и
// смены состояния подписчикам и при обрыве переподключается с
// экспоненциальной задержкой.
//
// Реализации Dialer:
//   - WSDialer - WebSocket (gorilla/websocket) с bearer токеном и ping/pong
//   - MemoryNetwork - соединения в памяти для тестов и локальных демо
//
// Пример:
//
//	mgr := signaling.NewManager(&signaling.WSDialer{URL: url}, signaling.DefaultConfig(), signaling.Options{Logger: log})
//	if err := mgr.Connect(ctx, token); err != nil { ... }
//	events, cancel := mgr.Subscribe()
//	defer cancel()
package signaling
