// Package peer управляет соединениями с удаленными участниками звонка.
//
// Manager владеет коллекцией Connection, проиндексированной по
// идентификатору участника (mesh из нескольких участников поддерживается с
// самого начала). Для каждого участника он создает соединение платформы,
// выполняет обмен offer/answer и применяет trickle ICE кандидатов.
//
// Кандидаты, пришедшие до применения удаленного описания, буферизуются и
// применяются в исходном порядке сразу после него. Кандидаты для еще не
// созданного соединения хранятся отдельно и переносятся в буфер при Open.
// Кандидаты для закрытого соединения молча игнорируются.
//
// Инициатор сессии всегда создает offer: offer, полученный соединением с
// ролью RoleOfferer, отклоняется. Так исключается glare.
package peer
