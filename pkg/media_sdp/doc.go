// Package media_sdp реализует согласование SDP offer/answer для исходящих
// вызовов: построение offer из конфигурации кодеков, разбор answer с
// поиском удалённой медиа точки по потокам и извлечение SDP из тела
// сообщения (включая multipart/mixed).
//
// Таблица кодеков отображает внутренние идентификаторы на RTP payload type,
// частоту и fmtp параметры:
//
//	G.711 A-law  -> 8 / 8000
//	AMR 12.2     -> динамический PT, mode-set=7
//	H.264 VGA    -> динамический PT, b=TIAS:2000000, profile-level-id=42801e
//
// Разбор answer учитывает только первое совпадение для каждого потока.
package media_sdp
