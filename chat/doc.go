// Package chat contains the live chat polling engine.
//
// The Engine owns the opaque continuation cursor for one chat session and
// runs a strictly sequential fetch -> extract -> deliver -> wait loop:
//   - Each page is fetched through a Fetcher with the last good cursor.
//   - Every message's text is run through the code pattern; the first match
//     per message is handed to the Sink, in message order.
//   - The cursor is replaced with the page's next cursor and the engine waits
//     the server suggested interval (never less than a configured floor).
//   - Transient fetch failures move the engine to DEGRADED: it backs off
//     exponentially and retries the same cursor. Fatal failures stop it.
//
// The cursor is held in memory only. A restarted process re-reads whatever
// window the backend currently serves and may deliver a token again.
package chat
