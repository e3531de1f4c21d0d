// Package push keeps every live client of a user up to date after a chore
// changes.
//
// A Channel is one open connection owned by its transport (a websocket, a
// Telegram chat). It starts unauthenticated; a Session moves it into the
// Registry once the peer asserts an identity, and takes it out again when the
// transport closes. The Notifier fans one encoded Event out to every writable
// channel of an identity. Delivery is best effort: no retry, no
// acknowledgement, channels that are not writable are skipped.
package push
