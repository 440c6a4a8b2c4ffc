// Package notify dispatches notification requests.
//
// A dispatch writes one log line at a severity derived from the request level,
// emits one "notification:send" event on the host bus and returns a
// confirmation envelope. The severity used for logging is always one of
// info/warn/error; the level shown in the confirmation and carried in the
// event payload is the caller's value, unnormalized. So level "debug" logs at
// info but reads "[DEBUG]" in the confirmation.
//
// Delivery to real channels (chat, email, ...) is left to whoever listens on
// the bus.
package notify
