// Package notifications delivers recorder events to the operator.
//
// Telegram (Bot API sendMessage) and ntfy transports are supported; without a
// configured provider the service is a no-op. Messages are rendered from a
// small catalog in English or Russian. Capture failure and low-disk events
// share a rate limiter; upload outcomes are always delivered.
package notifications
