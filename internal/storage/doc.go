// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Audit log appends (moderation removals, admin commands, broadcasts)
//   - Expiring dedup keys (same-minute broadcast suppression)
package storage
