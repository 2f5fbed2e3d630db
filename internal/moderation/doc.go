// Package moderation removes group members who post forbidden words.
//
// Matching is a case-insensitive substring search over a fixed word list.
// Admins and the bot itself are exempt. Every matched word costs the sender one
// removal attempt and one warning message; failures are logged and audited but
// never stop the remaining actions.
package moderation
