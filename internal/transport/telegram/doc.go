// Package telegram implements transport.Client on the Telegram Bot API.
//
// The bot token is the credentials blob. Group chats map to "<chatID>@g.us"
// and users to "<userID>@c.us". The Bot API cannot list group members, so a
// group's roster is its administrators plus every member the bot has seen
// post or join since it started.
package telegram
