// Package chat is the Twitch chat command surface for the worker.
//
// The bot joins TWITCH_CHANNEL over IRC and answers:
//
//	!start | !stop | !restart | !status
//	!creators [list|add|remove] <handle>
//	!config <uploads_per_day> <downloads_per_creator>
//
// Only the broadcaster, channel moderators and logins listed in
// CHAT_OPERATORS may issue commands; other messages are ignored.
//
// Credentials: the IRC client requires a bot username and a user token with
// chat:read/chat:edit scopes. If TWITCH_OAUTH_TOKEN is not provided, the stored
// token for provider "twitch" is used.
package chat
