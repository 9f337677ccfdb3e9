package telegram

import "regexp"

// conversationState tracks where a chat is in the guided send flow.
type conversationState int

const (
	stateIdle conversationState = iota
	// stateAwaitingNumber: /sendsms was issued, the next text message is
	// expected to be a destination number.
	stateAwaitingNumber
	// stateAwaitingContent: a destination is recorded, the next text message
	// is the SMS body.
	stateAwaitingContent
)

// conversation is the per-chat slot of the send flow. Replying to a forwarded
// message enters the flow directly at stateAwaitingContent.
type conversation struct {
	state  conversationState
	number string
}

// phoneNumber accepts digits with an optional leading plus, nothing else.
var phoneNumber = regexp.MustCompile(`^\+?[0-9]+$`)

const (
	callbackCancel      = "cancel_sms"
	callbackReplyPrefix = "reply_"
)

func cancelKeyboard() *inlineKeyboard {
	return &inlineKeyboard{InlineKeyboard: [][]inlineButton{
		{{Text: "✖️ Cancel", CallbackData: callbackCancel}},
	}}
}

func replyKeyboard(number string) *inlineKeyboard {
	return &inlineKeyboard{InlineKeyboard: [][]inlineButton{
		{{Text: "↩️ Reply", CallbackData: callbackReplyPrefix + number}},
	}}
}

var menuCommands = []botCommand{
	{Command: "start", Description: "Start using the bot"},
	{Command: "help", Description: "Show available commands"},
	{Command: "sendsms", Description: "Send an SMS"},
}

const (
	welcomeText = "👋 <b>SMS bridge bot is online.</b>\n\n" +
		"It forwards incoming SMS to this chat and sends SMS on your behalf.\n" +
		"Use /help to see the available commands."

	helpText = "<b>📚 Available commands:</b>\n\n" +
		"/start - show the welcome message\n" +
		"/help - show this help\n" +
		"/sendsms - start the guided SMS send flow"

	unknownCommandText = "🤔 Unknown command. Use /help to see what I can do."
	askNumberText      = "📱 Enter the destination phone number:"
	badNumberText      = "🔃 Invalid phone number. Digits with an optional leading plus only. Try again:"
	askContentText     = "📄 Number recorded. Enter the message text:"
	sentOKText         = "✅ SMS sent"
	sentFailText       = "❌ Failed to send SMS"
	cancelledText      = "❎️ Operation cancelled."
	idleHintText       = "Use /sendsms to send an SMS."
)
