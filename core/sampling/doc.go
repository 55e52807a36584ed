// Package sampling turns "ask a language model" into something a handler can
// call without caring who answers.
//
// A sampling/createMessage request normally travels back to the MCP client
// over the session's notification stream. When the client cannot sample
// (no stream attached, or no sampling capability declared) the conversation
// engine falls back to a server-side Provider. OpenRouter is that provider:
// it speaks the OpenAI chat-completions wire format, so it is reached through
// go-openai with a different base URL.
package sampling
