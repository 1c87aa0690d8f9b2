// Package provider talks to hosted vision-language models.
//
// A Client implements Capability for one backend, chosen by name:
//
//	anthropic  Messages API (/v1/messages)
//	openai     Chat Completions API (/v1/chat/completions)
//
// Backends differ only in how requests and responses are shaped and in
// their pricing tables. Rate limiting, retry, secret scrubbing, prompt
// construction and response parsing are shared.
//
// Bind adapts a Capability to the pipeline collaborator interfaces the
// iteration controller drives.
package provider
