// Package openaicompat implements the provider interface for backends
// speaking the OpenAI Chat Completions protocol, including llama.cpp
// server, vLLM and hosted OpenAI-compatible endpoints.
package openaicompat
