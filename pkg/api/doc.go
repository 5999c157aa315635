// Package api defines the shared domain types for wisp: conversation
// turns, orchestration events, sampling parameters, structured errors,
// and identifier generation.
//
// These types form the contract between the orchestrator, the provider
// layer, the capability system, and the transport adapters. They carry
// no behavior beyond construction and validation helpers.
package api
