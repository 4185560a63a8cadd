// Package agent abstracts the reasoning agent behind a provider
// interface. The orchestration engine never talks to an LLM SDK
// directly; it hands a Request to a Caller and receives a structured
// Response with zero or more tool-call requests.
package agent
