// Package mocks provides shared mock implementations for testing.
//
// # Usage
//
//	import "patchmind/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    client := mocks.NewMockLLMClient()
//	    client.StreamSequence("PLAN: rename foo", `{"plan_status":"GOOD"}`, "done")
//	    // Use client in test...
//	}
//
// # Available Mocks
//
//   - MockLLMClient: scripted llm.LLMClient with gated streams for cancellation tests
//   - MemFiles: in-memory workspace file store
package mocks
