// Package mock provides test doubles for the ai package interfaces.
//
// The doubles return concrete types so tests can inject behavior and assert
// on call counts:
//
//	mockEmbedder := mock.NewMockEmbedder(8)
//	mockEmbedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, ai.ErrUnavailable
//	}
//
//	// Check call counts
//	count := mockEmbedder.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockGenerator: Streams a scripted list of tokens, optionally with a delay between them
//   - MockProvider: Aggregates a mock embedder and generator with a configurable Status
package mock
