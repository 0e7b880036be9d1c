// Package embeddings turns text into vectors for the vector store.
//
// Providers:
//
//   - fastembed: local ONNX models through fastembed-go (cgo builds only).
//     The default model, sentence-transformers/all-MiniLM-L6-v2, is symmetric,
//     so documents and queries are embedded identically.
//   - tei: a HuggingFace text-embeddings-inference server.
//   - openai: any OpenAI-compatible /embeddings endpoint.
//   - hash: deterministic feature hashing, for tests and offline use.
//
// NewProvider rate-limits the remote providers with x/time/rate and records
// OpenTelemetry metrics for every call.
package embeddings
