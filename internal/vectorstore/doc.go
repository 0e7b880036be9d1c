// Package vectorstore stores embedding vectors for named databases.
//
// A Backend maps each database onto its own storage namespace and hands out
// Collection handles for it. Three backends are provided:
//
//   - chromem: embedded chromem-go database, one directory per database
//   - qdrant: remote Qdrant over gRPC, one collection per database
//   - sqlite: one SQLite file per database with an exact cosine scan
//
// Handles never create storage on Open. Callers check Exists and call Create
// explicitly, which keeps materialization under the caller's control:
//
//	backend, err := vectorstore.NewBackend(cfg, logger)
//	coll, err := backend.Open(ctx, "notes")
//	if ok, _ := coll.Exists(ctx); !ok {
//	    err = coll.Create(ctx, 384, vectorstore.DistanceCosine)
//	}
//	err = coll.Upsert(ctx, []vectorstore.Point{{ID: id, Vector: vec, Payload: payload}})
//	hits, err := coll.Search(ctx, query, 5)
package vectorstore
