// Package memory provides the key/content store with vector-similarity
// search that backs every mailroom component: seeded rules, sender
// mappings, past decisions, and review-queue entries all live here.
//
// Two backends are available: an embedded chromem-go store (default, no
// external service) and an external Qdrant server over gRPC. Callers are
// expected to tolerate the store being transiently unavailable; pipeline
// components degrade to neutral scores rather than failing an attachment.
package memory
