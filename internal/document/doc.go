// Package document defines the core entities shared across the mailroom
// pipeline: attachments, email context, processing results, and the
// scored matches produced by asset identification and classification.
package document
