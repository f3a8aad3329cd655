// Package store persists the small JSON documents each backend service owns:
// the device map, the last scan snapshot and the overlay text.
//
// Documents are always written whole. Two backends are available:
//
//   - FileBackend writes one <dir>/<namespace>/<name>.json per document via
//     a temp file and rename, so a crash never leaves a half-written file.
//   - SQLiteBackend upserts one row per document into the documents table
//     created by the embedded migrations.
//
// Documents namespaces keys per service so the adb and cec services can
// share one backend:
//
//	docs := store.NewDocuments(backend, "adb")
//	var devices map[string]device.Record
//	err := docs.Load(ctx, store.DevicesDocument, &devices)
package store
