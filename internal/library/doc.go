// Package library owns the on-disk layout of an index root and its
// metadata: library.json, the per-book book.json mirrors, and the advisory
// lock that keeps builds and repairs from overlapping.
//
// Layout:
//
//	<root>/library.json
//	<root>/.atrium.lock
//	<root>/books/<book_id>/{book.json,chunks.jsonl,source.<ext>}
//	<root>/search/...
//	<root>/packs/<pack_id>/...
//
// Every write goes through a sibling ".tmp" file and an atomic rename, so a
// crash never leaves a partially written file visible to readers.
package library
