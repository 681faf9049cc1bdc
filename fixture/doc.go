// Package fixture dumps record collections into fixture documents and
// re-applies them to a store.
//
// A fixture document is a JSON array of records in dependency order:
//
//	[
//	  {
//	    "model": "dcim.locationtype",
//	    "fields": {
//	      "name": "Site",
//	      "parent_id": null
//	    }
//	  }
//	]
//
// References between records are written as the referenced record's natural
// key, so documents stay portable across databases whose surrogate
// identifiers differ.
//
// # Components
//
//   - [Serializer] exports named collections through a [Store].
//   - [Writer] writes one document per [collection.Group].
//   - [Reaper] clears every collection named in a document, back to front.
//   - [Loader] imports a document, front to back.
//   - [Lifecycle] reaps every document of a fixture set in descending file
//     name order, then loads them in ascending order.
//
// # Ordering
//
// Ordering comes only from the curated collection lists and the file names.
// No dependency graph is computed: a collection listed before another may be
// referenced by it, so clearing runs in reverse.
//
// # Protection conflicts
//
// [Store.Delete] returns [BlockedByReference] instead of an error when live
// references reject the delete. The [Reaper] then falls back to
// [Store.RawDelete]. The raw path is never tried first.
package fixture
