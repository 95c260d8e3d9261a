/*
Package vfs holds the virtual file tree of a bundled site.

# Store

A Store is an immutable map from normalized path to FileRecord. Keys are passed
through the resolver when the store is built, so lookups with a normalized
reference always use the same spelling as the bundle. A missing key is an
ordinary result, not an error:

	rec, ok := store.Get("css/style.css")

# Payload

A bundle ships the tree as base64(compressed(JSON)). The producer uses zlib;
gzip and zstd streams are recognised by their magic bytes as well. The JSON
object has three keys:

	{"current_path": "index.html", "fileTree": {...}, "utils": {...}}

PayloadFromDocument digs the blob out of a bundled HTML document.

# Content

Decode returns the bytes of a record and Text returns its text, transcoding
legacy charsets to UTF-8.

# Extraction

Extract writes every record to a directory together with a manifest of the tree
in JSON, YAML or TOML.
*/
package vfs
