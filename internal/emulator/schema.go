package emulator

// Schema is applied on every open; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS indexes (
	name TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL,
	metric TEXT NOT NULL,
	replicas INTEGER NOT NULL,
	shards INTEGER NOT NULL,
	pods INTEGER NOT NULL,
	pod_type TEXT NOT NULL,
	metadata_config TEXT NOT NULL DEFAULT '',
	source_collection TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	state_until INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS vectors (
	index_name TEXT NOT NULL,
	namespace TEXT NOT NULL,
	id TEXT NOT NULL,
	embedding BLOB NOT NULL,
	metadata TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (index_name, namespace, id)
);

CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	dimension INTEGER NOT NULL,
	metric TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	vector_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS collection_vectors (
	collection TEXT NOT NULL,
	namespace TEXT NOT NULL,
	id TEXT NOT NULL,
	embedding BLOB NOT NULL,
	metadata TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (collection, namespace, id)
);
`
