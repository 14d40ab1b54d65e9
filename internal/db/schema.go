package db

import "fmt"

// schemaSQL contains the database schema initialization SQL. The vector
// index dimension is filled in by SchemaSQL.
const schemaSQL = `
    -- ==========================================================================
    -- INDEX LOG TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS index_log SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source ON index_log TYPE string;
    DEFINE FIELD IF NOT EXISTS source_type ON index_log TYPE string
        ASSERT $value IN ["pdf", "text", "csv", "json", "docx", "web_page", "confluence", "knowledge_snippet"];
    -- NONE while a fetch-based checksum is still unresolved
    DEFINE FIELD IF NOT EXISTS checksum ON index_log TYPE option<string>;
    -- checksum when known, otherwise derived from (source_type, source)
    DEFINE FIELD IF NOT EXISTS dedup_key ON index_log TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON index_log TYPE string
        ASSERT $value IN ["pending", "in_progress", "failed", "completed"];
    DEFINE FIELD IF NOT EXISTS processing_type ON index_log TYPE string DEFAULT "standard"
        ASSERT $value IN ["standard", "hierarchical"];
    DEFINE FIELD IF NOT EXISTS retry_count ON index_log TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS error_message ON index_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS claimed_by ON index_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON index_log TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS created_by ON index_log TYPE string;
    DEFINE FIELD IF NOT EXISTS modified_at ON index_log TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS modified_by ON index_log TYPE string;

    DEFINE INDEX IF NOT EXISTS index_log_identity ON index_log FIELDS source, source_type UNIQUE;
    DEFINE INDEX IF NOT EXISTS index_log_dedup ON index_log FIELDS dedup_key UNIQUE;
    DEFINE INDEX IF NOT EXISTS index_log_status ON index_log FIELDS status;
    DEFINE INDEX IF NOT EXISTS index_log_created ON index_log FIELDS created_at;

    -- ==========================================================================
    -- DISTRIBUTED LOCK TABLE
    -- ==========================================================================
    -- Rows are inserted on acquire and deleted on release, never updated.
    DEFINE TABLE IF NOT EXISTS distributed_lock SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS lock_key ON distributed_lock TYPE string;
    DEFINE FIELD IF NOT EXISTS instance_name ON distributed_lock TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON distributed_lock TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS expires_at ON distributed_lock TYPE option<datetime>;
    DEFINE INDEX IF NOT EXISTS distributed_lock_key ON distributed_lock FIELDS lock_key UNIQUE;

    -- ==========================================================================
    -- VECTOR CHUNK TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS vector_chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS content ON vector_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON vector_chunk TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS source ON vector_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS source_type ON vector_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS checksum ON vector_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON vector_chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON vector_chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS vector_chunk_identity ON vector_chunk FIELDS source, source_type, checksum;
    DEFINE INDEX IF NOT EXISTS vector_chunk_embedding ON vector_chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- KNOWLEDGE GRAPH
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS graph_document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS metadata ON graph_document TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON graph_document TYPE datetime DEFAULT time::now();

    DEFINE TABLE IF NOT EXISTS graph_chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document ON graph_chunk TYPE record<graph_document>;
    DEFINE FIELD IF NOT EXISTS content ON graph_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON graph_chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS metadata ON graph_chunk TYPE option<object> FLEXIBLE;
    DEFINE INDEX IF NOT EXISTS graph_chunk_document ON graph_chunk FIELDS document;

    DEFINE TABLE IF NOT EXISTS graph_entity SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON graph_entity TYPE string;
    DEFINE FIELD IF NOT EXISTS name_key ON graph_entity TYPE string;
    DEFINE FIELD IF NOT EXISTS type ON graph_entity TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON graph_entity TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS mention_count ON graph_entity TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON graph_entity TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON graph_entity TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS graph_entity_name ON graph_entity FIELDS name_key;

    DEFINE TABLE IF NOT EXISTS has_chunk TYPE RELATION IN graph_document OUT graph_chunk SCHEMAFULL;
    DEFINE TABLE IF NOT EXISTS mentions TYPE RELATION IN graph_chunk OUT graph_entity SCHEMAFULL;
`

// SchemaSQL returns the schema with the vector index sized for the embedding model.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(schemaSQL, dimension)
}
