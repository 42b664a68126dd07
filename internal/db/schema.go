package db

// SchemaSQL defines the SurrealDB tables. A capture whose archived field is
// NONE counts as recent, so queries compare with "!= true" rather than
// "= false".
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS capture SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS image_data ON capture TYPE string;
    DEFINE FIELD IF NOT EXISTS file_type ON capture TYPE string DEFAULT "png";
    DEFINE FIELD IF NOT EXISTS filename ON capture TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS timestamp ON capture TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS archived ON capture TYPE option<bool>;

    DEFINE INDEX IF NOT EXISTS capture_timestamp ON capture FIELDS timestamp;
    DEFINE INDEX IF NOT EXISTS capture_archived ON capture FIELDS archived;

    DEFINE TABLE IF NOT EXISTS response SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS message ON response TYPE string;
    DEFINE FIELD IF NOT EXISTS response_data ON response TYPE object FLEXIBLE;
    -- links are not checked after the fact; a deleted capture leaves a dangling id
    DEFINE FIELD IF NOT EXISTS capture_ids ON response TYPE array<record<capture>>;
    DEFINE FIELD IF NOT EXISTS timestamp ON response TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS response_timestamp ON response FIELDS timestamp;
    DEFINE INDEX IF NOT EXISTS response_capture_ids ON response FIELDS capture_ids;
`
