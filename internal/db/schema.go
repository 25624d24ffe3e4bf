package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- PROJECT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS project SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS project_key ON project TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON project TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON project TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS project_key_unique ON project FIELDS project_key UNIQUE;

    -- ==========================================================================
    -- ASSET TABLE (source files / URLs per project)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS asset SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS project ON asset TYPE record<project>;
    DEFINE FIELD IF NOT EXISTS name ON asset TYPE string;
    DEFINE FIELD IF NOT EXISTS type ON asset TYPE string;
    DEFINE FIELD IF NOT EXISTS size ON asset TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON asset TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS asset_project ON asset FIELDS project;

    -- ==========================================================================
    -- CHUNK TABLE (durable text segments, read in pages by the indexer)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS project ON chunk TYPE record<project>;
    DEFINE FIELD IF NOT EXISTS asset ON chunk TYPE option<record<asset>>;
    DEFINE FIELD IF NOT EXISTS text ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON chunk TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS chunk_order ON chunk TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_project ON chunk FIELDS project;
    DEFINE INDEX IF NOT EXISTS chunk_project_order ON chunk FIELDS project, chunk_order;

    -- ==========================================================================
    -- TASK EXECUTION LEDGER
    -- ==========================================================================
    -- One row per attempted logical job. The unique args_hash index is the
    -- single point of mutual exclusion for duplicate submissions.
    DEFINE TABLE IF NOT EXISTS task_execution SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS task_name ON task_execution TYPE string;
    DEFINE FIELD IF NOT EXISTS args_hash ON task_execution TYPE string;
    DEFINE FIELD IF NOT EXISTS task_args ON task_execution TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS queue_task_id ON task_execution TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS status ON task_execution TYPE string
        ASSERT $value IN ['PENDING', 'STARTED', 'SUCCESS', 'FAILURE'];
    DEFINE FIELD IF NOT EXISTS result ON task_execution TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS started_at ON task_execution TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON task_execution TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created_at ON task_execution TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS task_args_hash_unique ON task_execution FIELDS args_hash UNIQUE;
    DEFINE INDEX IF NOT EXISTS task_status ON task_execution FIELDS status;

    -- ==========================================================================
    -- QUEUE TASK TABLE (broker)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS queue_task SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS task_name ON queue_task TYPE string;
    DEFINE FIELD IF NOT EXISTS payload ON queue_task TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS status ON queue_task TYPE string
        ASSERT $value IN ['queued', 'running', 'succeeded', 'failed'];
    DEFINE FIELD IF NOT EXISTS attempts ON queue_task TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS max_attempts ON queue_task TYPE int DEFAULT 3;
    DEFINE FIELD IF NOT EXISTS result ON queue_task TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON queue_task TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS next_run_at ON queue_task TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS created_at ON queue_task TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON queue_task TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS done_at ON queue_task TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS queue_status_runnable ON queue_task FIELDS status, next_run_at;
`
