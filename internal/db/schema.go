package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- ELEMENT TABLE (read-only input to detection runs)
    -- ==========================================================================
    -- Record id: [project, guid]
    DEFINE TABLE IF NOT EXISTS element SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS guid ON element TYPE string;
    DEFINE FIELD IF NOT EXISTS type ON element TYPE int;
    DEFINE FIELD IF NOT EXISTS type_name ON element TYPE string;
    DEFINE FIELD IF NOT EXISTS category ON element TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS name ON element TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS file ON element TYPE string;
    DEFINE FIELD IF NOT EXISTS project ON element TYPE string;
    DEFINE FIELD IF NOT EXISTS parent ON element TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS position ON element TYPE object;
    DEFINE FIELD IF NOT EXISTS position.x ON element TYPE float;
    DEFINE FIELD IF NOT EXISTS position.y ON element TYPE float;
    DEFINE FIELD IF NOT EXISTS position.z ON element TYPE float;
    DEFINE FIELD IF NOT EXISTS dimensions ON element TYPE object;
    DEFINE FIELD IF NOT EXISTS dimensions.x ON element TYPE float;
    DEFINE FIELD IF NOT EXISTS dimensions.y ON element TYPE float;
    DEFINE FIELD IF NOT EXISTS dimensions.z ON element TYPE float;
    DEFINE FIELD IF NOT EXISTS properties ON element TYPE option<object> FLEXIBLE;

    DEFINE INDEX IF NOT EXISTS element_project_file ON element FIELDS project, file;
    DEFINE INDEX IF NOT EXISTS element_type ON element FIELDS project, type;

    -- ==========================================================================
    -- CLASH_JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS clash_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS guid ON clash_job TYPE string;
    DEFINE FIELD IF NOT EXISTS project ON clash_job TYPE string;
    DEFINE FIELD IF NOT EXISTS files ON clash_job TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS parameters ON clash_job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS status ON clash_job TYPE string
        ASSERT $value IN ["pending", "processing", "completed", "failed"];
    DEFINE FIELD IF NOT EXISTS progress ON clash_job TYPE int DEFAULT 0
        ASSERT $value >= 0 AND $value <= 100;
    DEFINE FIELD IF NOT EXISTS total_elements_analyzed ON clash_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS results ON clash_job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON clash_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS failure_kind ON clash_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_by ON clash_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON clash_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON clash_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON clash_job TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS clash_job_project ON clash_job FIELDS project;
    DEFINE INDEX IF NOT EXISTS clash_job_status ON clash_job FIELDS status;

    -- ==========================================================================
    -- CLASH TABLE (written once per completed job, reviewed afterwards)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS clash SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS guid ON clash TYPE string;
    DEFINE FIELD IF NOT EXISTS job ON clash TYPE string;
    DEFINE FIELD IF NOT EXISTS project ON clash TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON clash TYPE string
        ASSERT $value IN ["open", "reviewing", "resolved"];
    DEFINE FIELD IF NOT EXISTS detected_at ON clash TYPE datetime;
    DEFINE FIELD IF NOT EXISTS resolved_at ON clash TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS element_data ON clash TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS distance ON clash TYPE float;
    DEFINE FIELD IF NOT EXISTS severity ON clash TYPE int ASSERT $value >= 1 AND $value <= 5;
    DEFINE FIELD IF NOT EXISTS category ON clash TYPE string;
    DEFINE FIELD IF NOT EXISTS resolution ON clash TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS snapshot ON clash TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS group_size ON clash TYPE option<int>;

    DEFINE INDEX IF NOT EXISTS clash_job_idx ON clash FIELDS job;
    DEFINE INDEX IF NOT EXISTS clash_job_status_idx ON clash FIELDS job, status;
`
