package catalog

// Schema is the DDL for the catalog tables and the outbox/inbox tables that
// share its database. Every statement uses IF NOT EXISTS so it can run at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS drugs (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    active_principle    TEXT NOT NULL,
    therapeutic_class   TEXT NOT NULL DEFAULT '',
    allergy_families    TEXT[] NOT NULL DEFAULT '{}',
    concentration_mg_ml DOUBLE PRECISION NOT NULL DEFAULT 0,
    min_age_months      INTEGER NOT NULL DEFAULT 0,
    adult_max_daily_mg  DOUBLE PRECISION NOT NULL DEFAULT 0,
    contraindications   TEXT[] NOT NULL DEFAULT '{}',
    permitted_routes    TEXT[] NOT NULL,
    fatal_routes        JSONB NOT NULL DEFAULT '[]',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pediatric_rules (
    drug_id      TEXT PRIMARY KEY REFERENCES drugs(id) ON DELETE CASCADE,
    mode         TEXT NOT NULL,
    min_mg_kg    DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_mg_kg    DOUBLE PRECISION NOT NULL DEFAULT 0,
    ceiling_mg   DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS interactions (
    id          BIGSERIAL PRIMARY KEY,
    substance_a TEXT NOT NULL,
    substance_b TEXT NOT NULL,
    severity    TEXT NOT NULL,
    message     TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox (
    id             BIGSERIAL PRIMARY KEY,
    aggregate_id   TEXT NOT NULL,
    aggregate_type TEXT NOT NULL,
    event_type     TEXT NOT NULL,
    payload        JSONB NOT NULL,
    kafka_topic    TEXT NOT NULL,
    kafka_key      TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at   TIMESTAMPTZ,
    retry_count    INTEGER NOT NULL DEFAULT 0,
    last_error     TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_unprocessed
    ON outbox (created_at) WHERE processed_at IS NULL;

CREATE TABLE IF NOT EXISTS inbox (
    idempotency_key TEXT PRIMARY KEY,
    handler_name    TEXT NOT NULL,
    status          TEXT NOT NULL,
    payload         JSONB,
    result          JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at      TIMESTAMPTZ
);
`
