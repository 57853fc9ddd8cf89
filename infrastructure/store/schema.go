package store

// Schema is the DDL for the batch store. The partial unique index on
// (tenant_id, pam_id, inputs_hash) over non-failed batches is what
// makes find-or-create atomic under concurrent submission: two
// inserters race on the index and exactly one row wins.
const Schema = `
CREATE TABLE IF NOT EXISTS calc_batches (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    pam_id        TEXT NOT NULL,
    contract_id   TEXT,
    inputs_hash   TEXT NOT NULL,
    status        TEXT NOT NULL,
    succeeded     INTEGER NOT NULL DEFAULT 0,
    failed        INTEGER NOT NULL DEFAULT 0,
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ,
    error         TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS calc_batches_inputs_key
    ON calc_batches (tenant_id, pam_id, inputs_hash)
    WHERE status <> 'FAILED';

CREATE TABLE IF NOT EXISTS calc_results (
    batch_id       TEXT NOT NULL REFERENCES calc_batches(id) ON DELETE CASCADE,
    item_id        TEXT NOT NULL,
    adjusted_price NUMERIC,
    adjusted_currency TEXT,
    contributions  JSONB,
    effective_date TIMESTAMPTZ NOT NULL,
    error          TEXT,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (batch_id, item_id)
);
`
