package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,
    name TEXT NOT NULL,
    amount REAL NOT NULL,
    location TEXT NOT NULL,
    zip TEXT,
    sender_id TEXT,
    company_id TEXT,
    balance REAL NOT NULL DEFAULT 0,
    fraud INTEGER,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

// schemaCompanies is the legitimacy registry. Rows are never updated or
// deleted.
const schemaCompanies = `
CREATE TABLE IF NOT EXISTS companies (
    name TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// schemaArtifacts stores each training run's profile and model together so
// a restore can never pair a model with a foreign profile.
const schemaArtifacts = `
CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    profile_id TEXT NOT NULL,
    profile TEXT NOT NULL,
    model TEXT NOT NULL,
    schema_fingerprint TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    status TEXT NOT NULL,
    score REAL NOT NULL,
    threshold REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    profile_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    result TEXT NOT NULL,
    reasons TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tx ON evaluations(tx_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_status ON evaluations(status);
CREATE INDEX IF NOT EXISTS idx_evaluations_timestamp ON evaluations(timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaCompanies,
		schemaArtifacts,
		schemaEvaluations,
	}
}
