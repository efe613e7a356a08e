package postgresql

// migrations returns the ordered schema migrations for the orchestration core.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_instances (
				id            TEXT PRIMARY KEY,
				workflow_type TEXT NOT NULL,
				current_state TEXT NOT NULL,
				priority      INTEGER NOT NULL DEFAULT 0,
				context       JSONB,
				version       INTEGER NOT NULL DEFAULT 0,
				created_at    TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at    TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS state_transitions (
				id           TEXT PRIMARY KEY,
				workflow_id  TEXT NOT NULL,
				from_state   TEXT NOT NULL,
				to_state     TEXT NOT NULL,
				triggered_by TEXT,
				outcome      TEXT NOT NULL,
				created_at   TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_state_transitions_workflow
				ON state_transitions (workflow_id, created_at);

			CREATE TABLE IF NOT EXISTS jobs (
				id          TEXT PRIMARY KEY,
				workflow_id TEXT,
				payload     JSONB NOT NULL,
				priority    INTEGER NOT NULL DEFAULT 0,
				status      TEXT NOT NULL,
				attempt     INTEGER NOT NULL DEFAULT 0,
				worker_id   TEXT,
				enqueued_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at  TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
			CREATE INDEX IF NOT EXISTS idx_jobs_workflow ON jobs (workflow_id);

			CREATE TABLE IF NOT EXISTS trigger_events (
				id          TEXT PRIMARY KEY,
				source      TEXT NOT NULL,
				type        TEXT NOT NULL,
				payload     JSONB,
				received_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
	}
}
