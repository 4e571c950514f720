package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflows keep their graph, goal and settings in one JSONB document
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				scope TEXT NOT NULL,
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_active_trigger ON workflows(scope, trigger_type) WHERE is_active;
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				contact_id TEXT NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				current_node_id TEXT NOT NULL DEFAULT '',
				scheduled_for TIMESTAMP WITH TIME ZONE,
				wake_at TIMESTAMP WITH TIME ZONE,
				data JSONB NOT NULL DEFAULT '{}',
				visits JSONB NOT NULL DEFAULT '{}',
				attempts INTEGER NOT NULL DEFAULT 0,
				error_code TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				last_successful_node_id TEXT NOT NULL DEFAULT '',
				goal_achieved BOOLEAN NOT NULL DEFAULT false,
				allow_multiple BOOLEAN NOT NULL DEFAULT false,
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			-- At most one active single-run execution per (workflow, contact)
			CREATE UNIQUE INDEX idx_executions_single_active
				ON executions(workflow_id, contact_id)
				WHERE status IN ('pending', 'running') AND NOT allow_multiple;

			CREATE INDEX idx_executions_due ON executions(scheduled_for) WHERE scheduled_for IS NOT NULL;
			CREATE INDEX idx_executions_workflow ON executions(workflow_id, status);
			CREATE INDEX idx_executions_contact ON executions(contact_id);

			CREATE TABLE ab_tests (
				workflow_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				variants JSONB NOT NULL,
				sample_size BIGINT NOT NULL,
				winner_metric VARCHAR(20) NOT NULL,
				confidence_level DOUBLE PRECISION NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL,
				winner_variant_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (workflow_id, node_id)
			);

			CREATE TABLE ab_variant_counters (
				workflow_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				variant_id TEXT NOT NULL,
				assigned BIGINT NOT NULL DEFAULT 0,
				sent BIGINT NOT NULL DEFAULT 0,
				opened BIGINT NOT NULL DEFAULT 0,
				clicked BIGINT NOT NULL DEFAULT 0,
				PRIMARY KEY (workflow_id, node_id, variant_id),
				FOREIGN KEY (workflow_id, node_id) REFERENCES ab_tests(workflow_id, node_id) ON DELETE CASCADE
			);

			CREATE TABLE ab_assignments (
				workflow_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				execution_id TEXT NOT NULL,
				variant_id TEXT NOT NULL,
				assigned_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (workflow_id, node_id, execution_id)
			);

			CREATE TABLE step_markers (
				key TEXT PRIMARY KEY,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE contacts (
				id TEXT PRIMARY KEY,
				scope TEXT NOT NULL,
				email TEXT NOT NULL,
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				fields JSONB NOT NULL DEFAULT '{}',
				last_activity_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_contacts_scope ON contacts(scope);

			CREATE TABLE contact_tags (
				contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
				tag TEXT NOT NULL,
				PRIMARY KEY (contact_id, tag)
			);

			CREATE INDEX idx_contact_tags_tag ON contact_tags(tag);

			CREATE TABLE purchases (
				id BIGSERIAL PRIMARY KEY,
				contact_id TEXT NOT NULL,
				product_id TEXT NOT NULL,
				amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
				purchased_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_purchases_contact ON purchases(contact_id);

			CREATE TABLE course_progress (
				contact_id TEXT NOT NULL,
				course_id TEXT NOT NULL,
				percent DOUBLE PRECISION NOT NULL DEFAULT 0,
				completed BOOLEAN NOT NULL DEFAULT false,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (contact_id, course_id)
			);

			CREATE TABLE email_events (
				id TEXT PRIMARY KEY,
				contact_id TEXT NOT NULL,
				execution_id TEXT NOT NULL DEFAULT '',
				workflow_id TEXT NOT NULL DEFAULT '',
				node_id TEXT NOT NULL DEFAULT '',
				variant_id TEXT NOT NULL DEFAULT '',
				type VARCHAR(20) NOT NULL,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_email_events_execution ON email_events(execution_id);

			CREATE TABLE event_log (
				id TEXT PRIMARY KEY,
				scope TEXT NOT NULL,
				type VARCHAR(50) NOT NULL,
				contact_id TEXT NOT NULL,
				payload JSONB NOT NULL,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_event_log_contact ON event_log(contact_id, occurred_at DESC);
		`,
		2: `
			-- Set while a scheduler holds the execution for a step
			ALTER TABLE executions ADD COLUMN leased_until TIMESTAMP WITH TIME ZONE;

			-- error holds the failure code, error_detail the message
			ALTER TABLE executions RENAME COLUMN error TO error_detail;
			ALTER TABLE executions RENAME COLUMN error_code TO error;

			CREATE INDEX idx_executions_workflow_contact ON executions(workflow_id, contact_id, created_at DESC);
		`,
	}
}
