package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				owner_id VARCHAR(255),
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				steps JSONB NOT NULL,
				timeout INTEGER NOT NULL DEFAULT 300,
				max_retries INTEGER NOT NULL DEFAULT 3,
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'inactive')),
				total_executions BIGINT NOT NULL DEFAULT 0,
				successful_executions BIGINT NOT NULL DEFAULT 0,
				failed_executions BIGINT NOT NULL DEFAULT 0,
				last_executed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_trigger_status ON workflows(trigger_type, status);
			CREATE INDEX idx_workflows_owner ON workflows(owner_id);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				trigger_user_id VARCHAR(255),
				trigger_data JSONB NOT NULL DEFAULT '{}',
				context JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'cancelled')),
				current_step_id VARCHAR(255) NOT NULL DEFAULT '',
				completed_steps JSONB NOT NULL DEFAULT '[]',
				step_results JSONB NOT NULL DEFAULT '{}',
				logs JSONB NOT NULL DEFAULT '[]',
				error_message TEXT,
				error_details JSONB,
				total_duration DOUBLE PRECISION,
				retry_of VARCHAR(255),
				start_step_id VARCHAR(255),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id, started_at DESC);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
		`,
		2: `
			CREATE TABLE users (
				id VARCHAR(255) PRIMARY KEY,
				email VARCHAR(320) NOT NULL,
				first_name VARCHAR(255) NOT NULL DEFAULT '',
				last_name VARCHAR(255) NOT NULL DEFAULT '',
				kyc_status VARCHAR(50) NOT NULL DEFAULT ''
			);

			CREATE UNIQUE INDEX idx_users_email ON users(LOWER(email));

			CREATE TABLE deals (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE email_templates (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				subject TEXT NOT NULL,
				html_body TEXT NOT NULL DEFAULT '',
				text_body TEXT NOT NULL DEFAULT ''
			);
		`,
	}
}
