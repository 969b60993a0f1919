package sqlx

// schema returns the DDL statements for driver. Scores are materialized in
// xp_members and only ever changed in the same transaction that inserts the
// matching xp_ledger row.
func schema(driver Driver) []string {
	switch driver {
	case DriverMySQL:
		return []string{
			`CREATE TABLE IF NOT EXISTS xp_members (
				community_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				score BIGINT NOT NULL DEFAULT 0,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (community_id, user_id),
				INDEX idx_xp_members_score (community_id, score)
			)`,
			`CREATE TABLE IF NOT EXISTS xp_ledger (
				seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
				id CHAR(36) NOT NULL UNIQUE,
				community_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				amount BIGINT NOT NULL,
				kind VARCHAR(16) NOT NULL,
				occurred_at DATETIME(6) NOT NULL,
				actor_id VARCHAR(64) NULL,
				INDEX idx_xp_ledger_member (community_id, user_id, seq)
			)`,
			`CREATE TABLE IF NOT EXISTS xp_settings (
				community_id VARCHAR(64) NOT NULL PRIMARY KEY,
				base BIGINT NOT NULL,
				modifier BIGINT NOT NULL,
				amount BIGINT NOT NULL,
				log_channel_id VARCHAR(64) NULL
			)`,
			`CREATE TABLE IF NOT EXISTS xp_rewards (
				community_id VARCHAR(64) NOT NULL,
				role_id VARCHAR(64) NOT NULL,
				level BIGINT NOT NULL,
				message TEXT NULL,
				PRIMARY KEY (community_id, role_id)
			)`,
			`CREATE TABLE IF NOT EXISTS xp_exemptions (
				community_id VARCHAR(64) NOT NULL,
				kind VARCHAR(16) NOT NULL,
				target_id VARCHAR(64) NOT NULL,
				PRIMARY KEY (community_id, kind, target_id)
			)`,
		}
	default:
		seq := "seq BIGSERIAL PRIMARY KEY"
		if driver == DriverSQLite {
			seq = "seq INTEGER PRIMARY KEY AUTOINCREMENT"
		}
		return []string{
			`CREATE TABLE IF NOT EXISTS xp_members (
				community_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				score BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (community_id, user_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_xp_members_score ON xp_members (community_id, score)`,
			`CREATE TABLE IF NOT EXISTS xp_ledger (
				` + seq + `,
				id VARCHAR(36) NOT NULL UNIQUE,
				community_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				amount BIGINT NOT NULL,
				kind VARCHAR(16) NOT NULL,
				occurred_at TIMESTAMP NOT NULL,
				actor_id VARCHAR(64) NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_xp_ledger_member ON xp_ledger (community_id, user_id, seq)`,
			`CREATE TABLE IF NOT EXISTS xp_settings (
				community_id VARCHAR(64) NOT NULL PRIMARY KEY,
				base BIGINT NOT NULL,
				modifier BIGINT NOT NULL,
				amount BIGINT NOT NULL,
				log_channel_id VARCHAR(64) NULL
			)`,
			`CREATE TABLE IF NOT EXISTS xp_rewards (
				community_id VARCHAR(64) NOT NULL,
				role_id VARCHAR(64) NOT NULL,
				level BIGINT NOT NULL,
				message TEXT NULL,
				PRIMARY KEY (community_id, role_id)
			)`,
			`CREATE TABLE IF NOT EXISTS xp_exemptions (
				community_id VARCHAR(64) NOT NULL,
				kind VARCHAR(16) NOT NULL,
				target_id VARCHAR(64) NOT NULL,
				PRIMARY KEY (community_id, kind, target_id)
			)`,
		}
	}
}
