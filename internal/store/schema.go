package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		health_status TEXT NOT NULL CHECK (health_status IN ('Good', 'Needs Attention', 'Urgent')),
		details       TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		device_id  TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         BIGSERIAL PRIMARY KEY,
		subject    TEXT NOT NULL,
		token      TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS meal_checkins (
		id          UUID PRIMARY KEY,
		student_id  TEXT NOT NULL,
		device_id   TEXT NOT NULL,
		scan_id     TEXT NOT NULL DEFAULT '',
		served_on   DATE NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meal_checkins_day ON meal_checkins (served_on)`,
	`CREATE INDEX IF NOT EXISTS idx_meal_checkins_student ON meal_checkins (student_id, occurred_at DESC)`,

	`CREATE TABLE IF NOT EXISTS hygiene_reports (
		id          UUID PRIMARY KEY,
		kitchen     TEXT NOT NULL DEFAULT '',
		mime_type   TEXT NOT NULL,
		image_url   TEXT NOT NULL DEFAULT '',
		photo       BYTEA,
		status      TEXT NOT NULL DEFAULT 'pending',
		cleanliness TEXT NOT NULL DEFAULT '',
		notice      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		analyzed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hygiene_reports_created ON hygiene_reports (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS feedback (
		id               UUID PRIMARY KEY,
		body             TEXT NOT NULL,
		summary          TEXT NOT NULL DEFAULT '',
		impact_level     TEXT NOT NULL DEFAULT '',
		suggested_action TEXT NOT NULL DEFAULT '',
		manual           BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS donations (
		id           UUID PRIMARY KEY,
		food_item    TEXT NOT NULL,
		quantity_kg  DOUBLE PRECISION NOT NULL,
		message      TEXT NOT NULL,
		charities    JSONB NOT NULL DEFAULT '[]',
		status       TEXT NOT NULL DEFAULT 'queued',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		published_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS expenses (
		id          UUID PRIMARY KEY,
		category    TEXT NOT NULL CHECK (category IN ('groceries', 'transport', 'utensils', 'other')),
		amount      NUMERIC(12, 2) NOT NULL CHECK (amount >= 0),
		description TEXT NOT NULL DEFAULT '',
		receipt_url TEXT NOT NULL DEFAULT '',
		spent_on    DATE NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_expenses_spent_on ON expenses (spent_on)`,
}
