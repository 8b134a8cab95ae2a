package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/liveconcierge/concierge/internal/prompt"
	"github.com/liveconcierge/concierge/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// ErrAgentNotFound is returned when the requested agent ID does not exist.
var ErrAgentNotFound = fmt.Errorf("agent not found")

// AgentRecord is one stored concierge configuration.
type AgentRecord struct {
	ID        string             `json:"id"`
	Slug      string             `json:"slug"` // stable human-readable key, e.g. "med-spa"
	Config    prompt.AgentConfig `json:"config"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// AgentStore is a SQLite-based store for agent configurations.
type AgentStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewAgentStore opens (or creates) the agents database at dbPath.
func NewAgentStore(dbPath string, log *logger.Logger) (*AgentStore, error) {
	storeLogger := log.Named("sqlite")

	storeLogger.Info("Initializing SQLite agent store",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &AgentStore{
		db:     db,
		logger: storeLogger,
	}
	if err := store.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize agent store: %w", err)
	}

	return store, nil
}

// initDB initializes the database tables
func (s *AgentStore) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			business_name TEXT NOT NULL,
			business_type TEXT,
			primary_goal TEXT NOT NULL,
			tone TEXT NOT NULL,
			qualification_questions TEXT NOT NULL,
			handoff_cta TEXT NOT NULL,
			voice_name TEXT NOT NULL,
			disclaimer TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create agents table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agents_slug ON agents(slug)`)
	if err != nil {
		return fmt.Errorf("failed to create slug index: %w", err)
	}

	return nil
}

// Create inserts a new agent configuration and returns the stored record.
func (s *AgentStore) Create(slug string, cfg prompt.AgentConfig) (*AgentRecord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	questions, err := json.Marshal(cfg.QualificationQuestions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qualification questions: %w", err)
	}

	record := &AgentRecord{
		ID:        uuid.New().String(),
		Slug:      slug,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	_, err = s.db.Exec(
		`INSERT INTO agents
		(id, slug, business_name, business_type, primary_goal, tone, qualification_questions, handoff_cta, voice_name, disclaimer, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Slug,
		cfg.BusinessName,
		cfg.BusinessType,
		cfg.PrimaryGoal,
		cfg.Tone,
		string(questions),
		cfg.HandoffCTA,
		cfg.VoiceName,
		cfg.Disclaimer,
		record.CreatedAt.Format(time.RFC3339),
		record.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert agent: %w", err)
	}

	s.logger.Info("Agent created",
		String("id", record.ID),
		String("slug", record.Slug),
		String("business", cfg.BusinessName))

	return record, nil
}

// Get returns the agent with the given ID or slug.
func (s *AgentStore) Get(idOrSlug string) (*AgentRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, slug, business_name, business_type, primary_goal, tone, qualification_questions, handoff_cta, voice_name, disclaimer, created_at, updated_at
		FROM agents
		WHERE id = ? OR slug = ?`,
		idOrSlug, idOrSlug,
	)
	record, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return record, nil
}

// List returns all agents ordered by creation time.
func (s *AgentStore) List() ([]*AgentRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, slug, business_name, business_type, primary_goal, tone, qualification_questions, handoff_cta, voice_name, disclaimer, created_at, updated_at
		FROM agents
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var records []*AgentRecord
	for rows.Next() {
		record, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Update replaces the configuration of an existing agent.
func (s *AgentStore) Update(id string, cfg prompt.AgentConfig) (*AgentRecord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	questions, err := json.Marshal(cfg.QualificationQuestions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qualification questions: %w", err)
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE agents
		SET business_name = ?, business_type = ?, primary_goal = ?, tone = ?, qualification_questions = ?, handoff_cta = ?, voice_name = ?, disclaimer = ?, updated_at = ?
		WHERE id = ?`,
		cfg.BusinessName,
		cfg.BusinessType,
		cfg.PrimaryGoal,
		cfg.Tone,
		string(questions),
		cfg.HandoffCTA,
		cfg.VoiceName,
		cfg.Disclaimer,
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return nil, ErrAgentNotFound
	}

	return s.Get(id)
}

// Delete removes an agent by ID.
func (s *AgentStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrAgentNotFound
	}

	s.logger.Info("Agent deleted", String("id", id))
	return nil
}

// Close closes the underlying database.
func (s *AgentStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanAgent.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*AgentRecord, error) {
	var record AgentRecord
	var businessType, disclaimer sql.NullString
	var questions, createdAt, updatedAt string

	if err := row.Scan(
		&record.ID,
		&record.Slug,
		&record.Config.BusinessName,
		&businessType,
		&record.Config.PrimaryGoal,
		&record.Config.Tone,
		&questions,
		&record.Config.HandoffCTA,
		&record.Config.VoiceName,
		&disclaimer,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if businessType.Valid {
		record.Config.BusinessType = businessType.String
	}
	if disclaimer.Valid {
		record.Config.Disclaimer = disclaimer.String
	}
	if err := json.Unmarshal([]byte(questions), &record.Config.QualificationQuestions); err != nil {
		return nil, fmt.Errorf("failed to decode qualification questions: %w", err)
	}

	var err error
	record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &record, nil
}

// SeedDefaults inserts the demo agent configurations if their slugs are not
// already present. Safe to call on every startup.
func (s *AgentStore) SeedDefaults() error {
	for slug, cfg := range defaultAgents() {
		if _, err := s.Get(slug); err == nil {
			continue
		} else if err != ErrAgentNotFound {
			return err
		}
		if _, err := s.Create(slug, cfg); err != nil {
			return fmt.Errorf("failed to seed agent %s: %w", slug, err)
		}
	}
	return nil
}

func defaultAgents() map[string]prompt.AgentConfig {
	return map[string]prompt.AgentConfig{
		"med-spa": {
			BusinessName: "Azure Medical Spa",
			BusinessType: "Luxury Wellness Center",
			PrimaryGoal:  "Prequalify for treatments and book skin consultations",
			Tone:         "Soothing, professional, elegant, and expert",
			QualificationQuestions: []string{
				"What skin concerns are you currently focused on?",
				"Have you received cosmetic treatments before?",
				"Are you looking for a single session or a long-term plan?",
			},
			HandoffCTA: "Book a skin analysis consultation",
			VoiceName:  "Zephyr",
		},
		"home-service": {
			BusinessName: "Elite Plumbers",
			BusinessType: "Emergency Plumbing Service",
			PrimaryGoal:  "Assess urgency and dispatch technicians",
			Tone:         "Action-oriented, calm, reliable, and clear",
			QualificationQuestions: []string{
				"Is this an active leak or a planned installation?",
				"Is the water currently shut off?",
				"When was the last time this fixture was serviced?",
			},
			HandoffCTA: "Request an urgent dispatch",
			VoiceName:  "Puck",
		},
		"default": {
			BusinessName: "Live Concierge",
			BusinessType: "SaaS Platform",
			PrimaryGoal:  "Answer product questions and book a platform demo",
			Tone:         "Friendly, knowledgeable, and concise",
			QualificationQuestions: []string{
				"What kind of business are you looking to add a concierge to?",
				"Do you currently handle inbound leads manually?",
			},
			HandoffCTA: "Schedule a product demo",
			VoiceName:  "Kore",
		},
	}
}
