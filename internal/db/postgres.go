package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
	"github.com/planforge/planforge-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "planforge", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Session{},
		&types.Source{},
		&types.Message{},
		&types.Plan{},
		&types.PlanItem{},
		&types.Subtopic{},
		&types.Question{},
		&types.Answer{},
		&types.UserAnswer{},
		&types.CompletionLog{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	s.log.Info("Configuring foreign key relationships for postgres tables...")
	cascades := []struct {
		table, constraint, column, refTable string
	}{
		{"source", "fk_source_session_id", "session_id", "session"},
		{"message", "fk_message_session_id", "session_id", "session"},
		{"plan", "fk_plan_session_id", "session_id", "session"},
		{"completion_log", "fk_completion_log_session_id", "session_id", "session"},
		{"plan_item", "fk_plan_item_plan_id", "plan_id", "plan"},
		{"subtopic", "fk_subtopic_plan_item_id", "plan_item_id", "plan_item"},
		{"question", "fk_question_subtopic_id", "subtopic_id", "subtopic"},
		{"answer", "fk_answer_question_id", "question_id", "question"},
		{"user_answer", "fk_user_answer_question_id", "question_id", "question"},
	}
	for _, c := range cascades {
		drop := fmt.Sprintf(`ALTER TABLE %q DROP CONSTRAINT IF EXISTS %q`, c.table, c.constraint)
		if err := s.db.Exec(drop).Error; err != nil {
			return fmt.Errorf("drop %s: %w", c.constraint, err)
		}
		add := fmt.Sprintf(`
			ALTER TABLE %q
			ADD CONSTRAINT %q
			FOREIGN KEY (%q)
			REFERENCES %q ("id")
			ON DELETE CASCADE
		`, c.table, c.constraint, c.column, c.refTable)
		if err := s.db.Exec(add).Error; err != nil {
			return fmt.Errorf("add %s: %w", c.constraint, err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
