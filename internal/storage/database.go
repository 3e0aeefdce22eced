package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"studyhub/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured for dbType (sqlite3 or mysql).
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one connection: sqlite has a single writer and :memory: databases
		// are per connection
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		params := dbCfg.Params
		if !strings.Contains(params, "parseTime") {
			params = strings.TrimPrefix(params+"&parseTime=true", "&")
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = sqliteSchema
	case "mysql":
		stmts = mysqlSchema
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		file_name TEXT NOT NULL,
		stored_path TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'uploaded',
		extracted_text TEXT NOT NULL DEFAULT '',
		uploaded_at DATETIME NOT NULL,
		last_accessed DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, uploaded_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
	`CREATE TABLE IF NOT EXISTS document_chunks (
		document_id INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		page_number INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(document_id, chunk_index),
		FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS chat_histories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		document_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(user_id, document_id),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		history_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		relevant_chunks TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(history_id) REFERENCES chat_histories(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_history ON chat_messages(history_id, id)`,
	`CREATE TABLE IF NOT EXISTS lessons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		content TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS flashcard_sets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		document_id INTEGER,
		lesson_id INTEGER,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE,
		FOREIGN KEY(lesson_id) REFERENCES lessons(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flashcard_sets_user ON flashcard_sets(user_id)`,
	`CREATE TABLE IF NOT EXISTS flashcards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		set_id INTEGER NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		difficulty TEXT NOT NULL DEFAULT 'medium',
		review_count INTEGER NOT NULL DEFAULT 0,
		last_reviewed DATETIME,
		is_starred INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(set_id) REFERENCES flashcard_sets(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS quizzes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		document_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		score INTEGER,
		completed_at DATETIME,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quizzes_document ON quizzes(document_id)`,
	`CREATE TABLE IF NOT EXISTS quiz_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		quiz_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		question TEXT NOT NULL,
		options TEXT NOT NULL,
		correct_answer TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT 'medium',
		user_answer TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		username VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token VARCHAR(255) NOT NULL PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		INDEX idx_user_tokens_user (user_id),
		CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS documents (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id BIGINT UNSIGNED NOT NULL,
		title VARCHAR(255) NOT NULL,
		file_name VARCHAR(255) NOT NULL,
		stored_path TEXT NOT NULL,
		mime_type VARCHAR(255) NOT NULL,
		size BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'uploaded',
		extracted_text LONGTEXT NOT NULL,
		uploaded_at DATETIME NOT NULL,
		last_accessed DATETIME NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_documents_user (user_id, uploaded_at),
		INDEX idx_documents_status (status),
		CONSTRAINT fk_documents_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS document_chunks (
		document_id BIGINT UNSIGNED NOT NULL,
		chunk_index INT NOT NULL,
		content MEDIUMTEXT NOT NULL,
		page_number INT NOT NULL DEFAULT 0,
		PRIMARY KEY (document_id, chunk_index),
		CONSTRAINT fk_chunks_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chat_histories (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id BIGINT UNSIGNED NOT NULL,
		document_id BIGINT UNSIGNED NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_history_user_document (user_id, document_id),
		CONSTRAINT fk_histories_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		CONSTRAINT fk_histories_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		history_id BIGINT UNSIGNED NOT NULL,
		role VARCHAR(20) NOT NULL,
		content MEDIUMTEXT NOT NULL,
		relevant_chunks TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_chat_messages_history (history_id, id),
		CONSTRAINT fk_messages_history FOREIGN KEY (history_id) REFERENCES chat_histories(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS lessons (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		course_id BIGINT UNSIGNED NOT NULL DEFAULT 0,
		title VARCHAR(255) NOT NULL,
		content LONGTEXT NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS flashcard_sets (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id BIGINT UNSIGNED NOT NULL,
		document_id BIGINT UNSIGNED NULL,
		lesson_id BIGINT UNSIGNED NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_flashcard_sets_user (user_id),
		CONSTRAINT fk_sets_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		CONSTRAINT fk_sets_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
		CONSTRAINT fk_sets_lesson FOREIGN KEY (lesson_id) REFERENCES lessons(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS flashcards (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		set_id BIGINT UNSIGNED NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		difficulty VARCHAR(10) NOT NULL DEFAULT 'medium',
		review_count INT NOT NULL DEFAULT 0,
		last_reviewed DATETIME NULL,
		is_starred TINYINT(1) NOT NULL DEFAULT 0,
		PRIMARY KEY (id),
		CONSTRAINT fk_cards_set FOREIGN KEY (set_id) REFERENCES flashcard_sets(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS quizzes (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id BIGINT UNSIGNED NOT NULL,
		document_id BIGINT UNSIGNED NOT NULL,
		title VARCHAR(255) NOT NULL,
		score INT NULL,
		completed_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_quizzes_document (document_id),
		CONSTRAINT fk_quizzes_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		CONSTRAINT fk_quizzes_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS quiz_questions (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		quiz_id BIGINT UNSIGNED NOT NULL,
		position INT NOT NULL,
		question TEXT NOT NULL,
		options TEXT NOT NULL,
		correct_answer TEXT NOT NULL,
		explanation TEXT NOT NULL,
		difficulty VARCHAR(10) NOT NULL DEFAULT 'medium',
		user_answer TEXT NOT NULL,
		PRIMARY KEY (id),
		CONSTRAINT fk_questions_quiz FOREIGN KEY (quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
