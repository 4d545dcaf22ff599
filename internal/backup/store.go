package backup

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/mc-server-manager/internal/database"
)

// Record is one row of the backups table.
type Record struct {
	ID              string                 `json:"id"`
	Instance        string                 `json:"instance"`
	Filename        string                 `json:"filename"`
	SizeBytes       int64                  `json:"size_bytes"`
	FileCount       int                    `json:"file_count"`
	CreatedAt       time.Time              `json:"created_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DestinationType string                 `json:"destination_type"`
	DestinationPath string                 `json:"destination_path,omitempty"`
	Status          string                 `json:"status"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedBy       string                 `json:"created_by,omitempty"`
}

// Store persists backup records.
type Store struct {
	db *database.DB
}

// NewStore creates a store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const recordColumns = `id, instance, filename, size_bytes, file_count, created_at, completed_at,
		       destination_type, destination_path, status, error_message, metadata, created_by`

// Save inserts or updates a record
func (s *Store) Save(record *Record) error {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO backups (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			size_bytes = excluded.size_bytes,
			file_count = excluded.file_count,
			completed_at = excluded.completed_at,
			status = excluded.status,
			error_message = excluded.error_message,
			metadata = excluded.metadata
	`,
		record.ID,
		record.Instance,
		record.Filename,
		record.SizeBytes,
		record.FileCount,
		record.CreatedAt,
		record.CompletedAt,
		record.DestinationType,
		record.DestinationPath,
		record.Status,
		record.ErrorMessage,
		string(metadataJSON),
		record.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save backup record: %w", err)
	}
	return nil
}

// Get returns the record with id or ErrNotFound.
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM backups WHERE id = ?`, id)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup: %w", err)
	}
	return record, nil
}

// List returns the records of instance that are not deleted, newest
// first.
func (s *Store) List(instance string) ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT `+recordColumns+`
		FROM backups
		WHERE instance = ? AND status != ?
		ORDER BY created_at DESC, id DESC
	`, instance, StatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	record := &Record{}
	var completedAt sql.NullTime
	var metadataJSON sql.NullString

	err := row.Scan(
		&record.ID,
		&record.Instance,
		&record.Filename,
		&record.SizeBytes,
		&record.FileCount,
		&record.CreatedAt,
		&completedAt,
		&record.DestinationType,
		&record.DestinationPath,
		&record.Status,
		&record.ErrorMessage,
		&metadataJSON,
		&record.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
			log.Printf("[Backup] Warning: Failed to parse metadata of %s: %v", record.ID, err)
		}
	}
	return record, nil
}
