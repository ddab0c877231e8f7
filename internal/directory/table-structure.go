package directory

import (
	"database/sql"
	"fmt"
	"strings"
)

var executorColumns = []string{
	"executor_id", "role", "name", "email", "phone",
	"trust_level", "country", "region", "city", "date_added",
}

// loadTableStructure returns the column names of a table from information_schema.
func (s *MySql) loadTableStructure(tableName string) (map[string]bool, error) {
	query := `SELECT COLUMN_NAME
          FROM information_schema.columns
         WHERE table_schema = DATABASE() AND table_name = ?
         ORDER BY ORDINAL_POSITION`

	rows, err := s.db.Query(query, s.prefix+tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	columns := make(map[string]bool)
	for rows.Next() {
		var colName string
		if err = rows.Scan(&colName); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns[strings.ToLower(colName)] = true
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("after scanning rows: %w", err)
	}
	return columns, nil
}

// checkColumns fails fast when the legacy table lacks a column the directory reads.
func (s *MySql) checkColumns(tableName string, required []string) error {
	columns, err := s.loadTableStructure(tableName)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %s%s not found", s.prefix, tableName)
	}
	var missing []string
	for _, name := range required {
		if !columns[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("table %s%s: missing columns %s", s.prefix, tableName, strings.Join(missing, ", "))
	}
	return nil
}
