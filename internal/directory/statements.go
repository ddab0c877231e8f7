package directory

import (
	"database/sql"
	"fmt"
)

func (s *MySql) prepareStmt(name, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.statements[name]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement [%s]: %w", name, err)
	}

	s.statements[name] = stmt
	return stmt, nil
}

func (s *MySql) closeStmt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, stmt := range s.statements {
		_ = stmt.Close()
		delete(s.statements, name)
	}
}

func (s *MySql) stmtSelectExecutor() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT executor_id, role, name, email, phone, trust_level,
                   country, region, city, date_added
                   FROM %sexecutor
                   WHERE executor_id = ?`,
		s.prefix,
	)
	return s.prepareStmt("selectExecutor", query)
}
