// Package directory reads executor profiles from a legacy MySQL schema.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"taskmarket/entity"
	"taskmarket/internal/config"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

type MySql struct {
	db         *sql.DB
	prefix     string
	statements map[string]*sql.Stmt
	mu         sync.Mutex
}

func NewSQLClient(conf *config.Config) (*MySql, error) {
	if conf.Directory.Driver != "mysql" {
		return nil, fmt.Errorf("mysql directory is not selected in configuration")
	}
	connectionURI := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		conf.Directory.UserName, conf.Directory.Password, conf.Directory.HostName, conf.Directory.Port, conf.Directory.Database)
	db, err := sql.Open("mysql", connectionURI)
	if err != nil {
		return nil, fmt.Errorf("sql connect: %w", err)
	}

	// wait for a database to start: three pings, ten seconds apart
	for i := 0; i < 3; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i == 2 {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		time.Sleep(10 * time.Second)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &MySql{
		db:         db,
		prefix:     conf.Directory.Prefix,
		statements: make(map[string]*sql.Stmt),
	}
	if err = s.checkColumns("executor", executorColumns); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySql) Close() {
	s.closeStmt()
	_ = s.db.Close()
}

// User satisfies market.Directory.
func (s *MySql) User(ctx context.Context, id string) (*entity.User, error) {
	stmt, err := s.stmtSelectExecutor()
	if err != nil {
		return nil, err
	}
	var user entity.User
	var role, level string
	var email, phone, country, region, city sql.NullString
	err = stmt.QueryRowContext(ctx, id).Scan(
		&user.ID,
		&role,
		&user.Name,
		&email,
		&phone,
		&level,
		&country,
		&region,
		&city,
		&user.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("select executor: %w", err)
	}
	user.Role = entity.Role(strings.ToLower(role))
	user.TrustLevel = entity.TrustLevel(strings.ToLower(level))
	if !entity.IsValidTrustLevel(user.TrustLevel) {
		user.TrustLevel = entity.LevelNovice
	}
	user.Email = email.String
	user.Phone = phone.String
	user.Location = entity.Location{
		Country: country.String,
		Region:  region.String,
		City:    city.String,
	}.Normalized()
	return &user, nil
}
