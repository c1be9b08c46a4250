package presaledb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	_ "github.com/lib/pq" // registers the postgres driver for sql.Open
	log "github.com/sirupsen/logrus"
)

type config struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DBName   string `toml:"dbname"`
	SSLMode  string `toml:"sslmode"`
}

func (c config) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName,
		sslMode,
	)
}

func loadConfig(configPath string) (config, error) {
	var cfg config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return config{}, fmt.Errorf("decode %s: %w", configPath, err)
	}
	return cfg, nil
}

func OpenPostgres(configPath string) (*sql.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return sql.Open("postgres", cfg.dsn())
}

func OpenPostgresWithRetries(configPath string) *sql.DB {
	interval := time.Second * 5
	for {
		db, err := OpenPostgres(configPath)
		if err == nil {
			err := db.Ping()
			if err == nil {
				return db
			}
			log.Printf("Failed to ping Postgres: %v", err)
		} else {
			log.Printf("Failed to open postgres: %v", err)
		}
		time.Sleep(interval)
	}
}
