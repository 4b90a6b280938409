package storage

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("DefaultConfig Host = %s, want localhost", cfg.Host)
	}
	if cfg.Port != "5432" {
		t.Errorf("DefaultConfig Port = %s, want 5432", cfg.Port)
	}
	if cfg.MaxConns != 25 {
		t.Errorf("DefaultConfig MaxConns = %d, want 25", cfg.MaxConns)
	}
	if cfg.MinConns != 5 {
		t.Errorf("DefaultConfig MinConns = %d, want 5", cfg.MinConns)
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{
		Host:     "db.example.com",
		Port:     "5433",
		User:     "u",
		Password: "p",
		DBName:   "d",
		SSLMode:  "require",
	}

	want := "host=db.example.com port=5433 user=u password=p dbname=d sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestDB_InvalidConfig(t *testing.T) {
	cfg := &Config{
		Host:        "127.0.0.1",
		Port:        "1",
		User:        "invalid",
		Password:    "invalid",
		DBName:      "invalid",
		SSLMode:     "disable",
		MaxConns:    1,
		MinConns:    1,
		MaxIdleTime: time.Second,
		MaxLifetime: time.Second,
	}

	db, err := NewDB(cfg)
	if err == nil {
		db.Close()
		t.Skip("Connection to invalid port succeeded unexpectedly, skipping test")
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID("")
	if err != nil || id.String() == "" {
		t.Errorf("parseID(\"\") = %v, %v; want a fresh id", id, err)
	}

	if _, err := parseID("not-a-uuid"); err == nil {
		t.Error("parseID should reject malformed ids")
	}
}

func TestJSONB_Scan(t *testing.T) {
	var j JSONB
	if err := j.Scan([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("Scan([]byte) error = %v", err)
	}
	if j["a"] != float64(1) {
		t.Errorf("Scan([]byte) = %v", j)
	}

	var s StringArray
	if err := s.Scan(`["x","y"]`); err != nil {
		t.Fatalf("Scan(string) error = %v", err)
	}
	if len(s) != 2 || s[1] != "y" {
		t.Errorf("Scan(string) = %v", s)
	}

	if err := s.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}
