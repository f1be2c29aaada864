package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db",
		User:     "orders",
		Password: "secret",
		Name:     "orders",
		Port:     "5432",
		SSLMode:  "disable",
		TimeZone: "Asia/Jakarta",
	}
	assert.Equal(t, "host=db user=orders password=secret dbname=orders port=5432 sslmode=disable TimeZone=Asia/Jakarta", cfg.DSN())
}

func TestClose_NilDB(t *testing.T) {
	assert.NoError(t, Close(nil))
}
