package utils

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys read by LoadConfig.
const (
	EnvMigrationsDir     = "PB_MIGRATIONS_DIR"
	EnvSchemaFile        = "PB_SCHEMA_FILE"
	EnvSnapshotFile      = "PB_SNAPSHOT_FILE"
	EnvSystemCollections = "PB_SYSTEM_COLLECTIONS"
)

const (
	DefaultMigrationsDir = "pb_migrations"
	DefaultSchemaFile    = "schema.yaml"
)

type Config struct {
	MigrationsDir string
	SchemaFile    string
	// SnapshotFile is empty when state is always recovered from the
	// migration files.
	SnapshotFile string
	// SystemCollections replaces the built-in list when set.
	SystemCollections []string
}

func LoadEnv(files ...string) {
	err := godotenv.Load(files...)
	if err != nil {
		log.Println("ℹ️  No .env file found, continuing...")
	}
}

// LoadConfig reads the configuration from the environment, falling back to
// defaults for unset keys.
func LoadConfig() Config {
	cfg := Config{
		MigrationsDir: getEnv(EnvMigrationsDir, DefaultMigrationsDir),
		SchemaFile:    getEnv(EnvSchemaFile, DefaultSchemaFile),
		SnapshotFile:  os.Getenv(EnvSnapshotFile),
	}
	if raw := os.Getenv(EnvSystemCollections); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.SystemCollections = append(cfg.SystemCollections, name)
			}
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
