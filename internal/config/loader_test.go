package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/leadflow/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars(t)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.DefaultRules["purchase"], convey.ShouldEqual, 100)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			t.Setenv("LEADFLOW_ADDR", ":8080")
			t.Setenv("LEADFLOW_QUEUE_SIZE", "500")
			t.Setenv("LEADFLOW_WORKER_COUNT", "16")
			t.Setenv("LEADFLOW_RECALC_ON_RULE_CHANGE", "true")
			t.Setenv("LEADFLOW_INGEST_RATE_LIMIT", "25.5")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.RecalcOnRuleChange, convey.ShouldBeTrue)
				convey.So(cfg.IngestRateLimit, convey.ShouldEqual, 25.5)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			path := writeConfigFile(t, `
addr: ":9090"
store: postgres
postgres_url: "postgres://leadflow@localhost/leadflow?sslmode=disable"
worker_count: 24
cors_origins:
  - "https://app.example.com"
default_rules:
  webinar_attended: 40
`)
			t.Setenv("LEADFLOW_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Store, convey.ShouldEqual, config.StorePostgres)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 24)
				convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"https://app.example.com"})
				convey.So(cfg.DefaultRules["webinar_attended"], convey.ShouldEqual, 40)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			path := writeConfigFile(t, `
addr: ":9090"
queue_size: 3000
worker_count: 24
`)
			t.Setenv("LEADFLOW_CONFIG", path)
			t.Setenv("LEADFLOW_ADDR", ":8080")
			t.Setenv("LEADFLOW_WORKER_COUNT", "32")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 3000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			t.Setenv("LEADFLOW_CONFIG", writeConfigFile(t, `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			t.Setenv("LEADFLOW_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			t.Setenv("LEADFLOW_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a .env file is present in the working directory", func() {
			dir := t.TempDir()
			err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LEADFLOW_DEDUPE_SIZE=1234\n"), 0o600)
			convey.So(err, convey.ShouldBeNil)
			t.Chdir(dir)
			// godotenv writes into the process env; register cleanup for it.
			t.Setenv("LEADFLOW_DEDUPE_SIZE", "")
			_ = os.Unsetenv("LEADFLOW_DEDUPE_SIZE")

			cfg, err := config.Load(ctx)

			convey.Convey("Then its values should be applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 1234)
			})
		})
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leadflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LEADFLOW_CONFIG", "LEADFLOW_ADDR", "LEADFLOW_QUEUE_SIZE", "LEADFLOW_WORKER_COUNT",
		"LEADFLOW_DEDUPE_SIZE", "LEADFLOW_RECALC_ON_RULE_CHANGE", "LEADFLOW_INGEST_RATE_LIMIT",
	} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}
