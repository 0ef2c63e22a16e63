package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/okian/lmsbridge/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.StorePath, convey.ShouldEqual, "lmsbridge.sqlite")
				convey.So(cfg.AMQPRoutingKeys, convey.ShouldResemble, []string{"#"})
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("LMSBRIDGE_ADDR", ":8080")
			_ = os.Setenv("LMSBRIDGE_API_BASE_URL", "https://erp.example.com")
			_ = os.Setenv("LMSBRIDGE_API_TOKEN", "s3cret")
			_ = os.Setenv("LMSBRIDGE_WORKER_COUNT", "16")
			_ = os.Setenv("LMSBRIDGE_INCLUDE_IDEMPOTENCY_KEY", "false")
			_ = os.Setenv("LMSBRIDGE_AMQP_ROUTING_KEYS", "user.*,grade.*")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.APIBaseURL, convey.ShouldEqual, "https://erp.example.com")
				convey.So(cfg.APIToken, convey.ShouldEqual, "s3cret")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.IncludeIdempotencyKey, convey.ShouldBeFalse)
				convey.So(cfg.AMQPRoutingKeys, convey.ShouldResemble, []string{"user.*", "grade.*"})
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
api_base_url: "https://erp.example.com"
worker_count: 4
max_attempts: 3
wwwroot: "https://campus.example.org"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("LMSBRIDGE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.MaxAttempts, convey.ShouldEqual, 3)
				convey.So(cfg.Domain(), convey.ShouldEqual, "campus.example.org")
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
worker_count: 24
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("LMSBRIDGE_CONFIG", tmpFile)
			_ = os.Setenv("LMSBRIDGE_WORKER_COUNT", "32")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("LMSBRIDGE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("LMSBRIDGE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the redis dedupe backend has no address", func() {
			_ = os.Setenv("LMSBRIDGE_DEDUPE_BACKEND", "redis")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "redis_addr")
			})

			convey.Convey("And setting the address fixes it", func() {
				_ = os.Setenv("LMSBRIDGE_REDIS_ADDR", "localhost:6379")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.DedupeBackend, convey.ShouldEqual, config.DedupeRedis)
			})
		})

		convey.Convey("When the timezone is unknown", func() {
			_ = os.Setenv("LMSBRIDGE_LOCAL_TIMEZONE", "Mars/Olympus_Mons")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then loading fails with a config error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "local_timezone")
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("LMSBRIDGE_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func createTempConfigFile(content string) string {
	f, err := os.CreateTemp("", "lmsbridge-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	return f.Name()
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix) {
			key := strings.SplitN(kv, "=", 2)[0]
			_ = os.Unsetenv(key)
		}
	}
}
