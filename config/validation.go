package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"levelkit/adapters/sqlx"
	"levelkit/core"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names, e.g. leveling.leaderboard_lead
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return slices.Contains(core.AllEventTypes, core.EventType(fl.Field().String()))
	})
	return v
}

// Validate checks field constraints and the cross-section rules the tags
// cannot express. All problems are reported together.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	switch c.Storage.Adapter {
	case "file":
		if c.Storage.File.Path == "" {
			problems = append(problems, "storage.file.path cannot be empty")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			problems = append(problems, "storage.redis.addr cannot be empty")
		}
	case "sql":
		switch c.Storage.SQL.Driver {
		case sqlx.DriverPostgres, sqlx.DriverMySQL, sqlx.DriverSQLite:
		default:
			problems = append(problems, fmt.Sprintf("storage.sql.driver %q is not supported", c.Storage.SQL.Driver))
		}
		if c.Storage.SQL.DSN == "" {
			problems = append(problems, "storage.sql.dsn cannot be empty")
		}
	}

	if len(c.Events.WebhookURLs) > 0 && c.Events.WebhookTimeout <= 0 {
		problems = append(problems, "events.webhook_timeout must be positive when webhooks are configured")
	}

	if c.Security.EnableRateLimit {
		if c.Security.RateLimit.RequestsPerMinute <= 0 {
			problems = append(problems, "security.rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.Security.RateLimit.BurstSize <= 0 {
			problems = append(problems, "security.rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return field + " cannot be empty"
	case "gt", "gte":
		return fmt.Sprintf("%s must be %s %s", field, map[string]string{"gt": ">", "gte": ">="}[fe.Tag()], fe.Param())
	case "ltfield":
		return fmt.Sprintf("%s must be smaller than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "http_url":
		return fmt.Sprintf("%s must be an absolute http(s) URL, got %q", field, fe.Value())
	case "event_type":
		return fmt.Sprintf("%s: unknown event type %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
