package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"SimBank/internal/money"
)

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from SIMBANK_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("SIMBANK_BANK_ID", &c.Bank.ID)
	e.str("SIMBANK_BANK_ACCOUNT", &c.Bank.Account)
	e.str("SIMBANK_BANK_TEAM", &c.Bank.Team)
	e.str("SIMBANK_CENTRAL_BANK", &c.Bank.CentralBank)
	e.str("SIMBANK_CENTRAL_ACCOUNT", &c.Bank.CentralAccount)
	e.list("SIMBANK_ADMIN_TEAMS", &c.Bank.AdminTeams)

	e.str("SIMBANK_STORE_DRIVER", &c.Store.Driver)
	e.str("SIMBANK_POSTGRES_DSN", &c.Store.PostgresDSN)
	e.integer("SIMBANK_POSTGRES_MAX_OPEN_CONNS", &c.Store.MaxOpenConns)
	e.integer("SIMBANK_POSTGRES_MAX_IDLE_CONNS", &c.Store.MaxIdleConns)
	e.str("SIMBANK_MIGRATIONS_DIR", &c.Store.MigrationsDir)
	e.boolean("SIMBANK_AUTO_MIGRATE", &c.Store.AutoMigrate)
	e.integer("SIMBANK_KNOWN_NUMBERS", &c.Store.KnownNumbers)

	e.str("SIMBANK_HTTP_ADDR", &c.Server.HTTPAddr)
	e.str("SIMBANK_GRPC_ADDR", &c.Server.GRPCAddr)
	e.str("SIMBANK_METRICS_ADDR", &c.Server.MetricsAddr)

	e.duration("SIMBANK_REAL_DAY_DURATION", &c.Clock.RealDayDuration)
	e.str("SIMBANK_TIME_AUTHORITY_URL", &c.Clock.AuthorityURL)

	e.rate("SIMBANK_INTEREST_RATE", &c.Loans.InterestRate)
	e.amount("SIMBANK_LOAN_CAP", &c.Loans.LoanCap)
	e.rate("SIMBANK_LOANABLE_FRACTION", &c.Loans.LoanableFraction)
	e.rate("SIMBANK_INSTALMENT_RATE", &c.Loans.InstalmentRate)
	e.rate("SIMBANK_THRESHOLD_RATE", &c.Loans.ThresholdRate)
	e.list("SIMBANK_SWEEP_EXCLUDED", &c.Loans.SweepExcluded)

	e.banks("SIMBANK_INTERBANK_BANKS", &c.Interbank.Banks)

	e.integer("SIMBANK_NOTIFY_WORKERS", &c.Notify.Workers)
	e.integer("SIMBANK_NOTIFY_QUEUE_SIZE", &c.Notify.QueueSize)

	e.str("SIMBANK_NATS_URL", &c.NATS.URL)
	e.str("SIMBANK_REDIS_URL", &c.Redis.URL)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = i
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func (e *envReader) rate(key string, dst *money.Rate) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	r, err := money.ParseRate(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = r
}

func (e *envReader) amount(key string, dst *money.Amount) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	a, err := money.ParseAmount(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = a
}

// list reads a comma-separated value; an empty value clears the list.
func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// banks reads "id=url,id=url".
func (e *envReader) banks(key string, dst *map[string]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, url, found := strings.Cut(pair, "=")
		if !found || id == "" || url == "" {
			e.fail(key, fmt.Errorf("malformed entry %q, want id=url", pair))
			continue
		}
		out[strings.TrimSpace(id)] = strings.TrimSpace(url)
	}
	*dst = out
}
