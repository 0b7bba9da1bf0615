package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"SimBank/internal/config"
	"SimBank/internal/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Clock.RealDayDuration)
	assert.True(t, cfg.IsAdmin("admin"))
	assert.False(t, cfg.IsAdmin("team-a"))
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simbank.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bank:
  id: bank-7
  account: "700000000001"
  admin_teams: [ops, auditors]
store:
  driver: postgres
  postgres_dsn: postgres://u:p@db:5432/simbank
clock:
  real_day_duration: 30s
  authority_url: http://time.local/now
loans:
  interest_rate: 0.12
  loan_cap: 2500.50
  sweep_excluded: ["700000000002"]
interbank:
  banks:
    bank-9: http://bank-9.local
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bank-7", cfg.Bank.ID)
	assert.Equal(t, "700000000001", cfg.Bank.Account)
	assert.Equal(t, []string{"ops", "auditors"}, cfg.Bank.AdminTeams)
	assert.Equal(t, config.DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Clock.RealDayDuration)
	assert.Equal(t, "http://time.local/now", cfg.Clock.AuthorityURL)
	assert.Equal(t, money.MustRate("0.12"), cfg.Loans.InterestRate)
	assert.Equal(t, money.Amount(250050), cfg.Loans.LoanCap)
	assert.Equal(t, []string{"700000000002"}, cfg.Loans.SweepExcluded)
	assert.Equal(t, map[string]string{"bank-9": "http://bank-9.local"}, cfg.Interbank.Banks)

	// Untouched sections keep their defaults.
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, money.MustRate("0.10"), cfg.Loans.InstalmentRate)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simbank.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bank:\n  id: from-file\n"), 0o644))

	t.Setenv("SIMBANK_BANK_ID", "from-env")
	t.Setenv("SIMBANK_INTEREST_RATE", "0.07")
	t.Setenv("SIMBANK_REAL_DAY_DURATION", "90s")
	t.Setenv("SIMBANK_ADMIN_TEAMS", "root, ops ,")
	t.Setenv("SIMBANK_INTERBANK_BANKS", "bank-2=http://b2,bank-3=http://b3")
	t.Setenv("SIMBANK_NOTIFY_WORKERS", "8")
	t.Setenv("SIMBANK_AUTO_MIGRATE", "false")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Bank.ID)
	assert.Equal(t, money.MustRate("0.07"), cfg.Loans.InterestRate)
	assert.Equal(t, 90*time.Second, cfg.Clock.RealDayDuration)
	assert.Equal(t, []string{"root", "ops"}, cfg.Bank.AdminTeams)
	assert.Equal(t, map[string]string{"bank-2": "http://b2", "bank-3": "http://b3"}, cfg.Interbank.Banks)
	assert.Equal(t, 8, cfg.Notify.Workers)
	assert.False(t, cfg.Store.AutoMigrate)
}

func TestFromEnvReadsConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simbank.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bank:\n  id: bank-42\n"), 0o644))
	t.Setenv(config.EnvConfigPath, path)

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "bank-42", cfg.Bank.ID)
}

func TestBadEnvValuesAreReported(t *testing.T) {
	t.Setenv("SIMBANK_INTEREST_RATE", "lots")
	t.Setenv("SIMBANK_NOTIFY_WORKERS", "many")
	t.Setenv("SIMBANK_INTERBANK_BANKS", "bank-2")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIMBANK_INTEREST_RATE")
	assert.Contains(t, err.Error(), "SIMBANK_NOTIFY_WORKERS")
	assert.Contains(t, err.Error(), "SIMBANK_INTERBANK_BANKS")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad account", func(c *config.Config) { c.Bank.Account = "12" }, "bank.account"},
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"postgres without dsn", func(c *config.Config) {
			c.Store.Driver = config.DriverPostgres
			c.Store.PostgresDSN = ""
		}, "postgres_dsn"},
		{"fraction above one", func(c *config.Config) { c.Loans.LoanableFraction = money.MustRate("1.5") }, "loanable_fraction"},
		{"self as peer", func(c *config.Config) { c.Interbank.Banks[c.Bank.ID] = "http://me" }, "interbank.banks"},
		{"central is self", func(c *config.Config) { c.Bank.CentralBank = c.Bank.ID }, "central_bank"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := config.Default()
	cfg.Loans.InterestRate = money.MustRate("0.0325")
	require.NoError(t, config.Save(path, cfg))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Loans.InterestRate, loaded.Loans.InterestRate)
	assert.Equal(t, cfg.Loans.LoanCap, loaded.Loans.LoanCap)
	assert.Equal(t, cfg.Clock.RealDayDuration, loaded.Clock.RealDayDuration)
	assert.Equal(t, cfg.Store.ConnMaxLifetime, loaded.Store.ConnMaxLifetime)
}
