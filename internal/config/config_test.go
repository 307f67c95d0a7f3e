package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the rest of the test from an empty directory so Load never
// picks up a stray config.yaml from the working tree.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(11400), cfg.Pricing.TotalCents)
	assert.Equal(t, "EUR", cfg.Pricing.Currency)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(10000), cfg.Pricing.BaseCents)
	assert.Equal(t, float64(21), cfg.Pricing.IVAPercent)
	assert.Equal(t, "data/licshop.db", cfg.Storage.Path)
	assert.Equal(t, 587, cfg.SMTP.Port)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := inTempDir(t)

	yaml := []byte(`
server:
  port: 9000
pricing:
  total_cents: 22800
  base_cents: 20000
payment:
  bizum_phone: "+34600000000"
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, int64(22800), cfg.Pricing.TotalCents)
	assert.Equal(t, "+34600000000", cfg.Payment.BizumPhone)
	// Fields the file leaves out still get their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := inTempDir(t)

	yaml := []byte("server:\n  port: 9000\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Setenv("LICSHOP_SERVER_PORT", "9090")
	t.Setenv("LICSHOP_SECURITY_ADMIN_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Security.AdminKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero total",
			mutate:  func(c *Config) { c.Pricing.TotalCents = 0 },
			wantErr: "pricing total",
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Pricing.RetentionPercent = -1 },
			wantErr: "percentages",
		},
		{
			name:    "missing storage path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: "storage path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "syslog"
	cfg.Logging.FilePath = ""

	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "both", cfg.Logging.Output)
	assert.Equal(t, "logs/app.log", cfg.Logging.FilePath)
}
