package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	cfg := fromViper(viper.New())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cfdi", cfg.SAT.Service)
	assert.Equal(t, "sha1", cfg.SAT.SignatureAlgorithm)
	assert.Equal(t, 60*time.Second, cfg.SAT.Timeout())
	assert.Equal(t, int64(64<<20), cfg.SAT.MaxResponseBytes())
	assert.Equal(t, 30*time.Second, cfg.SAT.PollInterval())
	assert.Equal(t, 20, cfg.SAT.PollMaxAttempts)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestFromViper_Overrides(t *testing.T) {
	v := viper.New()
	v.Set("SAT_SERVICE", "Retenciones")
	v.Set("SAT_SIGNATURE_ALGORITHM", "SHA256")
	v.Set("SAT_TIMEOUT_SECONDS", "15")
	v.Set("SAT_VERIFY_URL", "http://localhost:9000/verifica")

	cfg := fromViper(v)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "retenciones", cfg.SAT.Service)
	assert.Equal(t, "sha256", cfg.SAT.SignatureAlgorithm)
	assert.Equal(t, 15*time.Second, cfg.SAT.Timeout())
	assert.Equal(t, "http://localhost:9000/verifica", cfg.SAT.VerifyURL)
}

func TestValidate_RechazaValoresDesconocidos(t *testing.T) {
	cases := map[string]func(*Config){
		"servicio":  func(c *Config) { c.SAT.Service = "nomina" },
		"algoritmo": func(c *Config) { c.SAT.SignatureAlgorithm = "md5" },
		"timeout":   func(c *Config) { c.SAT.TimeoutSeconds = 0 },
		"sondeo":    func(c *Config) { c.SAT.PollMaxAttempts = -1 },
		"url":       func(c *Config) { c.SAT.DownloadURL = "descarga.svc" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := fromViper(viper.New())
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDSN_EscapaContraseña(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5432, User: "sat", Password: "p@ss/word", DBName: "sat_descarga", SSLMode: "disable"}
	assert.Equal(t, "postgres://sat:p%40ss%2Fword@db:5432/sat_descarga?sslmode=disable", c.DSN())
	assert.Equal(t, c.DSN(), c.ConnectionString())
}
