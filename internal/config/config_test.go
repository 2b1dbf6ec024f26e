package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"

	"spotarb/pkg/crypto"
)

func parseEnv(t *testing.T, vars map[string]string) (*Config, error) {
	t.Helper()
	return Parse(env.Options{Environment: vars})
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parseEnv(t, map[string]string{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(cfg.Exchanges) != 7 {
		t.Errorf("expected 7 default exchanges, got %v", cfg.Exchanges)
	}
	if cfg.Engine.MinMargin != 0.2 || cfg.Engine.Cooldown != 180*time.Second {
		t.Errorf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Rebalance.Interval != 0 {
		t.Error("rebalancer must be off by default")
	}
	if cfg.Database.URL != "" || cfg.Redis.URL != "" {
		t.Error("journal and mirror must be off by default")
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("unexpected HTTP_ADDR default %q", cfg.Server.Addr)
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := parseEnv(t, map[string]string{
		"EXCHANGES":         " binance, bitfinex ",
		"SYMBOLS":           "btc,eth,sol",
		"MIN_MARGIN":        "0.35",
		"DEAL_COOLDOWN":     "2m",
		"LOT_STEPS":         "btc:0.0001,ETH:0.001",
		"DEPOSIT_ADDRESSES": "BINANCE:USDT:0xabc12345678,BITFINEX:XRP:rAddrXRP123:12345",
		"REDIS_URL":         "redis://localhost:6379/0",
		"LOG_LEVEL":         "debug",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := cfg.Exchanges; len(got) != 2 || got[0] != "BINANCE" || got[1] != "BITFINEX" {
		t.Errorf("exchanges not normalized: %v", got)
	}
	if cfg.Symbols[2] != "SOL" {
		t.Errorf("symbols not upper-cased: %v", cfg.Symbols)
	}
	if cfg.Engine.MinMargin != 0.35 || cfg.Engine.Cooldown != 2*time.Minute {
		t.Errorf("engine overrides not applied: %+v", cfg.Engine)
	}
	if cfg.LotSteps["BTC"] != 0.0001 || cfg.LotSteps["ETH"] != 0.001 {
		t.Errorf("unexpected lot steps %v", cfg.LotSteps)
	}

	deposits, err := cfg.Deposits()
	if err != nil {
		t.Fatal(err)
	}
	if len(deposits) != 2 || deposits[1].Tag != "12345" || deposits[1].Asset != "XRP" {
		t.Errorf("unexpected deposits %+v", deposits)
	}

	assets := cfg.RebalanceAssets()
	if assets[len(assets)-1] != "USDT" || len(assets) != 4 {
		t.Errorf("expected base assets plus USDT, got %v", assets)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"single exchange", map[string]string{"EXCHANGES": "BINANCE"}},
		{"no symbols", map[string]string{"SYMBOLS": " , "}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"negative margin", map[string]string{"MIN_MARGIN": "-1"}},
		{"fraction above one", map[string]string{"BALANCE_FRACTION": "1.5"}},
		{"zero exec timeout", map[string]string{"EXEC_TIMEOUT": "0s"}},
		{"zero shards", map[string]string{"BUS_SHARDS": "0"}},
		{"low rebalance ratio", map[string]string{"REBALANCE_INTERVAL": "1m", "REBALANCE_RATIO": "1"}},
		{"bad lot step", map[string]string{"LOT_STEPS": "BTC:0"}},
		{"bad symbol", map[string]string{"SYMBOLS": "BTC,ETH-USD"}},
		{"bad deposit", map[string]string{"DEPOSIT_ADDRESSES": "BINANCE:USDT"}},
		{"unparsable duration", map[string]string{"DEAL_COOLDOWN": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseEnv(t, tt.vars); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseDepositAddress(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
		wantTag string
	}{
		{"binance:usdt:0xabc12345678", false, ""},
		{"BITFINEX:XRP:rAddrXRP123:777", false, "777"},
		{"BINANCE::0xabc12345678", true, ""},
		{"BINANCE:USDT:short", true, ""},
		{"BINANCE:USDT", true, ""},
		{"A:B:C:D:E", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			d, err := ParseDepositAddress(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (d.Exchange != "BINANCE" && d.Exchange != "BITFINEX") {
				t.Errorf("exchange not upper-cased: %+v", d)
			}
			if d.Tag != tt.wantTag {
				t.Errorf("tag = %q, want %q", d.Tag, tt.wantTag)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "SPOTARB_TEST_DOTENV"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("expected .env value, got %q", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env must not fail: %v", err)
	}
}

func mapLookup(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestEnvProviderCredentials(t *testing.T) {
	sec := SecurityConfig{Passphrase: "correct horse", Salt: "spotarb"}
	key, err := crypto.DeriveKey(sec.Passphrase, sec.Salt)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := crypto.SealSecret("s3cret", key)
	if err != nil {
		t.Fatal(err)
	}

	p, err := NewEnvProvider(sec)
	if err != nil {
		t.Fatal(err)
	}
	p.WithLookup(mapLookup(map[string]string{
		"BINANCE_CLIENT_ID":     " api-key ",
		"BINANCE_CLIENT_SECRET": sealed,
		"SYMBOLS":               "BTC",
	}))

	creds, err := p.Credentials("binance")
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if creds.APIKey != "api-key" || creds.Secret != "s3cret" {
		t.Errorf("unexpected credentials %+v", creds)
	}

	empty, err := p.Credentials("CEX")
	if err != nil || !empty.Empty() {
		t.Errorf("missing keys must give empty credentials, got %+v, %v", empty, err)
	}

	var _ Provider = p
	if p.Get("SYMBOLS") != "BTC" {
		t.Error("Get must return raw value")
	}
}

func TestEnvProviderMissingPassphrase(t *testing.T) {
	p, err := NewEnvProvider(SecurityConfig{})
	if err != nil {
		t.Fatal(err)
	}
	p.WithLookup(mapLookup(map[string]string{"BITFINEX_CLIENT_SECRET": "enc:AAAA"}))

	if _, err := p.Secret("BITFINEX_CLIENT_SECRET"); !errors.Is(err, ErrMissingPassphrase) {
		t.Errorf("expected ErrMissingPassphrase, got %v", err)
	}
}

func TestEnvProviderWrongPassphrase(t *testing.T) {
	key, _ := crypto.DeriveKey("right", "spotarb")
	sealed, _ := crypto.SealSecret("s3cret", key)

	p, err := NewEnvProvider(SecurityConfig{Passphrase: "wrong", Salt: "spotarb"})
	if err != nil {
		t.Fatal(err)
	}
	p.WithLookup(mapLookup(map[string]string{"X": sealed}))

	if _, err := p.Secret("X"); !errors.Is(err, crypto.ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}
