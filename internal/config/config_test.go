package config

import "testing"

func TestLoadClientAppliesDefaults(testContext *testing.T) {
	cfg, err := LoadClient(NewViper())
	if err != nil {
		testContext.Fatalf("failed to load client config: %v", err)
	}
	if cfg.DatabasePath != "spaced.db" || cfg.MediaDir != "media" {
		testContext.Fatalf("unexpected paths: %q, %q", cfg.DatabasePath, cfg.MediaDir)
	}
	if cfg.PushIntervalSeconds != 10 || cfg.PullIntervalSeconds != 30 {
		testContext.Fatalf("unexpected intervals: %d, %d", cfg.PushIntervalSeconds, cfg.PullIntervalSeconds)
	}
	if cfg.Log.Level != "info" || cfg.Log.MaxSizeMB != 50 {
		testContext.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadClientRejectsBadIntervals(testContext *testing.T) {
	configViper := NewViper()
	configViper.Set("sync.push_interval_s", 0)
	if _, err := LoadClient(configViper); err == nil {
		testContext.Fatal("expected zero push interval to be rejected")
	}
}

func TestLoadServerRequiresSigningSecret(testContext *testing.T) {
	if _, err := LoadServer(NewViper()); err == nil {
		testContext.Fatal("expected missing signing secret to be rejected")
	}

	configViper := NewViper()
	configViper.Set("token.signing_secret", "secret")
	cfg, err := LoadServer(configViper)
	if err != nil {
		testContext.Fatalf("failed to load server config: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8787" {
		testContext.Fatalf("unexpected http address: %q", cfg.HTTPAddress)
	}
	if cfg.TokenIssuer != "spaced-sync" || cfg.TokenAudience != "spaced-clients" {
		testContext.Fatalf("unexpected token defaults: %q, %q", cfg.TokenIssuer, cfg.TokenAudience)
	}
}
