package cliconfig

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/ratlabs/vecstore/internal/config"
	"github.com/ratlabs/vecstore/internal/vectorstore"
)

type DoctorStatus string

const (
	DoctorPass DoctorStatus = "pass"
	DoctorWarn DoctorStatus = "warn"
	DoctorFail DoctorStatus = "fail"
)

type DoctorCheck struct {
	Name    string
	Status  DoctorStatus
	Message string
}

type DoctorReport struct {
	Checks []DoctorCheck
}

type DoctorOptions struct {
	GenerateGatewayToken bool
}

func (r DoctorReport) HasFailures() bool {
	for _, c := range r.Checks {
		if c.Status == DoctorFail {
			return true
		}
	}
	return false
}

func (r *DoctorReport) add(name string, status DoctorStatus, format string, args ...any) {
	r.Checks = append(r.Checks, DoctorCheck{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
}

// RunDoctor inspects the effective configuration and reports problems that
// would stop the gateway, the search flow or the emulator from working.
func RunDoctor(opts DoctorOptions) (DoctorReport, error) {
	report := DoctorReport{Checks: make([]DoctorCheck, 0, 10)}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		report.add("config_path", DoctorFail, "cannot resolve config path: %v", err)
		return report, nil
	}
	if _, err := os.Stat(cfgPath); err != nil {
		if os.IsNotExist(err) {
			report.add("config_file", DoctorWarn, "config file not found at %s (defaults will be used)", cfgPath)
		} else {
			report.add("config_file", DoctorFail, "cannot access config file: %v", err)
		}
	} else {
		report.add("config_file", DoctorPass, "config file found at %s", cfgPath)
	}

	cfg, err := config.Load()
	if err != nil {
		report.add("config_load", DoctorFail, "config load failed: %v", err)
		return report, nil
	}
	report.add("config_load", DoctorPass, "config loaded successfully")

	if opts.GenerateGatewayToken {
		token, genErr := randomToken()
		switch {
		case genErr != nil:
			report.add("gateway_token", DoctorFail, "failed to generate token: %v", genErr)
		default:
			cfg.Gateway.AuthToken = token
			if saveErr := config.Save(cfg); saveErr != nil {
				report.add("gateway_token", DoctorFail, "generated token but failed to save config: %v", saveErr)
			} else {
				report.add("gateway_token", DoctorPass, "generated and saved gateway auth token")
			}
		}
	}

	checkVectorStore(cfg, &report)
	checkEmbedding(cfg, &report)
	checkGateway(cfg, &report)
	checkSlack(cfg, &report)
	checkEmulatorDB(cfg, &report)

	return report, nil
}

func checkVectorStore(cfg *config.Config, report *DoctorReport) {
	if strings.TrimSpace(cfg.VectorStore.APIKey) == "" {
		report.add("vectorstore_api_key", DoctorFail, "vectorStore.apiKey is empty (or set PINECONE_API_KEY)")
	} else {
		report.add("vectorstore_api_key", DoctorPass, "vector store API key is configured")
	}
	if err := vectorstore.ValidateName(cfg.Search.Index); err != nil {
		report.add("search_index", DoctorFail, "search.index: %v", err)
	} else {
		report.add("search_index", DoctorPass, "search index: %s", cfg.Search.Index)
	}
	if !vectorstore.Metric(cfg.Search.Metric).Valid() {
		report.add("search_metric", DoctorFail, "search.metric %q is not one of cosine, euclidean, dotproduct", cfg.Search.Metric)
	}
}

func checkEmbedding(cfg *config.Config, report *DoctorReport) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Embedding.Provider))
	switch provider {
	case "cohere", "openai":
	default:
		report.add("embedding_provider", DoctorFail, "embedding.provider %q is not supported", cfg.Embedding.Provider)
		return
	}
	if strings.TrimSpace(cfg.Embedding.APIKey) == "" {
		report.add("embedding_api_key", DoctorFail, "embedding.apiKey is empty for provider %s", provider)
	} else {
		report.add("embedding_api_key", DoctorPass, "%s API key is configured", provider)
	}
	if cfg.Cache.Enabled && strings.TrimSpace(cfg.Cache.Addr) == "" {
		report.add("embedding_cache", DoctorFail, "cache.enabled is set but cache.addr is empty")
	}
}

func checkGateway(cfg *config.Config, report *DoctorReport) {
	if isLoopbackHost(cfg.Gateway.Host) {
		report.add("gateway_loopback", DoctorPass, "gateway.host is loopback (%s)", cfg.Gateway.Host)
		return
	}
	if strings.TrimSpace(cfg.Gateway.AuthToken) == "" {
		report.add("gateway_auth_token", DoctorWarn, "gateway.host is %s and gateway.authToken is empty; /search is unauthenticated", cfg.Gateway.Host)
		return
	}
	report.add("gateway_auth_token", DoctorPass, "gateway auth token is configured")
}

func checkSlack(cfg *config.Config, report *DoctorReport) {
	if !cfg.Slack.Enabled {
		return
	}
	if strings.TrimSpace(cfg.Slack.BotToken) == "" || strings.TrimSpace(cfg.Slack.SigningSecret) == "" {
		report.add("slack_credentials", DoctorFail, "slack.enabled requires slack.botToken and slack.signingSecret")
		return
	}
	report.add("slack_credentials", DoctorPass, "slack credentials are configured")
}

func checkEmulatorDB(cfg *config.Config, report *DoctorReport) {
	p := cfg.Emulator.DBPath
	if p == "" || p == ":memory:" {
		report.add("emulator_db", DoctorPass, "emulator uses an in-memory database")
		return
	}
	dir := filepath.Dir(p)
	if err := config.EnsureDir(dir); err != nil {
		report.add("emulator_db", DoctorWarn, "emulator db directory %s is not writable: %v", dir, err)
		return
	}
	report.add("emulator_db", DoctorPass, "emulator db: %s", p)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
