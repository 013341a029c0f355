package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kirillm/riskgate/internal/domain"
	"gopkg.in/yaml.v3"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Broker names
const (
	BrokerPaper = "paper"
	BrokerBybit = "bybit"
)

// TenantConfig одна запись реестра тенантов
type TenantConfig struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	Enabled      bool             `yaml:"enabled"`
	RiskStyle    domain.RiskStyle `yaml:"risk_style"`
	DryRun       bool             `yaml:"dry_run"`
	InitialCash  float64          `yaml:"initial_cash"`
	Universe     []string         `yaml:"universe"`
	ScanInterval time.Duration    `yaml:"scan_interval"`
	Broker       string           `yaml:"broker"`
	// HoldOnCooling по умолчанию для намерений этого тенанта
	HoldOnCooling bool `yaml:"hold_on_cooling"`
}

type tenantsDocument struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

// InUniverse пустая вселенная разрешает любой символ
func (t TenantConfig) InUniverse(symbol string) bool {
	if len(t.Universe) == 0 {
		return true
	}
	for _, s := range t.Universe {
		if s == symbol {
			return true
		}
	}
	return false
}

// LoadTenants читает YAML реестр
func LoadTenants(path string) ([]TenantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}
	return ParseTenants(data)
}

// ParseTenants разбирает реестр, проставляет значения по умолчанию и проверяет
func ParseTenants(data []byte) ([]TenantConfig, error) {
	var doc tenantsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tenants: %w", err)
	}

	seen := make(map[string]bool, len(doc.Tenants))
	for i := range doc.Tenants {
		t := &doc.Tenants[i]
		if !tenantIDPattern.MatchString(t.ID) {
			return nil, fmt.Errorf("tenant #%d: invalid id %q", i+1, t.ID)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("tenant %s: duplicate id", t.ID)
		}
		seen[t.ID] = true

		switch t.RiskStyle {
		case "":
			t.RiskStyle = domain.StyleModerate
		case domain.StyleConservative, domain.StyleModerate, domain.StyleAggressive:
		default:
			return nil, fmt.Errorf("tenant %s: unknown risk style %q", t.ID, t.RiskStyle)
		}

		if t.InitialCash < 0 {
			return nil, fmt.Errorf("tenant %s: negative initial cash", t.ID)
		}
		if t.ScanInterval <= 0 {
			t.ScanInterval = 5 * time.Minute
		}
		if t.Broker == "" {
			t.Broker = BrokerPaper
		}
		if t.Broker != BrokerPaper && t.Broker != BrokerBybit {
			return nil, fmt.Errorf("tenant %s: unknown broker %q", t.ID, t.Broker)
		}
		for j, sym := range t.Universe {
			t.Universe[j] = strings.ToUpper(strings.TrimSpace(sym))
		}
	}
	return doc.Tenants, nil
}
