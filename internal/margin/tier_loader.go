package margin

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type tierFile struct {
	MaxLeverage uint16 `yaml:"max_leverage"`
	Tiers       []struct {
		MaxLeverage           uint16 `yaml:"max_leverage"`
		InitialMarginRate     string `yaml:"initial_margin_rate"`
		MaintenanceMarginRate string `yaml:"maintenance_margin_rate"`
		MaxPositionSize       string `yaml:"max_position_size"`
	} `yaml:"tiers"`
}

// LoadTable reads a YAML tier file. maxLeverage, when non-zero, overrides the
// file's max_leverage.
func LoadTable(path string, maxLeverage uint16) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier file: %w", err)
	}
	return ParseTable(data, maxLeverage)
}

// ParseTable decodes a YAML tier document:
//
//	max_leverage: 1000
//	tiers:
//	  - max_leverage: 20
//	    initial_margin_rate: "0.05"
//	    maintenance_margin_rate: "0.025"
//	    max_position_size: unbounded
func ParseTable(data []byte, maxLeverage uint16) (*Table, error) {
	var f tierFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tier file: %w", err)
	}

	tiers := make([]LeverageTier, 0, len(f.Tiers))
	for i, raw := range f.Tiers {
		imr, err := decimal.NewFromString(raw.InitialMarginRate)
		if err != nil {
			return nil, fmt.Errorf("tier %d: initial_margin_rate: %w", i, err)
		}
		mmr, err := decimal.NewFromString(raw.MaintenanceMarginRate)
		if err != nil {
			return nil, fmt.Errorf("tier %d: maintenance_margin_rate: %w", i, err)
		}
		size, err := parseSize(raw.MaxPositionSize)
		if err != nil {
			return nil, fmt.Errorf("tier %d: max_position_size: %w", i, err)
		}
		tiers = append(tiers, LeverageTier{
			MaxLeverage:           raw.MaxLeverage,
			InitialMarginRate:     imr,
			MaintenanceMarginRate: mmr,
			MaxPositionSize:       size,
		})
	}

	if maxLeverage == 0 {
		maxLeverage = f.MaxLeverage
	}
	return NewTable(tiers, maxLeverage)
}

func parseSize(v string) (uint64, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "unbounded") {
		return Unbounded, nil
	}
	return strconv.ParseUint(strings.ReplaceAll(v, "_", ""), 10, 64)
}
