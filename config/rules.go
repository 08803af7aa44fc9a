package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed rules.toml
var defaultRules []byte

// Rules is the data-driven configuration of extraction and scoring. It is
// built once at startup and treated as read-only afterwards.
type Rules struct {
	Extraction      ExtractionRules `toml:"extraction" yaml:"extraction"`
	PropertyAliases []TypeAlias     `toml:"property_aliases" yaml:"property_aliases"`
	StatusAliases   []StatusAlias   `toml:"status_aliases" yaml:"status_aliases"`
	Reference       ReferenceTables `toml:"reference" yaml:"reference"`
	Scoring         ScoringRules    `toml:"scoring" yaml:"scoring"`
	Model           ModelRules      `toml:"model" yaml:"model"`

	regionOrder []string
}

// ExtractionRules drive table selection and column role inference.
type ExtractionRules struct {
	TableSignals     []TableSignal `toml:"table_signals" yaml:"table_signals"`
	RowBonus         float64       `toml:"row_bonus" yaml:"row_bonus"`
	MaxRowBonus      float64       `toml:"max_row_bonus" yaml:"max_row_bonus"`
	MinTableScore    float64       `toml:"min_table_score" yaml:"min_table_score"`
	MinTableRows     int           `toml:"min_table_rows" yaml:"min_table_rows"`
	MinAddressLength int           `toml:"min_address_length" yaml:"min_address_length"`
	Roles            []RoleRule    `toml:"roles" yaml:"roles"`
}

// TableSignal adds Weight to a table's score when any keyword, or the
// pattern, occurs anywhere in the table text.
type TableSignal struct {
	Name     string   `toml:"name" yaml:"name"`
	Keywords []string `toml:"keywords" yaml:"keywords"`
	Pattern  string   `toml:"pattern" yaml:"pattern"`
	Weight   float64  `toml:"weight" yaml:"weight"`
}

// RoleRule maps header keywords to a column role. Fallback is the positional
// column used when no header matched; -1 disables it.
type RoleRule struct {
	Role     string   `toml:"role" yaml:"role"`
	Keywords []string `toml:"keywords" yaml:"keywords"`
	Fallback int      `toml:"fallback" yaml:"fallback"`
}

// TypeAlias maps keywords to a canonical property type.
type TypeAlias struct {
	Keywords []string `toml:"keywords" yaml:"keywords"`
	Type     string   `toml:"type" yaml:"type"`
}

// StatusAlias maps keywords to a canonical status.
type StatusAlias struct {
	Keywords []string `toml:"keywords" yaml:"keywords"`
	Status   string   `toml:"status" yaml:"status"`
}

// RegionRating holds the 0-100 ratings of one region.
type RegionRating struct {
	Location    float64 `toml:"location" yaml:"location"`
	Development float64 `toml:"development" yaml:"development"`
	Liquidity   float64 `toml:"liquidity" yaml:"liquidity"`
}

// Average is the mean of the three ratings.
func (r RegionRating) Average() float64 {
	return (r.Location + r.Development + r.Liquidity) / 3
}

// TypeRating holds the 0-100 ratings of one property type.
type TypeRating struct {
	Liquidity float64 `toml:"liquidity" yaml:"liquidity"`
	Growth    float64 `toml:"growth" yaml:"growth"`
	Risk      float64 `toml:"risk" yaml:"risk"`
}

// Bracket maps an inclusive upper bound to a value. Max 0 is unbounded.
type Bracket struct {
	Max   int64   `toml:"max" yaml:"max"`
	Value float64 `toml:"value" yaml:"value"`
}

// FloorBracket maps an inclusive lower bound to a value.
type FloorBracket struct {
	Min   float64 `toml:"min" yaml:"min"`
	Value float64 `toml:"value" yaml:"value"`
}

// ReferenceTables are the static lookup tables used by the scoring engine.
type ReferenceTables struct {
	Regions               map[string]RegionRating `toml:"regions" yaml:"regions"`
	DefaultRegion         RegionRating            `toml:"default_region" yaml:"default_region"`
	PropertyTypes         map[string]TypeRating   `toml:"property_types" yaml:"property_types"`
	DefaultType           TypeRating              `toml:"default_type" yaml:"default_type"`
	PriceRisk             []Bracket               `toml:"price_risk" yaml:"price_risk"`
	DaysToAuctionRisk     []Bracket               `toml:"days_to_auction_risk" yaml:"days_to_auction_risk"`
	EstimatedDateRisk     float64                 `toml:"estimated_date_risk" yaml:"estimated_date_risk"`
	LocationStabilityRisk []FloorBracket          `toml:"location_stability_risk" yaml:"location_stability_risk"`
	PriceLiquidity        []Bracket               `toml:"price_liquidity" yaml:"price_liquidity"`
}

// Weights are the composite score weights; they are normalized before use.
type Weights struct {
	Profitability float64 `toml:"profitability" yaml:"profitability"`
	Risk          float64 `toml:"risk" yaml:"risk"`
	Liquidity     float64 `toml:"liquidity" yaml:"liquidity"`
}

// Normalized scales the weights to sum to 1.
func (w Weights) Normalized() Weights {
	sum := w.Profitability + w.Risk + w.Liquidity
	if sum <= 0 {
		return Weights{Profitability: 1.0 / 3, Risk: 1.0 / 3, Liquidity: 1.0 / 3}
	}
	return Weights{Profitability: w.Profitability / sum, Risk: w.Risk / sum, Liquidity: w.Liquidity / sum}
}

// LegalRules configure the legal-risk sub-score.
type LegalRules struct {
	TenantKeywords    []string       `toml:"tenant_keywords" yaml:"tenant_keywords"`
	TenantPenalty     float64        `toml:"tenant_penalty" yaml:"tenant_penalty"`
	RiskKeywords      []string       `toml:"risk_keywords" yaml:"risk_keywords"`
	KeywordPenalty    float64        `toml:"keyword_penalty" yaml:"keyword_penalty"`
	MaxKeywordPenalty float64        `toml:"max_keyword_penalty" yaml:"max_keyword_penalty"`
	FailurePenalties  []FloorBracket `toml:"failure_penalties" yaml:"failure_penalties"`
}

// GradeBand is one row of the static grade table.
type GradeBand struct {
	Grade        string  `toml:"grade" yaml:"grade"`
	MinScore     float64 `toml:"min_score" yaml:"min_score"`
	HoldMonths   int     `toml:"hold_months" yaml:"hold_months"`
	RiskLevel    string  `toml:"risk_level" yaml:"risk_level"`
	TargetProfit float64 `toml:"target_profit" yaml:"target_profit"`
}

// ScoringRules hold the tunables of the scoring engine.
type ScoringRules struct {
	Weights             Weights     `toml:"weights" yaml:"weights"`
	RentalYield         float64     `toml:"rental_yield" yaml:"rental_yield"`
	MarketMultiplier    float64     `toml:"market_multiplier" yaml:"market_multiplier"`
	FailureRiskPerRound float64     `toml:"failure_risk_per_round" yaml:"failure_risk_per_round"`
	FailureRiskCap      float64     `toml:"failure_risk_cap" yaml:"failure_risk_cap"`
	TrendWindowDays     int         `toml:"trend_window_days" yaml:"trend_window_days"`
	TrendAdjustment     float64     `toml:"trend_adjustment" yaml:"trend_adjustment"`
	LocationAdjustment  float64     `toml:"location_adjustment" yaml:"location_adjustment"`
	VolatilityMin       float64     `toml:"volatility_min" yaml:"volatility_min"`
	VolatilityMax       float64     `toml:"volatility_max" yaml:"volatility_max"`
	Legal               LegalRules  `toml:"legal" yaml:"legal"`
	Grades              []GradeBand `toml:"grades" yaml:"grades"`
}

// SeedSample is one row of the regression seed dataset.
type SeedSample struct {
	AppraisalValue int64   `toml:"appraisal" yaml:"appraisal"`
	FailureCount   int     `toml:"failures" yaml:"failures"`
	SaleRate       float64 `toml:"sale_rate" yaml:"sale_rate"`
}

// ModelRules configure the final-price regression.
type ModelRules struct {
	Version      string       `toml:"version" yaml:"version"`
	ScorePremium float64      `toml:"score_premium" yaml:"score_premium"`
	MaxSaleRate  float64      `toml:"max_sale_rate" yaml:"max_sale_rate"`
	Seed         []SeedSample `toml:"seed" yaml:"seed"`
}

// DefaultRules returns the rules embedded in the binary.
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRules, "toml")
}

// LoadRules reads a rules file; TOML or YAML is chosen by extension. An empty
// path yields the embedded defaults.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %q: %w", path, err)
	}
	format := "toml"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return ParseRules(data, format)
}

// ParseRules decodes and validates rules in the given format ("toml" or "yaml").
func ParseRules(data []byte, format string) (*Rules, error) {
	var r Rules
	var err error
	switch format {
	case "yaml":
		err = yaml.Unmarshal(data, &r)
	default:
		err = toml.Unmarshal(data, &r)
	}
	if err != nil {
		return nil, fmt.Errorf("rules: decode %s: %w", format, err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	r.regionOrder = sortedRegions(r.Reference.Regions)
	return &r, nil
}

func (r *Rules) validate() error {
	if len(r.Extraction.Roles) == 0 {
		return fmt.Errorf("rules: extraction.roles is empty")
	}
	if len(r.Scoring.Grades) == 0 {
		return fmt.Errorf("rules: scoring.grades is empty")
	}
	for i := 1; i < len(r.Scoring.Grades); i++ {
		if r.Scoring.Grades[i].MinScore > r.Scoring.Grades[i-1].MinScore {
			return fmt.Errorf("rules: scoring.grades must be ordered by descending min_score")
		}
	}
	if len(r.Model.Seed) < 3 {
		return fmt.Errorf("rules: model.seed needs at least 3 samples, got %d", len(r.Model.Seed))
	}
	if r.Scoring.VolatilityMax < r.Scoring.VolatilityMin {
		return fmt.Errorf("rules: volatility_max < volatility_min")
	}
	if r.Extraction.MinTableRows < 1 {
		r.Extraction.MinTableRows = 3
	}
	if r.Extraction.MinAddressLength < 1 {
		r.Extraction.MinAddressLength = 5
	}
	return nil
}

// sortedRegions orders region names longest first so that e.g. "강서구" is
// tried before "서구".
func sortedRegions(regions map[string]RegionRating) []string {
	names := make([]string, 0, len(regions))
	for name := range regions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(names[i]), utf8.RuneCountInString(names[j])
		if li != lj {
			return li > lj
		}
		return names[i] < names[j]
	})
	return names
}

// ResolveRegion returns the first known region name contained in address, or "".
func (r *Rules) ResolveRegion(address string) string {
	for _, name := range r.regionOrder {
		if strings.Contains(address, name) {
			return name
		}
	}
	return ""
}

// Region returns the ratings of a region and whether it was found; unknown
// regions get the neutral default.
func (t *ReferenceTables) Region(name string) (RegionRating, bool) {
	if rr, ok := t.Regions[name]; ok && name != "" {
		return rr, true
	}
	return t.DefaultRegion, false
}

// PropertyType returns the ratings of a property type, or the neutral default.
func (t *ReferenceTables) PropertyType(name string) (TypeRating, bool) {
	if tr, ok := t.PropertyTypes[name]; ok {
		return tr, true
	}
	return t.DefaultType, false
}

// Lookup returns the value of the first bracket whose Max covers x.
func Lookup(brackets []Bracket, x int64, fallback float64) float64 {
	for _, b := range brackets {
		if b.Max == 0 || x <= b.Max {
			return b.Value
		}
	}
	return fallback
}

// LookupFloor returns the value of the first bracket whose Min is <= x.
// Brackets are expected in descending Min order.
func LookupFloor(brackets []FloorBracket, x float64, fallback float64) float64 {
	for _, b := range brackets {
		if x >= b.Min {
			return b.Value
		}
	}
	return fallback
}
