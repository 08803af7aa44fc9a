package models

import "time"

// Grade is the investment grade band derived from the composite score.
type Grade string

const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// AnalysisResult is one scoring run over an AuctionRecord. Every score field
// is clamped to its documented range.
type AnalysisResult struct {
	ID       int64
	RecordID int64

	ProfitabilityScore float64
	RiskScore          float64
	LiquidityScore     float64
	LocationScore      float64
	LegalRiskScore     float64
	MarketTrendScore   float64

	InvestmentScore int
	InvestmentGrade Grade

	DiscountRate         float64
	EstimatedMarketPrice int64
	ExpectedROI          float64

	EstimatedFinalPrice  int64
	PredictedSaleRate    float64
	SuccessProbability   float64
	CompetitionLevel     int
	PriceVolatilityIndex float64

	HoldPeriodMonths int
	RiskLevel        string
	TargetProfitRate float64

	ModelVersion    string
	ModelConfidence float64
	AnalyzedAt      time.Time
}

// ScoredListing pairs a record with its latest analysis for reporting.
type ScoredListing struct {
	Record   *AuctionRecord
	Analysis *AnalysisResult
}
