package models

// InsightReport holds the computed analytics over scored listings.
type InsightReport struct {
	TotalListings    int
	ScoredListings   int
	AverageScore     float64
	MinScore         int
	MaxScore         int
	GradeCounts      map[Grade]int
	TopScored        []ScoredListing
	ListingsByRegion map[string]int

	Batch *BatchResult
}
