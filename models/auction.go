package models

import "time"

// PropertyType is the canonical property category of a listing.
type PropertyType string

const (
	PropertyApartment     PropertyType = "apartment"
	PropertyOfficetel     PropertyType = "officetel"
	PropertyDetachedHouse PropertyType = "detached-house"
	PropertyMultiFamily   PropertyType = "multi-family"
	PropertyRowHouse      PropertyType = "row-house"
	PropertyCommercial    PropertyType = "commercial"
	PropertyLand          PropertyType = "land"
	PropertyFactory       PropertyType = "factory"
	PropertyWarehouse     PropertyType = "warehouse"
	PropertyOther         PropertyType = "other"
)

// Valid reports whether t is one of the known property types.
func (t PropertyType) Valid() bool {
	switch t {
	case PropertyApartment, PropertyOfficetel, PropertyDetachedHouse, PropertyMultiFamily,
		PropertyRowHouse, PropertyCommercial, PropertyLand, PropertyFactory,
		PropertyWarehouse, PropertyOther:
		return true
	}
	return false
}

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusInactive  Status = "inactive"
)

// RawRecord is one table row after column roles have been applied, before any
// parsing. Every field is trimmed cell text.
type RawRecord struct {
	CaseNumber     string
	ItemNumber     string
	CourtName      string
	PropertyType   string
	Address        string
	BuildingName   string
	AppraisalValue string
	MinimumPrice   string
	AuctionDate    string
	Status         string
	FailureCount   string
	Notes          string

	SourceURL  string
	CapturedAt time.Time
}

// AuctionRecord is one property listed for judicial auction.
type AuctionRecord struct {
	ID           int64
	CaseNumber   string
	ItemNumber   string
	CourtName    string
	PropertyType PropertyType
	Address      string
	BuildingName string
	Region       string
	Notes        string

	AppraisalValue   int64
	MinimumSalePrice int64
	BidDeposit       int64

	AuctionDate          time.Time
	AuctionDateEstimated bool
	AuctionTime          string
	FailureCount         int

	CurrentStatus Status

	SourceURL     string
	ScrapedAt     time.Time
	DataHash      string
	LastCheckedAt time.Time
	CheckCount    int
	UpdatedCount  int
	CreatedAt     time.Time
}

// DiscountRate returns (appraisal - minimum) / appraisal as a percentage, or 0
// when the appraisal value is unknown.
func (r *AuctionRecord) DiscountRate() float64 {
	if r.AppraisalValue <= 0 {
		return 0
	}
	return float64(r.AppraisalValue-r.MinimumSalePrice) / float64(r.AppraisalValue) * 100
}

// LastSeen is the most recent time a scrape confirmed the record.
func (r *AuctionRecord) LastSeen() time.Time {
	if r.LastCheckedAt.IsZero() {
		return r.ScrapedAt
	}
	return r.LastCheckedAt
}

// IndexEntry is the slice of a stored record the dedup engine needs to
// build its identity index.
type IndexEntry struct {
	ID                   int64
	CaseNumber           string
	Address              string
	Hash                 string
	AuctionDate          time.Time
	AuctionDateEstimated bool
}

// DuplicateGroup lists ids sharing the same (caseNumber, address), oldest first.
type DuplicateGroup struct {
	CaseNumber string
	Address    string
	IDs        []int64
}

// Comparable is a stored record in the same region and property type, used for
// market statistics.
type Comparable struct {
	AppraisalValue   int64
	MinimumSalePrice int64
	Status           Status
	ScrapedAt        time.Time
}
