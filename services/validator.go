package services

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
)

//go:embed schemas/auction_record.json
var recordSchemaTemplate string

const recordSchemaURL = "auction_record.json"

// Validator checks normalized records against the embedded JSON schema plus
// the cross-field rules a schema cannot express.
type Validator struct {
	schema *jsonschema.Schema
}

// recordDocument is the JSON shape a record is validated in.
type recordDocument struct {
	CaseNumber       string `json:"caseNumber"`
	ItemNumber       string `json:"itemNumber"`
	CourtName        string `json:"courtName"`
	PropertyType     string `json:"propertyType"`
	Address          string `json:"address"`
	AppraisalValue   int64  `json:"appraisalValue"`
	MinimumSalePrice int64  `json:"minimumSalePrice"`
	BidDeposit       int64  `json:"bidDeposit"`
	AuctionDate      string `json:"auctionDate"`
	AuctionTime      string `json:"auctionTime"`
	FailureCount     int    `json:"failureCount"`
	CurrentStatus    string `json:"currentStatus"`
	SourceURL        string `json:"sourceUrl"`
}

// NewValidator compiles the record schema with the given minimum case-number
// and address lengths.
func NewValidator(minCaseLength, minAddressLength int) (*Validator, error) {
	tmpl, err := template.New("schema").Parse(recordSchemaTemplate)
	if err != nil {
		return nil, fmt.Errorf("validator: parse schema template: %w", err)
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct{ MinCaseLength, MinAddressLength int }{minCaseLength, minAddressLength})
	if err != nil {
		return nil, fmt.Errorf("validator: render schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(recordSchemaURL, &buf); err != nil {
		return nil, fmt.Errorf("validator: add schema: %w", err)
	}
	schema, err := compiler.Compile(recordSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("validator: compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate reports why rec is not fit to persist, or nil.
func (v *Validator) Validate(rec *models.AuctionRecord) error {
	doc := recordDocument{
		CaseNumber:       rec.CaseNumber,
		ItemNumber:       rec.ItemNumber,
		CourtName:        rec.CourtName,
		PropertyType:     string(rec.PropertyType),
		Address:          rec.Address,
		AppraisalValue:   rec.AppraisalValue,
		MinimumSalePrice: rec.MinimumSalePrice,
		BidDeposit:       rec.BidDeposit,
		AuctionTime:      rec.AuctionTime,
		FailureCount:     rec.FailureCount,
		CurrentStatus:    string(rec.CurrentStatus),
		SourceURL:        rec.SourceURL,
	}
	if !rec.AuctionDate.IsZero() {
		doc.AuctionDate = rec.AuctionDate.Format("2006-01-02")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("validator: marshal %s: %w", rec.CaseNumber, err)
	}
	var value interface{}
	if err := json.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("validator: decode %s: %w", rec.CaseNumber, err)
	}
	if err := v.schema.Validate(value); err != nil {
		return fmt.Errorf("validator: %s: %w", rec.CaseNumber, err)
	}

	if rec.AppraisalValue > 0 && rec.MinimumSalePrice > rec.AppraisalValue {
		return fmt.Errorf("validator: %s: minimum sale price %d exceeds appraisal value %d",
			rec.CaseNumber, rec.MinimumSalePrice, rec.AppraisalValue)
	}
	return nil
}
