package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name      string
	idColumn  string
	timeType  string
	floatType string
	numbered  bool // $1-style placeholders
	textTimes bool // timestamps stored as RFC 3339 text
}

var (
	postgresDialect = dialect{
		name:      "postgres",
		idColumn:  "BIGSERIAL PRIMARY KEY",
		timeType:  "TIMESTAMPTZ",
		floatType: "DOUBLE PRECISION",
		numbered:  true,
	}
	sqliteDialect = dialect{
		name:      "sqlite",
		idColumn:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		timeType:  "TEXT",
		floatType: "REAL",
		textTimes: true,
	}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg converts a timestamp into a query argument; zero times become NULL.
func (d dialect) timeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	if d.textTimes {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

func (d dialect) schema() []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS auction_records (
			id                     %[1]s,
			case_number            TEXT    NOT NULL,
			item_number            TEXT    NOT NULL DEFAULT '1',
			court_name             TEXT    NOT NULL DEFAULT '',
			property_type          TEXT    NOT NULL DEFAULT 'other',
			address                TEXT    NOT NULL DEFAULT '',
			building_name          TEXT    NOT NULL DEFAULT '',
			region                 TEXT    NOT NULL DEFAULT '',
			notes                  TEXT    NOT NULL DEFAULT '',
			appraisal_value        BIGINT  NOT NULL DEFAULT 0,
			minimum_sale_price     BIGINT  NOT NULL DEFAULT 0,
			bid_deposit            BIGINT  NOT NULL DEFAULT 0,
			auction_date           %[2]s,
			auction_date_estimated BOOLEAN NOT NULL DEFAULT FALSE,
			auction_time           TEXT    NOT NULL DEFAULT '',
			failure_count          INTEGER NOT NULL DEFAULT 0,
			current_status         TEXT    NOT NULL DEFAULT 'active',
			source_url             TEXT    NOT NULL DEFAULT '',
			scraped_at             %[2]s   NOT NULL,
			data_hash              TEXT    NOT NULL,
			last_checked_at        %[2]s,
			check_count            INTEGER NOT NULL DEFAULT 1,
			updated_count          INTEGER NOT NULL DEFAULT 0,
			created_at             %[2]s   NOT NULL
		)`, d.idColumn, d.timeType),
		`CREATE INDEX IF NOT EXISTS idx_auction_records_case   ON auction_records(case_number)`,
		`CREATE INDEX IF NOT EXISTS idx_auction_records_status ON auction_records(current_status)`,
		`CREATE INDEX IF NOT EXISTS idx_auction_records_market ON auction_records(region, property_type)`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS analysis_results (
			id        %[1]s,
			record_id BIGINT NOT NULL UNIQUE REFERENCES auction_records(id) ON DELETE CASCADE,
			%[2]s
		)`, d.idColumn, d.analysisColumns()),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS analysis_history (
			id        %[1]s,
			record_id BIGINT NOT NULL REFERENCES auction_records(id) ON DELETE CASCADE,
			%[2]s
		)`, d.idColumn, d.analysisColumns()),
		`CREATE INDEX IF NOT EXISTS idx_analysis_history_record ON analysis_history(record_id)`,
	}
}

func (d dialect) analysisColumns() string {
	f := d.floatType
	return strings.Join([]string{
		"profitability_score    " + f + " NOT NULL",
		"risk_score             " + f + " NOT NULL",
		"liquidity_score        " + f + " NOT NULL",
		"location_score         " + f + " NOT NULL",
		"legal_risk_score       " + f + " NOT NULL",
		"market_trend_score     " + f + " NOT NULL",
		"investment_score       INTEGER NOT NULL",
		"investment_grade       TEXT NOT NULL",
		"discount_rate          " + f + " NOT NULL",
		"estimated_market_price BIGINT NOT NULL",
		"expected_roi           " + f + " NOT NULL",
		"estimated_final_price  BIGINT NOT NULL",
		"predicted_sale_rate    " + f + " NOT NULL",
		"success_probability    " + f + " NOT NULL",
		"competition_level      INTEGER NOT NULL",
		"price_volatility_index " + f + " NOT NULL",
		"hold_period_months     INTEGER NOT NULL",
		"risk_level             TEXT NOT NULL",
		"target_profit_rate     " + f + " NOT NULL",
		"model_version          TEXT NOT NULL",
		"model_confidence       " + f + " NOT NULL",
		"analyzed_at            " + d.timeType + " NOT NULL",
	}, ",\n\t\t\t")
}

const recordColumns = `id, case_number, item_number, court_name, property_type, address,
	building_name, region, notes, appraisal_value, minimum_sale_price, bid_deposit,
	auction_date, auction_date_estimated, auction_time, failure_count, current_status,
	source_url, scraped_at, data_hash, last_checked_at, check_count, updated_count, created_at`

const analysisColumns = `record_id, profitability_score, risk_score, liquidity_score,
	location_score, legal_risk_score, market_trend_score, investment_score, investment_grade,
	discount_rate, estimated_market_price, expected_roi, estimated_final_price,
	predicted_sale_rate, success_probability, competition_level, price_volatility_index,
	hold_period_months, risk_level, target_profit_rate, model_version, model_confidence,
	analyzed_at`

// sqlStore implements Store over database/sql for every supported dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) errorf(op string, err error) error {
	return fmt.Errorf("%s: %s: %w", s.d.name, op, err)
}

func (s *sqlStore) LoadIndex(ctx context.Context) ([]models.IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_number, address, data_hash, auction_date, auction_date_estimated
		FROM auction_records
		ORDER BY id`)
	if err != nil {
		return nil, s.errorf("load index", err)
	}
	defer rows.Close()

	var out []models.IndexEntry
	for rows.Next() {
		var e models.IndexEntry
		if err := rows.Scan(&e.ID, &e.CaseNumber, &e.Address, &e.Hash, scanTime{&e.AuctionDate}, &e.AuctionDateEstimated); err != nil {
			return nil, s.errorf("scan index row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertRecord(ctx context.Context, rec *models.AuctionRecord) (int64, error) {
	checked := rec.LastCheckedAt
	if checked.IsZero() {
		checked = rec.ScrapedAt
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = rec.ScrapedAt
	}
	query := s.d.rebind(`
		INSERT INTO auction_records (case_number, item_number, court_name, property_type,
			address, building_name, region, notes, appraisal_value, minimum_sale_price,
			bid_deposit, auction_date, auction_date_estimated, auction_time, failure_count,
			current_status, source_url, scraped_at, data_hash, last_checked_at, check_count,
			updated_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?)
		RETURNING id`)

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		rec.CaseNumber, rec.ItemNumber, rec.CourtName, string(rec.PropertyType),
		rec.Address, rec.BuildingName, rec.Region, rec.Notes, rec.AppraisalValue, rec.MinimumSalePrice,
		rec.BidDeposit, s.d.timeArg(rec.AuctionDate), rec.AuctionDateEstimated, rec.AuctionTime, rec.FailureCount,
		string(rec.CurrentStatus), rec.SourceURL, s.d.timeArg(rec.ScrapedAt), rec.DataHash, s.d.timeArg(checked),
		s.d.timeArg(created),
	).Scan(&id)
	if err != nil {
		return 0, s.errorf("insert record "+rec.CaseNumber, err)
	}
	return id, nil
}

func (s *sqlStore) UpdateRecord(ctx context.Context, rec *models.AuctionRecord) error {
	query := s.d.rebind(`
		UPDATE auction_records SET
			case_number = ?, item_number = ?, court_name = ?, property_type = ?, address = ?,
			building_name = ?, region = ?, notes = ?, appraisal_value = ?, minimum_sale_price = ?,
			bid_deposit = ?, auction_date = ?, auction_date_estimated = ?, auction_time = ?,
			failure_count = ?, current_status = ?, source_url = ?, scraped_at = ?, data_hash = ?,
			last_checked_at = ?, check_count = check_count + 1, updated_count = updated_count + 1
		WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		rec.CaseNumber, rec.ItemNumber, rec.CourtName, string(rec.PropertyType), rec.Address,
		rec.BuildingName, rec.Region, rec.Notes, rec.AppraisalValue, rec.MinimumSalePrice,
		rec.BidDeposit, s.d.timeArg(rec.AuctionDate), rec.AuctionDateEstimated, rec.AuctionTime,
		rec.FailureCount, string(rec.CurrentStatus), rec.SourceURL, s.d.timeArg(rec.ScrapedAt), rec.DataHash,
		s.d.timeArg(rec.ScrapedAt), rec.ID,
	)
	if err != nil {
		return s.errorf(fmt.Sprintf("update record %d", rec.ID), err)
	}
	return s.expectOne(res, fmt.Sprintf("update record %d", rec.ID))
}

func (s *sqlStore) TouchRecord(ctx context.Context, id int64, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`
		UPDATE auction_records
		SET last_checked_at = ?, check_count = check_count + 1
		WHERE id = ?`), s.d.timeArg(checkedAt), id)
	if err != nil {
		return s.errorf(fmt.Sprintf("touch record %d", id), err)
	}
	return s.expectOne(res, fmt.Sprintf("touch record %d", id))
}

func (s *sqlStore) expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return s.errorf(op, err)
	}
	if n == 0 {
		return s.errorf(op, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) GetRecord(ctx context.Context, id int64) (*models.AuctionRecord, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+recordColumns+` FROM auction_records WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.errorf(fmt.Sprintf("get record %d", id), ErrNotFound)
	}
	if err != nil {
		return nil, s.errorf(fmt.Sprintf("get record %d", id), err)
	}
	return rec, nil
}

func (s *sqlStore) ListRecordIDs(ctx context.Context, status models.Status) ([]int64, error) {
	query := `SELECT id FROM auction_records ORDER BY id`
	var args []any
	if status != "" {
		query = s.d.rebind(`SELECT id FROM auction_records WHERE current_status = ? ORDER BY id`)
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.errorf("list record ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, s.errorf("scan record id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqlStore) ListActive(ctx context.Context) ([]*models.AuctionRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT `+recordColumns+` FROM auction_records
		WHERE current_status = ?
		ORDER BY id`), string(models.StatusActive))
	if err != nil {
		return nil, s.errorf("list active", err)
	}
	defer rows.Close()

	var out []*models.AuctionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, s.errorf("scan active record", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqlStore) Deactivate(ctx context.Context, hashes map[int64]string) (int, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.errorf("deactivate: begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.d.rebind(`
		UPDATE auction_records SET current_status = ?, data_hash = ?
		WHERE id = ? AND current_status = ?`))
	if err != nil {
		return 0, s.errorf("deactivate: prepare", err)
	}
	defer stmt.Close()

	total := 0
	for id, hash := range hashes {
		res, err := stmt.ExecContext(ctx, string(models.StatusInactive), hash, id, string(models.StatusActive))
		if err != nil {
			return 0, s.errorf(fmt.Sprintf("deactivate %d", id), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, s.errorf(fmt.Sprintf("deactivate %d", id), err)
		}
		total += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, s.errorf("deactivate: commit", err)
	}
	return total, nil
}

func (s *sqlStore) DuplicateGroups(ctx context.Context) ([]models.DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, case_number, address FROM auction_records ORDER BY id`)
	if err != nil {
		return nil, s.errorf("duplicate groups", err)
	}
	defer rows.Close()

	type key struct{ caseNumber, address string }
	groups := make(map[key][]int64)
	var order []key
	for rows.Next() {
		var id int64
		var k key
		if err := rows.Scan(&id, &k.caseNumber, &k.address); err != nil {
			return nil, s.errorf("scan duplicate row", err)
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.errorf("duplicate groups", err)
	}

	var out []models.DuplicateGroup
	for _, k := range order {
		if ids := groups[k]; len(ids) > 1 {
			out = append(out, models.DuplicateGroup{CaseNumber: k.caseNumber, Address: k.address, IDs: ids})
		}
	}
	return out, nil
}

func (s *sqlStore) DeleteRecords(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.errorf("delete records: begin", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"analysis_history", "analysis_results"} {
		q := s.d.rebind(`DELETE FROM ` + table + ` WHERE record_id IN (` + placeholders + `)`)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, s.errorf("delete "+table, err)
		}
	}
	res, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM auction_records WHERE id IN (`+placeholders+`)`), args...)
	if err != nil {
		return 0, s.errorf("delete records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.errorf("delete records", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, s.errorf("delete records: commit", err)
	}
	return int(n), nil
}

func (s *sqlStore) Comparables(ctx context.Context, region string, pt models.PropertyType, since time.Time) ([]models.Comparable, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT appraisal_value, minimum_sale_price, current_status, scraped_at
		FROM auction_records
		WHERE region = ? AND property_type = ?
		ORDER BY scraped_at`), region, string(pt))
	if err != nil {
		return nil, s.errorf("comparables", err)
	}
	defer rows.Close()

	var out []models.Comparable
	for rows.Next() {
		var c models.Comparable
		var status string
		if err := rows.Scan(&c.AppraisalValue, &c.MinimumSalePrice, &status, scanTime{&c.ScrapedAt}); err != nil {
			return nil, s.errorf("scan comparable", err)
		}
		// Filtered here rather than in SQL so text and native timestamps
		// compare the same way.
		if c.ScrapedAt.Before(since) {
			continue
		}
		c.Status = models.Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) analysisArgs(res *models.AnalysisResult) []any {
	return []any{
		res.RecordID, res.ProfitabilityScore, res.RiskScore, res.LiquidityScore,
		res.LocationScore, res.LegalRiskScore, res.MarketTrendScore, res.InvestmentScore, string(res.InvestmentGrade),
		res.DiscountRate, res.EstimatedMarketPrice, res.ExpectedROI, res.EstimatedFinalPrice,
		res.PredictedSaleRate, res.SuccessProbability, res.CompetitionLevel, res.PriceVolatilityIndex,
		res.HoldPeriodMonths, res.RiskLevel, res.TargetProfitRate, res.ModelVersion, res.ModelConfidence,
		s.d.timeArg(res.AnalyzedAt),
	}
}

func (s *sqlStore) SaveAnalysis(ctx context.Context, res *models.AnalysisResult, retainHistory bool) error {
	values := strings.TrimSuffix(strings.Repeat("?, ", 23), ", ")
	var updates []string
	for _, col := range strings.Split(analysisColumns, ",") {
		col = strings.TrimSpace(col)
		if col == "record_id" {
			continue
		}
		updates = append(updates, col+" = excluded."+col)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.errorf("save analysis: begin", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, s.d.rebind(`
		INSERT INTO analysis_results (`+analysisColumns+`)
		VALUES (`+values+`)
		ON CONFLICT (record_id) DO UPDATE SET `+strings.Join(updates, ", ")+`
		RETURNING id`), s.analysisArgs(res)...).Scan(&id)
	if err != nil {
		return s.errorf(fmt.Sprintf("save analysis %d", res.RecordID), err)
	}

	if retainHistory {
		_, err = tx.ExecContext(ctx, s.d.rebind(`
			INSERT INTO analysis_history (`+analysisColumns+`)
			VALUES (`+values+`)`), s.analysisArgs(res)...)
		if err != nil {
			return s.errorf(fmt.Sprintf("save analysis history %d", res.RecordID), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.errorf("save analysis: commit", err)
	}
	res.ID = id
	return nil
}

func (s *sqlStore) GetAnalysis(ctx context.Context, recordID int64) (*models.AnalysisResult, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT id, `+analysisColumns+` FROM analysis_results WHERE record_id = ?`), recordID)
	res, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.errorf(fmt.Sprintf("get analysis %d", recordID), ErrNotFound)
	}
	if err != nil {
		return nil, s.errorf(fmt.Sprintf("get analysis %d", recordID), err)
	}
	return res, nil
}

func (s *sqlStore) ListScored(ctx context.Context) ([]models.ScoredListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id FROM analysis_results
		ORDER BY investment_score DESC, record_id`)
	if err != nil {
		return nil, s.errorf("list scored", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, s.errorf("scan scored id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.errorf("list scored", err)
	}

	out := make([]models.ScoredListing, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		res, err := s.GetAnalysis(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ScoredListing{Record: rec, Analysis: res})
	}
	return out, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.AuctionRecord, error) {
	r := &models.AuctionRecord{}
	var propertyType, status string
	err := row.Scan(
		&r.ID, &r.CaseNumber, &r.ItemNumber, &r.CourtName, &propertyType, &r.Address,
		&r.BuildingName, &r.Region, &r.Notes, &r.AppraisalValue, &r.MinimumSalePrice, &r.BidDeposit,
		scanTime{&r.AuctionDate}, &r.AuctionDateEstimated, &r.AuctionTime, &r.FailureCount, &status,
		&r.SourceURL, scanTime{&r.ScrapedAt}, &r.DataHash, scanTime{&r.LastCheckedAt}, &r.CheckCount,
		&r.UpdatedCount, scanTime{&r.CreatedAt},
	)
	if err != nil {
		return nil, err
	}
	r.PropertyType = models.PropertyType(propertyType)
	r.CurrentStatus = models.Status(status)
	return r, nil
}

func scanAnalysis(row rowScanner) (*models.AnalysisResult, error) {
	a := &models.AnalysisResult{}
	var grade string
	err := row.Scan(
		&a.ID, &a.RecordID, &a.ProfitabilityScore, &a.RiskScore, &a.LiquidityScore,
		&a.LocationScore, &a.LegalRiskScore, &a.MarketTrendScore, &a.InvestmentScore, &grade,
		&a.DiscountRate, &a.EstimatedMarketPrice, &a.ExpectedROI, &a.EstimatedFinalPrice,
		&a.PredictedSaleRate, &a.SuccessProbability, &a.CompetitionLevel, &a.PriceVolatilityIndex,
		&a.HoldPeriodMonths, &a.RiskLevel, &a.TargetProfitRate, &a.ModelVersion, &a.ModelConfidence,
		scanTime{&a.AnalyzedAt},
	)
	if err != nil {
		return nil, err
	}
	a.InvestmentGrade = models.Grade(grade)
	return a, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// scanTime reads a timestamp stored either natively or as text.
type scanTime struct {
	t *time.Time
}

func (s scanTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*s.t = time.Time{}
		return nil
	case time.Time:
		*s.t = x
		return nil
	case []byte:
		return s.parse(string(x))
	case string:
		return s.parse(x)
	default:
		return fmt.Errorf("storage: cannot scan %T into time", v)
	}
}

func (s scanTime) parse(v string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			*s.t = t
			return nil
		}
	}
	return fmt.Errorf("storage: unrecognized time %q", v)
}
