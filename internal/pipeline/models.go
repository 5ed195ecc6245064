package pipeline

// Dimension and fact rows of the target star schema. Surrogate keys are
// dense integers assigned from 1 in processing order; each key space is
// independent.

// AccountRow is one row of the account dimension. One row per source
// account, never deduplicated.
type AccountRow struct {
	AccountID   int64   `db:"account_id"`
	LimitAmount float64 `db:"limit_amount"`
	Products    string  `db:"products"`
}

// CustomerRow is one row of the customer dimension. BirthDate is an ISO
// YYYY-MM-DD string, or empty when the source value was absent or
// unparseable.
type CustomerRow struct {
	CustomerID int64  `db:"customer_id"`
	Name       string `db:"name"`
	Username   string `db:"username"`
	BirthDate  string `db:"birth_date"`
}

// AccountCustomerRow is one customer↔account edge. Edges whose declared
// account reference never resolved are absent, not dangling.
type AccountCustomerRow struct {
	CustomerID int64 `db:"customer_id"`
	AccountID  int64 `db:"account_id"`
}

// DateRow is one row of the date dimension, one per distinct calendar date
// in first-seen order.
type DateRow struct {
	DateID int64  `db:"date_id"`
	Date   string `db:"date"`
}

// FactRow is one row of the transaction fact table. TransactionCount is the
// enclosing group's summary value, identical across all facts of a group.
type FactRow struct {
	TransactionID    int64   `db:"transaction_id"`
	AccountID        int64   `db:"account_id"`
	DateID           int64   `db:"date_id"`
	TransactionCount int64   `db:"transaction_count"`
	Amount           float64 `db:"amount"`
	TransactionType  string  `db:"transaction_type"`
	Symbol           string  `db:"symbol"`
	Price            float64 `db:"price"`
	Total            float64 `db:"total"`
}

// StarSchema bundles the five output collections of one transform run.
type StarSchema struct {
	Accounts         []AccountRow
	Customers        []CustomerRow
	AccountCustomers []AccountCustomerRow
	Dates            []DateRow
	Facts            []FactRow

	Skipped SkipCounts
}

// SkipCounts tracks rows the transform silently suppressed, per category.
// The counts are diagnostic only; they never change accept/reject behaviour.
type SkipCounts struct {
	// UnresolvedGroups counts transaction groups dropped whole because their
	// account reference resolved to no surrogate key.
	UnresolvedGroups int

	// MissingDates counts individual transactions skipped for having no date
	// value.
	MissingDates int

	// BadDates counts individual transactions skipped because their date
	// value failed to parse.
	BadDates int

	// BadNumbers counts individual transactions skipped because a numeric
	// field could not be coerced to a float.
	BadNumbers int

	// DanglingAccountRefs counts customer-declared account references that
	// resolved to no surrogate key.
	DanglingAccountRefs int

	// BadBirthDates counts customers whose birth date was present but
	// unparseable; the row itself is kept with an empty birth date.
	BadBirthDates int
}

// Total returns the number of suppressed values across all categories.
// BadBirthDates is included even though the customer row survives, since the
// field value itself was lost.
func (c SkipCounts) Total() int {
	return c.UnresolvedGroups + c.MissingDates + c.BadDates + c.BadNumbers +
		c.DanglingAccountRefs + c.BadBirthDates
}
