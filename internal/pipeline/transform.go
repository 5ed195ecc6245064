package pipeline

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
)

// Transform converts the three decoded source collections into the star
// schema. It runs four sequential passes: account normalization, customer
// normalization, relationship resolution and fact building. The transform is
// a pure function of its inputs; it performs no I/O and never mutates the
// source records.
func Transform(accounts, customers, transactions []map[string]interface{}) *StarSchema {
	out := &StarSchema{}

	accountKeys := normalizeAccounts(accounts, out)
	declared := normalizeCustomers(customers, out)
	resolveRelationships(declared, accountKeys, out)
	buildFacts(transactions, accountKeys, out)

	return out
}

// normalizeAccounts assigns dense surrogate keys in input order and emits one
// dimension row per source account. It returns the natural→surrogate key map
// used by the later passes; on duplicate natural keys the first insertion
// wins, preserving first-match resolution.
func normalizeAccounts(accounts []map[string]interface{}, out *StarSchema) map[string]int64 {
	keys := make(map[string]int64, len(accounts))
	out.Accounts = make([]AccountRow, 0, len(accounts))

	for i, record := range accounts {
		id := int64(i + 1)
		out.Accounts = append(out.Accounts, AccountRow{
			AccountID:   id,
			LimitAmount: floatOrDefault(record, "limit", 0),
			Products:    strings.Join(stringList(record, "products"), ","),
		})

		nk, ok := naturalKey(record["account_id"])
		if !ok {
			continue
		}
		if _, exists := keys[nk]; !exists {
			keys[nk] = id
		}
	}

	return keys
}

// declaredAccounts carries a customer's raw account references into the
// relationship resolver alongside the assigned surrogate key.
type declaredAccounts struct {
	customerID int64
	refs       []interface{}
}

// normalizeCustomers assigns dense surrogate keys, resolves the username
// fallback and parses birth dates defensively. A customer row is always
// emitted; only the birth date degrades on bad input.
func normalizeCustomers(customers []map[string]interface{}, out *StarSchema) []declaredAccounts {
	out.Customers = make([]CustomerRow, 0, len(customers))
	declared := make([]declaredAccounts, 0, len(customers))

	for i, record := range customers {
		id := int64(i + 1)

		username := stringField(record, "username", "")
		if username == "" {
			username = fmt.Sprintf("user%d", id)
		}

		birthDate := ""
		if raw, seen := dateString(record["birthdate"]); seen {
			if t, err := parseISODate(raw); err == nil {
				birthDate = civil.DateOf(t).String()
			} else {
				out.Skipped.BadBirthDates++
			}
		}

		out.Customers = append(out.Customers, CustomerRow{
			CustomerID: id,
			Name:       stringField(record, "name", ""),
			Username:   username,
			BirthDate:  birthDate,
		})

		refs, _ := record["accounts"].([]interface{})
		declared = append(declared, declaredAccounts{customerID: id, refs: refs})
	}

	return declared
}

// resolveRelationships maps every customer-declared account reference to its
// surrogate key and emits one edge per resolved pair. Dangling references
// are dropped silently.
func resolveRelationships(declared []declaredAccounts, accountKeys map[string]int64, out *StarSchema) {
	for _, d := range declared {
		for _, ref := range d.refs {
			nk, ok := naturalKey(ref)
			if !ok {
				out.Skipped.DanglingAccountRefs++
				continue
			}
			accountID, found := accountKeys[nk]
			if !found {
				out.Skipped.DanglingAccountRefs++
				continue
			}
			out.AccountCustomers = append(out.AccountCustomers, AccountCustomerRow{
				CustomerID: d.customerID,
				AccountID:  accountID,
			})
		}
	}
}

// buildFacts walks the transaction groups, resolves each group's account
// reference, grows the deduplicated date dimension and emits one fact row
// per retained transaction. Failure isolation is per transaction: a bad
// date or number skips that transaction alone, while an unresolved account
// reference skips the whole group.
func buildFacts(groups []map[string]interface{}, accountKeys map[string]int64, out *StarSchema) {
	dateKeys := make(map[string]int64)
	nextFactID := int64(1)

	for _, group := range groups {
		nk, ok := naturalKey(group["account_id"])
		if !ok {
			out.Skipped.UnresolvedGroups++
			continue
		}
		accountID, found := accountKeys[nk]
		if !found {
			out.Skipped.UnresolvedGroups++
			continue
		}

		transactionCount := intOrDefault(group, "transaction_count", 0)

		for _, tx := range objectList(group, "transactions") {
			raw, present := dateString(tx["date"])
			if !present {
				out.Skipped.MissingDates++
				continue
			}
			t, err := parseISODate(raw)
			if err != nil {
				out.Skipped.BadDates++
				continue
			}

			dateKey := civil.DateOf(t).String()
			dateID, seen := dateKeys[dateKey]
			if !seen {
				dateID = int64(len(out.Dates) + 1)
				dateKeys[dateKey] = dateID
				out.Dates = append(out.Dates, DateRow{DateID: dateID, Date: dateKey})
			}

			amount, err := floatOrSkip(tx, "amount", 0)
			if err != nil {
				out.Skipped.BadNumbers++
				continue
			}
			price, err := floatOrSkip(tx, "price", 0)
			if err != nil {
				out.Skipped.BadNumbers++
				continue
			}
			total, err := floatOrSkip(tx, "total", 0)
			if err != nil {
				out.Skipped.BadNumbers++
				continue
			}

			out.Facts = append(out.Facts, FactRow{
				TransactionID:    nextFactID,
				AccountID:        accountID,
				DateID:           dateID,
				TransactionCount: transactionCount,
				Amount:           amount,
				TransactionType:  stringField(tx, "transaction_code", ""),
				Symbol:           stringField(tx, "symbol", ""),
				Price:            price,
				Total:            total,
			})
			nextFactID++
		}
	}
}
