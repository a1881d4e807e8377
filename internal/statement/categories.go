package statement

import "strings"

// Category is the closed set of spending categories the extractor may emit.
type Category string

const (
	CategoryCloudServices Category = "Cloud Services"
	CategoryDining        Category = "Dining"
	CategoryEntertainment Category = "Entertainment"
	CategoryFuel          Category = "Fuel"
	CategoryHealth        Category = "Health"
	CategoryInsurance     Category = "Insurance"
	CategoryOthers        Category = "Others"
	CategoryShopping      Category = "Shopping"
	CategoryTelecom       Category = "Telecom"
	CategoryTravel        Category = "Travel"
	CategoryUtilities     Category = "Utilities"
)

// Account says whom a transaction is billed to.
type Account string

const (
	AccountPersonal Account = "Personal"
	AccountBusiness Account = "Business"
)

var categories = []Category{
	CategoryCloudServices,
	CategoryDining,
	CategoryEntertainment,
	CategoryFuel,
	CategoryHealth,
	CategoryInsurance,
	CategoryOthers,
	CategoryShopping,
	CategoryTelecom,
	CategoryTravel,
	CategoryUtilities,
}

var accounts = []Account{AccountPersonal, AccountBusiness}

// Categories returns the category enumeration in its canonical order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Accounts returns the account enumeration.
func Accounts() []Account {
	out := make([]Account, len(accounts))
	copy(out, accounts)
	return out
}

// CategoryNames returns the categories as plain strings.
func CategoryNames() []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}

// AccountNames returns the accounts as plain strings.
func AccountNames() []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = string(a)
	}
	return out
}

// Valid reports whether c is a member of the enumeration. The comparison is
// exact: "cloud services" is not a valid category.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// Valid reports whether a is a member of the enumeration.
func (a Account) Valid() bool {
	return a == AccountPersonal || a == AccountBusiness
}

// AllowsBusiness reports whether transactions in category c may be billed to
// the Business account.
func (c Category) AllowsBusiness() bool {
	return c == CategoryCloudServices
}

// normalizeName is used for DCC detection only.
func normalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
