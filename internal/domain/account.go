package domain

// AccountKind classifies an account. It only determines the normal-balance
// sign used when presenting balances.
type AccountKind string

const (
	KindAsset     AccountKind = "asset"
	KindLiability AccountKind = "liability"
	KindRevenue   AccountKind = "revenue"
	KindExpense   AccountKind = "expense"
	KindEquity    AccountKind = "equity"
)

// Account is an immutable ledger account identity. Accounts are created at
// bootstrap and never deleted while referenced by a line.
type Account struct {
	Code string
	Name string
	Kind AccountKind
}

// NormalBalance returns the direction that increases the account's balance.
func (a Account) NormalBalance() Direction {
	switch a.Kind {
	case KindAsset, KindExpense:
		return Debit
	default:
		return Credit
	}
}

// Chart of accounts codes.
const (
	AccountReceivable       = "receivable"
	AccountCash             = "cash"
	AccountRevenue          = "revenue"
	AccountTaxPayable       = "tax_payable"
	AccountOEMPayable       = "oem_payable"
	AccountOEMTransfer      = "oem_transfer"
	AccountOperatingExpense = "operating_expense"
)

// Chart returns the fixed chart of accounts used by the billing domain.
func Chart() []Account {
	return []Account{
		{Code: AccountReceivable, Name: "University Receivable", Kind: KindAsset},
		{Code: AccountCash, Name: "Cash / Bank", Kind: KindAsset},
		{Code: AccountRevenue, Name: "Course Revenue", Kind: KindRevenue},
		{Code: AccountTaxPayable, Name: "Tax Payable", Kind: KindLiability},
		{Code: AccountOEMPayable, Name: "OEM Transfer Payable", Kind: KindLiability},
		{Code: AccountOEMTransfer, Name: "OEM Transfer Cost", Kind: KindExpense},
		{Code: AccountOperatingExpense, Name: "Operating Expense", Kind: KindExpense},
	}
}

// Registry is an in-memory lookup over the chart of accounts.
type Registry struct {
	accounts map[string]Account
}

// NewRegistry builds a registry from a set of accounts.
func NewRegistry(accounts []Account) *Registry {
	m := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		m[a.Code] = a
	}

	return &Registry{accounts: m}
}

// Lookup returns the account for code.
func (r *Registry) Lookup(code string) (Account, bool) {
	a, ok := r.accounts[code]
	return a, ok
}

// Accounts returns all registered accounts.
func (r *Registry) Accounts() []Account {
	accounts := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		accounts = append(accounts, a)
	}

	return accounts
}
