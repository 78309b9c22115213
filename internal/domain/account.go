package domain

// Account holds a user's prepaid balance
type Account struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
}

// CanAfford checks the balance covers amount
func (a *Account) CanAfford(amount int64) bool {
	return a.Balance >= amount
}
