package domain

// SaleReport aggregates payment outcomes of one sale
type SaleReport struct {
	SaleID    string `json:"sale_id"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
	Revenue   int64  `json:"revenue"`
}
