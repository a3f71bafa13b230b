package marketdata

// FundamentalData holds scraped fundamental fields for one symbol. Nil
// pointers mean the field could not be located on the source page.
type FundamentalData struct {
	Symbol   string   `json:"symbol"`
	Name     *string  `json:"name"`
	CMP      *float64 `json:"cmp"`
	PE       *float64 `json:"pe"`
	ROCE     *float64 `json:"roce"`
	BV       *float64 `json:"bv"`
	Debt     *float64 `json:"debt"`
	Industry *string  `json:"industry"`
}

// PriceBar is one daily close. Date is formatted "YYYY-MM-DD" so bars sort
// lexicographically in calendar order.
type PriceBar struct {
	Date  string  `json:"date" bson:"date"`
	Close float64 `json:"close" bson:"close"`
}
