package payments

// Product is a purchasable item in the catalog. Either Tokens or
// UnlimitedMonths is set, never both.
type Product struct {
	Code            string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Tokens          int64   `json:"tokens"`
	UnlimitedMonths int64   `json:"unlimited_months,omitempty"`
	PriceUSD        float64 `json:"price"`
	Currency        string  `json:"currency"`
	Popular         bool    `json:"popular"`
}

// Unlimited reports whether the product grants unlimited access instead of a
// token pack.
func (product Product) Unlimited() bool {
	return product.UnlimitedMonths > 0
}

var catalog = []Product{
	{
		Code:        "pack_10",
		Name:        "10 Transcriptions Pack",
		Description: "Perfect for trying out",
		Tokens:      10,
		PriceUSD:    6.99,
		Currency:    "USD",
	},
	{
		Code:        "pack_50",
		Name:        "50 Transcriptions Pack",
		Description: "Best value for regular readers",
		Tokens:      50,
		PriceUSD:    19.99,
		Currency:    "USD",
		Popular:     true,
	},
	{
		Code:            "unlimited_monthly",
		Name:            "Unlimited Monthly",
		Description:     "Unlimited transcriptions for 30 days",
		UnlimitedMonths: 1,
		PriceUSD:        9.99,
		Currency:        "USD",
	},
}

// Catalog returns the purchasable products.
func Catalog() []Product {
	products := make([]Product, len(catalog))
	copy(products, catalog)
	return products
}

// FindProduct resolves a product code.
func FindProduct(code string) (Product, bool) {
	for _, product := range catalog {
		if product.Code == code {
			return product, true
		}
	}
	return Product{}, false
}
