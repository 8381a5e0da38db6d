package catalog

// SeedStores is the store list used when nothing has been persisted yet.
func SeedStores() []Store {
	return []Store{
		{ID: "store-atelier", Name: "Atelier Tiny Treasure", Description: "Handmade jewellery and accessories", Region: "Algiers"},
		{ID: "store-kids", Name: "Tiny Treasure Kids", Description: "Toys and clothing for little ones", Region: "Oran"},
		{ID: "store-home", Name: "Tiny Treasure Maison", Description: "Home decor and gifts", Region: "Constantine"},
	}
}

// SeedProducts is the product list used when nothing has been persisted yet.
func SeedProducts() []Product {
	return []Product{
		{
			ID: "prod-necklace", StoreID: "store-atelier", Name: "Silver Pearl Necklace", Category: "jewellery",
			BasePrice: 3500, Stock: 12,
			Variants: []Variant{
				{ID: "short", Name: "40 cm", PriceModifier: 0, Stock: 6},
				{ID: "long", Name: "55 cm", PriceModifier: 500, Stock: 6},
			},
		},
		{
			ID: "prod-bracelet", StoreID: "store-atelier", Name: "Berber Charm Bracelet", Category: "jewellery",
			BasePrice: 1800, Stock: 25, IsFreeShipping: true,
		},
		{
			ID: "prod-earrings", StoreID: "store-atelier", Name: "Gold Hoop Earrings", Category: "jewellery",
			BasePrice: 2200, Stock: 0,
		},
		{
			ID: "prod-plush", StoreID: "store-kids", Name: "Camel Plush Toy", Category: "toys",
			BasePrice: 1500, Stock: 40,
			Variants: []Variant{
				{ID: "small", Name: "Small", PriceModifier: 0, Stock: 20},
				{ID: "large", Name: "Large", PriceModifier: 700, Stock: 20},
			},
		},
		{
			ID: "prod-romper", StoreID: "store-kids", Name: "Cotton Baby Romper", Category: "clothing",
			BasePrice: 2400, Stock: 18,
			Variants: []Variant{
				{ID: "0-3m", Name: "0-3 months", PriceModifier: 0, Stock: 6},
				{ID: "3-6m", Name: "3-6 months", PriceModifier: 0, Stock: 6},
				{ID: "6-12m", Name: "6-12 months", PriceModifier: 200, Stock: 6},
			},
		},
		{
			ID: "prod-candle", StoreID: "store-home", Name: "Orange Blossom Candle", Category: "decor",
			BasePrice: 1200, Stock: 30,
		},
		{
			ID: "prod-tray", StoreID: "store-home", Name: "Engraved Copper Tray", Category: "decor",
			BasePrice: 5600, Stock: 5, IsFreeShipping: true,
		},
	}
}
