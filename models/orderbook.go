package models

// LevelView is one grouped price level as served to the rendering layer.
// Decimals are rendered as strings to keep exact precision on the wire.
type LevelView struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Total string `json:"total"`
	Depth string `json:"depth"`
}

// BookView is one side of the grouped book, best price first.
type BookView struct {
	Market       string      `json:"market"`
	Side         string      `json:"side"`
	GroupingSize string      `json:"grouping_size"`
	MaxTotal     string      `json:"max_total"`
	Levels       []LevelView `json:"levels"`
}

// SpreadView is the best bid/ask gap.
type SpreadView struct {
	Market  string `json:"market"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
	Amount  string `json:"amount"`
	Percent string `json:"percent"`
}

// StatusView summarises the state of the active subscription.
type StatusView struct {
	Market          string   `json:"market"`
	State           string   `json:"state"`
	GroupingSize    string   `json:"grouping_size"`
	GroupingOptions []string `json:"grouping_options"`
	LevelCap        int      `json:"level_cap"`
	BidLevels       int      `json:"bid_levels"`
	AskLevels       int      `json:"ask_levels"`
	PendingBids     int      `json:"pending_bids"`
	PendingAsks     int      `json:"pending_asks"`
}
