package config

// seedKeywords are the keyword lists behind each default seed topic.
var seedKeywords = map[string][]string{
	"Delivery issue":                     {"delivery", "delivered", "deliver", "not delivered", "delivery problem"},
	"Food stale":                         {"stale", "old food", "expired", "not fresh", "spoiled"},
	"Delivery partner rude":              {"rude", "impolite", "bad behavior", "unprofessional", "disrespectful", "delivery guy", "delivery person", "delivery partner"},
	"Maps not working properly":          {"map", "location", "gps", "navigation", "wrong location", "map issue"},
	"Instamart should be open all night": {"instamart", "open all night", "24 hours", "late night"},
	"Bring back 10 minute bolt delivery": {"bolt", "10 minute", "quick delivery", "fast delivery"},
	"App crash":                          {"crash", "freeze", "not opening", "app not working", "force close"},
	"Payment issue":                      {"payment", "payment failed", "payment problem", "transaction", "refund"},
	"Order cancellation":                 {"cancel", "cancelled", "cancellation"},
	"Wrong order delivered":              {"wrong order", "incorrect order", "different order"},
	"Late delivery":                      {"late", "delayed", "delay", "taking too long"},
	"Food quality poor":                  {"quality", "taste bad", "not good", "poor quality", "bad food"},
	"Customer service unresponsive":      {"customer service", "support", "not responding", "no response"},
	"Refund not processed":               {"refund", "money back", "not refunded"},
	"Promo code not working":             {"promo", "coupon", "discount", "code not working", "offer"},
}

var swiggySeeds = []string{
	"Delivery issue",
	"Food stale",
	"Delivery partner rude",
	"Maps not working properly",
	"Instamart should be open all night",
	"Bring back 10 minute bolt delivery",
	"App crash",
	"Payment issue",
	"Order cancellation",
	"Wrong order delivered",
	"Late delivery",
	"Food quality poor",
	"Customer service unresponsive",
	"Refund not processed",
	"Promo code not working",
}

var zomatoSeeds = []string{
	"Delivery issue",
	"Food stale",
	"Delivery partner rude",
	"Maps not working properly",
	"App crash",
	"Payment issue",
	"Order cancellation",
	"Wrong order delivered",
	"Late delivery",
	"Food quality poor",
	"Customer service unresponsive",
	"Refund not processed",
	"Promo code not working",
}

func seedsFor(labels []string) []Seed {
	out := make([]Seed, len(labels))
	for i, label := range labels {
		out[i] = Seed{Label: label, Keywords: append([]string(nil), seedKeywords[label]...)}
	}
	return out
}

func defaultApps() map[string]App {
	return map[string]App{
		"swiggy": {Name: "Swiggy", Package: "in.swiggy.android", Seeds: seedsFor(swiggySeeds)},
		"zomato": {Name: "Zomato", Package: "com.application.zomato", Seeds: seedsFor(zomatoSeeds)},
	}
}
