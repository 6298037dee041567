// Package sample generates synthetic review batches for demos and tests.
package sample

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

// Template is a canned review and the seed topics it is expected to hit.
type Template struct {
	Text   string
	Topics []string
}

// Templates are the canned reviews drawn from.
var Templates = []Template{
	{"Delivery was very late today. Had to wait for more than an hour.", []string{"Late delivery", "Delivery issue"}},
	{"Food was stale and tasted bad. Very disappointed.", []string{"Food stale", "Food quality poor"}},
	{"Delivery guy was rude and unprofessional. Very bad experience.", []string{"Delivery partner rude"}},
	{"App keeps crashing when I try to place an order.", []string{"App crash"}},
	{"Payment failed multiple times. Very frustrating.", []string{"Payment issue"}},
	{"Wrong order was delivered. Got someone else's food.", []string{"Wrong order delivered"}},
	{"Maps not working properly. Delivery partner couldn't find my location.", []string{"Maps not working properly"}},
	{"Food quality was poor. Not worth the money.", []string{"Food quality poor"}},
	{"Customer service is unresponsive. No one answers calls.", []string{"Customer service unresponsive"}},
	{"Refund not processed even after cancellation.", []string{"Refund not processed"}},
	{"Promo code not working. Tried multiple times.", []string{"Promo code not working"}},
	{"Order was cancelled without any reason.", []string{"Order cancellation"}},
	{"Instamart should be open all night. Very inconvenient.", []string{"Instamart should be open all night"}},
	{"Bring back 10 minute bolt delivery. It was so convenient!", []string{"Bring back 10 minute bolt delivery"}},
	{"Delivery partner behaved badly. Very impolite.", []string{"Delivery partner rude"}},
	{"The delivery person was disrespectful and rude.", []string{"Delivery partner rude"}},
	{"Food arrived cold and stale.", []string{"Food stale", "Food quality poor"}},
	{"App freezes every time I open it.", []string{"App crash"}},
	{"Location on map is wrong. Delivery partner went to wrong place.", []string{"Maps not working properly"}},
	{"Great app! Love the service.", nil},
	{"Fast delivery and good food quality.", nil},
	{"Best food delivery app!", nil},
}

var suffixes = []string{
	"Very disappointed.",
	"Will not order again.",
	"Please fix this issue.",
	"Need improvement.",
	"Thanks for the service.",
}

// DefaultPerDay is the batch size when none is given.
const DefaultPerDay = 50

// Saver persists one day of reviews.
type Saver interface {
	Save(appID string, day time.Time, reviews []review.Review) error
}

// Generator produces reproducible review batches: the same seed yields
// the same reviews, ids included.
type Generator struct {
	rng    *rand.Rand
	perDay int
}

// New returns a generator. perDay <= 0 uses DefaultPerDay.
func New(seed int64, perDay int) *Generator {
	if perDay <= 0 {
		perDay = DefaultPerDay
	}
	return &Generator{rng: rand.New(rand.NewSource(seed)), perDay: perDay}
}

// Day builds one day's batch for appID.
func (g *Generator) Day(appID string, day time.Time) ([]review.Review, error) {
	day = review.Day(day)
	out := make([]review.Review, 0, g.perDay)
	for i := 0; i < g.perDay; i++ {
		tmpl := Templates[g.rng.Intn(len(Templates))]
		text := tmpl.Text
		if g.rng.Float64() < 0.3 {
			text += " " + suffixes[g.rng.Intn(len(suffixes))]
		}
		id, err := uuid.NewRandomFromReader(g.rng)
		if err != nil {
			return nil, fmt.Errorf("review id: %w", err)
		}
		out = append(out, review.Review{
			ID:       id.String(),
			AppID:    appID,
			Day:      day,
			Text:     text,
			Rating:   1 + g.rng.Intn(5),
			ThumbsUp: g.rng.Intn(11),
			Language: "en",
		})
	}
	return out, nil
}

// Generate writes a batch for every day in [start, end] and returns the
// number of reviews written.
func (g *Generator) Generate(dst Saver, appID string, start, end time.Time) (int, error) {
	if review.Day(end).Before(review.Day(start)) {
		return 0, fmt.Errorf("end date %s before start date %s", review.FormatDay(end), review.FormatDay(start))
	}
	total := 0
	for _, day := range review.Range(start, end) {
		batch, err := g.Day(appID, day)
		if err != nil {
			return total, err
		}
		if err := dst.Save(appID, day, batch); err != nil {
			return total, fmt.Errorf("save %s: %w", review.FormatDay(day), err)
		}
		total += len(batch)
	}
	return total, nil
}
