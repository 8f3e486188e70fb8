/*
Package ranking orders listed apps by a time-decayed engagement score.

PURPOSE:
  Rank is a pure function of its inputs: the same apps, events and "now"
  always produce the same order. It never touches storage; callers fetch
  the apps and their recent events and pass them in.

SCORE:
  Over the events with now - occurredAt <= 48h:
    base    = 0.5*clicks + 0.3*installs + 0.2*opens
    quality = 2*ratingAverage
    volume  = min(1.5*ratingCount, 50)
    score   = base + quality + volume
    score  *= 1.2            if now - createdAt < 7 days

  Opens stand in for shares, which are not tracked as their own signal.

ORDER:
  1. Featured apps first, regardless of score
  2. Descending score within each partition
  3. Ties keep input order (stable), so paginating the same input is
     reproducible

  Scores are decimal, not float, so equal inputs produce exactly equal
  scores and ties are real ties.

EXAMPLE:
  listings := ranking.Rank(apps, time.Now())
  for _, l := range listings {
      fmt.Println(l.App.ID, l.Score.StringFixed(2))
  }
*/
package ranking

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENTS - closed union of interaction kinds
// =============================================================================

type EventKind string

const (
	EventClick   EventKind = "click"
	EventInstall EventKind = "install"
	EventOpen    EventKind = "open"
)

var ErrUnknownEventKind = errors.New("unknown event kind")

// ErrEventInFuture is returned when an event is reported too far ahead of
// the receiving clock.
var ErrEventInFuture = errors.New("event occurs in the future")

func (k EventKind) Valid() bool {
	switch k {
	case EventClick, EventInstall, EventOpen:
		return true
	default:
		return false
	}
}

// InteractionEvent is an immutable user interaction with an app.
type InteractionEvent struct {
	ID         string
	AppID      string
	Kind       EventKind
	OccurredAt time.Time
}

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

// App is the ranking view of a listed app: its static quality signals plus
// its event history.
type App struct {
	ID            string
	Name          string
	RatingAverage decimal.Decimal
	RatingCount   int
	CreatedAt     time.Time
	Featured      bool
	Events        []InteractionEvent
}

// RankedListing is the computed, unpersisted view of an app.
type RankedListing struct {
	App      App
	Score    decimal.Decimal
	Clicks   int
	Installs int
	Opens    int
	IsNew    bool
}

// =============================================================================
// WEIGHTS
// =============================================================================

const (
	TrendingWindow = 48 * time.Hour
	NewAppWindow   = 7 * 24 * time.Hour
)

var (
	clickWeight   = decimal.RequireFromString("0.5")
	installWeight = decimal.RequireFromString("0.3")
	openWeight    = decimal.RequireFromString("0.2")
	ratingWeight  = decimal.NewFromInt(2)
	volumeWeight  = decimal.RequireFromString("1.5")
	volumeCap     = decimal.NewFromInt(50)
	newAppBoost   = decimal.RequireFromString("1.2")
)

// =============================================================================
// SCORING
// =============================================================================

// Score computes a single app's listing at now.
func Score(app App, now time.Time) RankedListing {
	l := RankedListing{App: app}

	for _, e := range app.Events {
		if now.Sub(e.OccurredAt) > TrendingWindow {
			continue
		}
		switch e.Kind {
		case EventClick:
			l.Clicks++
		case EventInstall:
			l.Installs++
		case EventOpen:
			l.Opens++
		default:
			// Ingest rejects unknown kinds; anything else contributes nothing.
		}
	}

	score := clickWeight.Mul(decimal.NewFromInt(int64(l.Clicks))).
		Add(installWeight.Mul(decimal.NewFromInt(int64(l.Installs)))).
		Add(openWeight.Mul(decimal.NewFromInt(int64(l.Opens))))

	score = score.Add(ratingWeight.Mul(app.RatingAverage))

	volume := volumeWeight.Mul(decimal.NewFromInt(int64(app.RatingCount)))
	score = score.Add(decimal.Min(volume, volumeCap))

	if now.Sub(app.CreatedAt) < NewAppWindow {
		l.IsNew = true
		score = score.Mul(newAppBoost)
	}

	l.Score = score
	return l
}

// Rank scores every app and orders them: featured first, then by
// descending score, ties in input order.
func Rank(apps []App, now time.Time) []RankedListing {
	listings := make([]RankedListing, len(apps))
	for i, app := range apps {
		listings[i] = Score(app, now)
	}

	sort.SliceStable(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		if a.App.Featured != b.App.Featured {
			return a.App.Featured
		}
		return a.Score.GreaterThan(b.Score)
	})
	return listings
}

// Page returns listings[offset:offset+limit], clamped. limit <= 0 means
// everything after offset.
func Page(listings []RankedListing, offset, limit int) []RankedListing {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(listings) {
		return []RankedListing{}
	}
	end := len(listings)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return listings[offset:end]
}
