package pnwkit

import (
	"time"

	"github.com/llehouerou/pnwkit-go/pkg/jsonutil"
)

// PaginatorInfo is the pagination envelope returned with every page of a
// paginated collection.
type PaginatorInfo struct {
	Count        int  `json:"count"`
	CurrentPage  int  `json:"currentPage"`
	FirstItem    int  `json:"firstItem"`
	HasMorePages bool `json:"hasMorePages"`
	LastItem     int  `json:"lastItem"`
	LastPage     int  `json:"lastPage"`
	PerPage      int  `json:"perPage"`
	Total        int  `json:"total"`
}

// paginatorInfoFrom reads the counters of a decoded paginatorInfo object.
// Null counters (firstItem and lastItem on an empty page) read as zero.
func paginatorInfoFrom(obj *jsonutil.Object) (PaginatorInfo, error) {
	var info PaginatorInfo
	ints := []struct {
		key string
		dst *int
	}{
		{"count", &info.Count},
		{"currentPage", &info.CurrentPage},
		{"firstItem", &info.FirstItem},
		{"lastItem", &info.LastItem},
		{"lastPage", &info.LastPage},
		{"perPage", &info.PerPage},
		{"total", &info.Total},
	}
	for _, f := range ints {
		v, _ := obj.Get(f.key)
		n, err := toInt64(v)
		if err != nil {
			return PaginatorInfo{}, err
		}
		*f.dst = int(n)
	}
	if more, ok := obj.Get("hasMorePages"); ok {
		info.HasMorePages, _ = more.(bool)
	}
	return info, nil
}

// Nation is a typed view over a Nation record.
type Nation struct{ *Record }

func (n Nation) ID() int64          { v, _ := n.Int("id"); return v }
func (n Nation) Name() string       { return n.Str("nation_name") }
func (n Nation) LeaderName() string { return n.Str("leader_name") }
func (n Nation) AllianceID() int64  { v, _ := n.Int("alliance_id"); return v }
func (n Nation) Score() float64     { v, _ := n.Float("score"); return v }
func (n Nation) NumCities() int64   { v, _ := n.Int("num_cities"); return v }
func (n Nation) Color() string      { return n.Str("color") }

// Alliance returns the nested alliance, if it was selected.
func (n Nation) Alliance() (Alliance, bool) {
	rec := n.Record.Record("alliance")
	return Alliance{rec}, rec != nil
}

// Cities returns the nested cities, if they were selected.
func (n Nation) Cities() []City {
	return view(n.Records("cities"), func(r *Record) City { return City{r} })
}

// Wars returns the nested wars, if they were selected.
func (n Nation) Wars() []War {
	return view(n.Records("wars"), func(r *Record) War { return War{r} })
}

// Alliance is a typed view over an Alliance record.
type Alliance struct{ *Record }

func (a Alliance) ID() int64       { v, _ := a.Int("id"); return v }
func (a Alliance) Name() string    { return a.Str("name") }
func (a Alliance) Acronym() string { return a.Str("acronym") }
func (a Alliance) Score() float64  { v, _ := a.Float("score"); return v }
func (a Alliance) Color() string   { return a.Str("color") }

// Nations returns the nested member nations, if they were selected.
func (a Alliance) Nations() []Nation {
	return view(a.Records("nations"), func(r *Record) Nation { return Nation{r} })
}

// City is a typed view over a City record.
type City struct{ *Record }

func (c City) ID() int64               { v, _ := c.Int("id"); return v }
func (c City) NationID() int64         { v, _ := c.Int("nation_id"); return v }
func (c City) Name() string            { return c.Str("name") }
func (c City) Infrastructure() float64 { v, _ := c.Float("infrastructure"); return v }
func (c City) Land() float64           { v, _ := c.Float("land"); return v }
func (c City) Founded() time.Time      { t, _ := c.Time("date"); return t }

// War is a typed view over a War record.
type War struct{ *Record }

func (w War) ID() int64         { v, _ := w.Int("id"); return v }
func (w War) AttackerID() int64 { v, _ := w.Int("att_id"); return v }
func (w War) DefenderID() int64 { v, _ := w.Int("def_id"); return v }
func (w War) WarType() string   { return w.Str("war_type") }
func (w War) TurnsLeft() int64  { v, _ := w.Int("turns_left"); return v }
func (w War) Date() time.Time   { t, _ := w.Time("date"); return t }

// Trade is a typed view over a Trade record.
type Trade struct{ *Record }

func (t Trade) ID() int64             { v, _ := t.Int("id"); return v }
func (t Trade) SenderID() int64       { v, _ := t.Int("sender_id"); return v }
func (t Trade) ReceiverID() int64     { v, _ := t.Int("receiver_id"); return v }
func (t Trade) OfferResource() string { return t.Str("offer_resource") }
func (t Trade) OfferAmount() int64    { v, _ := t.Int("offer_amount"); return v }
func (t Trade) BuyOrSell() string     { return t.Str("buy_or_sell") }
func (t Trade) Price() float64        { v, _ := t.Float("price"); return v }
func (t Trade) Date() time.Time       { d, _ := t.Time("date"); return d }

func view[T any](records []*Record, wrap func(*Record) T) []T {
	if records == nil {
		return nil
	}
	out := make([]T, len(records))
	for i, r := range records {
		out[i] = wrap(r)
	}
	return out
}

func viewOf[T any](records []*Record, typename string, wrap func(*Record) T) []T {
	var out []T
	for _, r := range records {
		if r.TypeName() == typename {
			out = append(out, wrap(r))
		}
	}
	return out
}
