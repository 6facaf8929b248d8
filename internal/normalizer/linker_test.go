package normalizer

import (
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	start := time.Date(2023, 8, 12, 22, 0, 0, 0, time.UTC)
	mid := start.Add(30 * time.Minute)
	end := start.Add(time.Hour)

	tests := []struct {
		name       string
		candidates []Candidate
		want       []Link
	}{
		{
			name:       "no candidates",
			candidates: nil,
			want:       nil,
		},
		{
			name: "two rates fill one magnitude",
			candidates: []Candidate{
				{RateID: 102, MagnID: 501, RateFreq: 15, MagnFreq: 25, RateStart: mid, RateEnd: end, MagnStart: start, MagnEnd: end},
				{RateID: 101, MagnID: 501, RateFreq: 10, MagnFreq: 25, RateStart: start, RateEnd: mid, MagnStart: start, MagnEnd: end},
			},
			want: []Link{
				{RateID: 101, MagnID: 501, Equals: false},
				{RateID: 102, MagnID: 501, Equals: false},
			},
		},
		{
			name: "identical periods are equal",
			candidates: []Candidate{
				{RateID: 1, MagnID: 9, RateFreq: 4, MagnFreq: 4, RateStart: start, RateEnd: end, MagnStart: start, MagnEnd: end},
			},
			want: []Link{{RateID: 1, MagnID: 9, Equals: true}},
		},
		{
			name: "frequency mismatch links nothing",
			candidates: []Candidate{
				{RateID: 101, MagnID: 501, RateFreq: 10, MagnFreq: 26, RateStart: start, RateEnd: mid, MagnStart: start, MagnEnd: end},
				{RateID: 102, MagnID: 501, RateFreq: 15, MagnFreq: 26, RateStart: mid, RateEnd: end, MagnStart: start, MagnEnd: end},
			},
			want: nil,
		},
		{
			name: "ambiguous rate is not linked",
			candidates: []Candidate{
				{RateID: 1, MagnID: 8, RateFreq: 5, MagnFreq: 5, RateStart: start, RateEnd: mid, MagnStart: start, MagnEnd: end},
				{RateID: 1, MagnID: 9, RateFreq: 5, MagnFreq: 5, RateStart: start, RateEnd: mid, MagnStart: start, MagnEnd: end},
			},
			want: nil,
		},
		{
			name: "ambiguous rate still counts toward the sum",
			candidates: []Candidate{
				{RateID: 1, MagnID: 8, RateFreq: 5, MagnFreq: 7, RateStart: start, RateEnd: mid, MagnStart: start, MagnEnd: end},
				{RateID: 1, MagnID: 9, RateFreq: 5, MagnFreq: 5, RateStart: start, RateEnd: mid, MagnStart: start, MagnEnd: end},
				{RateID: 2, MagnID: 8, RateFreq: 2, MagnFreq: 7, RateStart: mid, RateEnd: end, MagnStart: start, MagnEnd: end},
			},
			want: []Link{{RateID: 2, MagnID: 8}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.candidates)
			if len(got) != len(tt.want) {
				t.Fatalf("Match() = %+v, expected %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("link %d = %+v, expected %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLimitingMagnitude(t *testing.T) {
	tests := []struct {
		name    string
		limMags []float64
		tEffs   []float64
		want    float64
		wantOK  bool
	}{
		{"single", []float64{6.2}, []float64{1}, 6.2, true},
		{"weighted", []float64{6.0, 6.6}, []float64{1, 0.5}, 6.2, true},
		{"rounded", []float64{6.0, 6.5, 6.4}, []float64{1, 1, 1}, 6.3, true},
		{"no time", []float64{6.0}, []float64{0}, 0, false},
		{"empty", nil, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LimitingMagnitude(tt.limMags, tt.tEffs)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, expected %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("LimitingMagnitude() = %v, expected %v", got, tt.want)
			}
		})
	}
}
