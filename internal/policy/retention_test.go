package policy

import (
	"testing"
	"time"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEvaluate_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		item core.Item
		pol  core.Policy
		now  time.Time
		want core.Decision
	}{
		{
			name: "keep tag wins over age and storage",
			item: core.Item{RetentionTags: []int{1}, DownloadDate: date(2024, 12, 1)},
			pol:  core.Policy{KeepTagIDs: []int{1}, RemoveAfterDays: 30, IsStorageFull: true},
			now:  date(2025, 1, 10),
			want: core.Decision{Reason: core.ReasonKeepTag},
		},
		{
			name: "no download date",
			item: core.Item{},
			pol:  core.Policy{RemoveAfterDays: 30, IsStorageFull: true},
			now:  date(2025, 1, 10),
			want: core.Decision{Reason: core.ReasonMissingFiles},
		},
		{
			name: "unwanted genre",
			item: core.Item{Genres: []string{"Horror"}, DownloadDate: date(2024, 1, 1)},
			pol:  core.Policy{UnwantedGenres: []string{"Horror"}},
			now:  date(2025, 1, 10),
			want: core.Decision{IsRemoved: true, Reason: core.ReasonUnwantedGenre},
		},
		{
			name: "five days left inside seven day window",
			item: core.Item{DownloadDate: date(2024, 12, 15)},
			pol:  core.Policy{RemoveAfterDays: 30, WarnDaysAhead: 7},
			now:  date(2024, 12, 15).Add(25 * day),
			want: core.Decision{IsPlanned: true, Reason: core.ReasonWillBeRemoved},
		},
		{
			name: "aged out with storage full",
			item: core.Item{DownloadDate: date(2024, 1, 1)},
			pol:  core.Policy{RemoveAfterDays: 30, IsStorageFull: true},
			now:  date(2024, 1, 1).Add(400 * day),
			want: core.Decision{IsRemoved: true, Reason: core.ReasonRemoved},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.item, tt.pol, tt.now)
			if got != tt.want {
				t.Fatalf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_WarningWindowBoundaries(t *testing.T) {
	dl := date(2024, 6, 1)
	removal := dl.Add(30 * day)
	pol := core.Policy{RemoveAfterDays: 30, WarnDaysAhead: 7, IsStorageFull: true}
	item := core.Item{DownloadDate: dl}

	tests := []struct {
		name string
		now  time.Time
		want core.Reason
	}{
		{"just outside horizon", removal.Add(-7*day - time.Nanosecond), core.ReasonActive},
		{"exactly at horizon", removal.Add(-7 * day), core.ReasonWillBeRemoved},
		{"one nanosecond before removal", removal.Add(-time.Nanosecond), core.ReasonWillBeRemoved},
		{"exactly at removal", removal, core.ReasonRemoved},
		{"after removal", removal.Add(time.Hour), core.ReasonRemoved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(item, pol, tt.now)
			if got.Reason != tt.want {
				t.Fatalf("reason = %s, want %s", got.Reason, tt.want)
			}
		})
	}
}

func TestEvaluate_RemovalAtExactAgeWithoutStoragePressure(t *testing.T) {
	dl := date(2024, 6, 1)
	pol := core.Policy{RemoveAfterDays: 30, WarnDaysAhead: 7, IsStorageFull: false}

	got := Evaluate(core.Item{DownloadDate: dl}, pol, dl.Add(30*day))
	if got != (core.Decision{Reason: core.ReasonActive}) {
		t.Fatalf("expected active when storage not full, got %+v", got)
	}
}

func TestEvaluate_Exemptions(t *testing.T) {
	dl := date(2024, 12, 10)
	now := dl.Add(100 * day)

	tests := []struct {
		name       string
		tags       []int
		pol        core.Policy
		want       core.Reason
		wantExempt bool
	}{
		{
			name: "download month exempt",
			pol:  core.Policy{RemoveAfterDays: 30, IsStorageFull: true, NoExclusionMonths: []int{12}},
			want: core.ReasonActive, wantExempt: true,
		},
		{
			name: "current month does not count",
			pol:  core.Policy{RemoveAfterDays: 30, IsStorageFull: true, NoExclusionMonths: []int{int(now.Month())}},
			want: core.ReasonRemoved, wantExempt: false,
		},
		{
			name: "no-exclusion tag exempt",
			tags: []int{7},
			pol:  core.Policy{RemoveAfterDays: 30, IsStorageFull: true, NoExclusionTagIDs: []int{7}},
			want: core.ReasonActive, wantExempt: true,
		},
		{
			name: "tag and month both present",
			tags: []int{7},
			pol:  core.Policy{RemoveAfterDays: 30, IsStorageFull: true, NoExclusionTagIDs: []int{7}, NoExclusionMonths: []int{12}},
			want: core.ReasonActive, wantExempt: true,
		},
		{
			name: "unrelated tag",
			tags: []int{3},
			pol:  core.Policy{RemoveAfterDays: 30, IsStorageFull: true, NoExclusionTagIDs: []int{7}},
			want: core.ReasonRemoved, wantExempt: false,
		},
		{
			name: "exempt item without storage pressure",
			pol:  core.Policy{RemoveAfterDays: 30, IsStorageFull: false, NoExclusionMonths: []int{12}},
			want: core.ReasonActive, wantExempt: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := core.Item{RetentionTags: tt.tags, DownloadDate: dl}
			got := Evaluate(item, tt.pol, now)
			if got.Reason != tt.want {
				t.Errorf("reason = %s, want %s", got.Reason, tt.want)
			}
			if got.IsRemoved != (tt.want == core.ReasonRemoved) {
				t.Errorf("IsRemoved = %v for reason %s", got.IsRemoved, got.Reason)
			}
			if IsExempt(item, tt.pol) != tt.wantExempt {
				t.Errorf("IsExempt = %v, want %v", !tt.wantExempt, tt.wantExempt)
			}
		})
	}
}

func TestEvaluate_KeepTagAlwaysKeeps(t *testing.T) {
	now := date(2025, 3, 1)
	dates := []time.Time{{}, date(2020, 1, 1), now.Add(-time.Hour)}
	genres := [][]string{nil, {"Horror"}, {"Drama", "Horror"}}

	for _, dl := range dates {
		for _, g := range genres {
			for _, full := range []bool{false, true} {
				item := core.Item{RetentionTags: []int{2, 9}, Genres: g, DownloadDate: dl}
				pol := core.Policy{
					KeepTagIDs:     []int{9},
					UnwantedGenres: []string{"Horror"},
					IsStorageFull:  full,
				}
				got := Evaluate(item, pol, now)
				if got != (core.Decision{Reason: core.ReasonKeepTag}) {
					t.Fatalf("dl=%v genres=%v full=%v: got %+v", dl, g, full, got)
				}
			}
		}
	}
}

func TestEvaluate_MissingDateAlwaysMissing(t *testing.T) {
	for _, full := range []bool{false, true} {
		for _, g := range [][]string{nil, {"Horror"}} {
			pol := core.Policy{UnwantedGenres: []string{"Horror"}, IsStorageFull: full}
			got := Evaluate(core.Item{Genres: g}, pol, date(2025, 1, 1))
			if got != (core.Decision{Reason: core.ReasonMissingFiles}) {
				t.Fatalf("genres=%v full=%v: got %+v", g, full, got)
			}
		}
	}
}

func TestEvaluate_UnwantedGenreIgnoresAgeAndStorage(t *testing.T) {
	now := date(2025, 1, 1)
	for _, dl := range []time.Time{now, now.Add(-time.Hour), date(2000, 1, 1)} {
		item := core.Item{Genres: []string{"Documentary", "Horror"}, DownloadDate: dl}
		pol := core.Policy{UnwantedGenres: []string{"Horror"}, RemoveAfterDays: 365}
		got := Evaluate(item, pol, now)
		if got != (core.Decision{IsRemoved: true, Reason: core.ReasonUnwantedGenre}) {
			t.Fatalf("dl=%v: got %+v", dl, got)
		}
	}
}

func TestEvaluate_GenreMatchIsCaseSensitive(t *testing.T) {
	item := core.Item{Genres: []string{"horror"}, DownloadDate: date(2025, 1, 1)}
	pol := core.Policy{UnwantedGenres: []string{"Horror"}, RemoveAfterDays: 30}
	got := Evaluate(item, pol, date(2025, 1, 2))
	if got.Reason != core.ReasonActive {
		t.Fatalf("expected active, got %s", got.Reason)
	}
}

func TestEvaluate_Monotonic(t *testing.T) {
	rank := map[core.Reason]int{
		core.ReasonActive:        0,
		core.ReasonWillBeRemoved: 1,
		core.ReasonRemoved:       2,
	}

	dl := date(2024, 3, 15)
	item := core.Item{DownloadDate: dl}
	pol := core.Policy{RemoveAfterDays: 30, WarnDaysAhead: 7, IsStorageFull: true}

	prev := -1
	seen := map[core.Reason]bool{}
	for now := dl; now.Before(dl.Add(60 * day)); now = now.Add(time.Hour) {
		d := Evaluate(item, pol, now)
		r, ok := rank[d.Reason]
		if !ok {
			t.Fatalf("unexpected reason %s at %v", d.Reason, now)
		}
		if r < prev {
			t.Fatalf("reason went backwards to %s at %v", d.Reason, now)
		}
		if d.IsRemoved && d.IsPlanned {
			t.Fatalf("both flags set at %v", now)
		}
		prev = r
		seen[d.Reason] = true
	}

	for reason := range rank {
		if !seen[reason] {
			t.Errorf("never observed %s", reason)
		}
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	item := core.Item{RetentionTags: []int{4}, Genres: []string{"Action"}, DownloadDate: date(2024, 5, 5)}
	pol := core.Policy{RemoveAfterDays: 10, WarnDaysAhead: 3, IsStorageFull: true, NoExclusionTagIDs: []int{5}}
	now := date(2024, 5, 13)

	first := Evaluate(item, pol, now)
	second := Evaluate(item, pol, now)
	if first != second {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}
	if item.RetentionTags[0] != 4 || item.Genres[0] != "Action" {
		t.Fatal("inputs were mutated")
	}
}

func TestEvaluate_ZeroValues(t *testing.T) {
	now := date(2025, 1, 1)

	// zero-day retention with no warning: downloaded items are aged out immediately
	got := Evaluate(core.Item{DownloadDate: now}, core.Policy{IsStorageFull: true}, now)
	if got.Reason != core.ReasonRemoved {
		t.Errorf("expected removed, got %s", got.Reason)
	}

	got = Evaluate(core.Item{DownloadDate: now}, core.Policy{}, now)
	if got.Reason != core.ReasonActive {
		t.Errorf("expected active without storage pressure, got %s", got.Reason)
	}
}

func TestEvaluate_ZeroNowUsesClock(t *testing.T) {
	item := core.Item{DownloadDate: time.Now().Add(-2 * day)}
	pol := core.Policy{RemoveAfterDays: 30, WarnDaysAhead: 7, IsStorageFull: true}
	if got := Evaluate(item, pol, time.Time{}); got.Reason != core.ReasonActive {
		t.Fatalf("expected active, got %s", got.Reason)
	}
}

func TestRetention_ImplementsEvaluator(t *testing.T) {
	var ev core.Evaluator = NewRetention()
	item := core.Item{DownloadDate: date(2024, 1, 1)}
	pol := core.Policy{RemoveAfterDays: 30, IsStorageFull: true}
	now := date(2024, 6, 1)
	if ev.Evaluate(item, pol, now) != Evaluate(item, pol, now) {
		t.Fatal("Retention.Evaluate differs from Evaluate")
	}
}

func TestTimeLeft(t *testing.T) {
	dl := date(2024, 12, 15)
	pol := core.Policy{RemoveAfterDays: 30}
	left := TimeLeft(core.Item{DownloadDate: dl}, pol, dl.Add(25*day+90*time.Minute))
	want := 5*day - 90*time.Minute
	if left != want {
		t.Fatalf("TimeLeft = %v, want %v", left, want)
	}
}
