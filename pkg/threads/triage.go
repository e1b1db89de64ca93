package threads

import (
	"math"
	"time"

	"github.com/grovetools/memory/pkg/models"
)

// Bucket classifies a thread by vitality.
type Bucket string

const (
	BucketActive  Bucket = "active"
	BucketCooling Bucket = "cooling"
	BucketDormant Bucket = "dormant"
)

const (
	activeThreshold  = 0.5
	coolingThreshold = 0.2
	maxTouchBonus    = 0.3
)

// TriageOptions configures a triage pass.
type TriageOptions struct {
	Now time.Time
	// HalfLife is the idle time after which recency counts half.
	HalfLife time.Duration
	// ArchiveAfter is the idle time after which dormant threads are archived.
	ArchiveAfter time.Duration
	// AutoArchive enables dormant to archived transitions.
	AutoArchive bool
}

// TriagedThread is a thread with its computed vitality.
type TriagedThread struct {
	models.Thread
	Vitality float64 `json:"vitality"`
	Bucket   Bucket  `json:"bucket"`
}

// TriageReport groups threads by bucket after a triage pass.
type TriageReport struct {
	Active   []TriagedThread `json:"active"`
	Cooling  []TriagedThread `json:"cooling"`
	Dormant  []TriagedThread `json:"dormant"`
	Archived []models.Thread `json:"archived"`
	// Demoted counts open threads moved to dormant by this pass.
	Demoted int `json:"demoted"`
}

// Vitality scores how alive a thread is in [0, 1]: exponential recency decay of
// its last activity plus a small bonus for repeated touches.
func Vitality(t models.Thread, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	idle := now.Sub(t.LastActivity())
	if idle < 0 {
		idle = 0
	}
	recency := math.Pow(0.5, float64(idle)/float64(halfLife))
	bonus := math.Min(maxTouchBonus, 0.1*math.Log1p(float64(t.TouchCount)))
	return math.Min(1, recency+bonus)
}

// Classify maps a vitality score to a bucket.
func Classify(vitality float64) Bucket {
	switch {
	case vitality >= activeThreshold:
		return BucketActive
	case vitality >= coolingThreshold:
		return BucketCooling
	default:
		return BucketDormant
	}
}

// Triage scores open and dormant threads. Open threads in the dormant bucket
// become dormant; with AutoArchive, dormant threads idle for ArchiveAfter become
// archived. Resolved and archived threads pass through untouched.
func Triage(list []models.Thread, opts TriageOptions) ([]models.Thread, TriageReport) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.ArchiveAfter <= 0 {
		opts.ArchiveAfter = 30 * 24 * time.Hour
	}

	report := TriageReport{
		Active:   []TriagedThread{},
		Cooling:  []TriagedThread{},
		Dormant:  []TriagedThread{},
		Archived: []models.Thread{},
	}
	out := make([]models.Thread, len(list))
	copy(out, list)

	for i, t := range out {
		if t.Status != models.ThreadOpen && t.Status != models.ThreadDormant {
			continue
		}
		v := Vitality(t, opts.Now, opts.HalfLife)
		bucket := Classify(v)

		if t.Status == models.ThreadOpen && bucket == BucketDormant {
			t.Status = models.ThreadDormant
			report.Demoted++
		}
		if t.Status == models.ThreadDormant && opts.AutoArchive && opts.Now.Sub(t.LastActivity()) >= opts.ArchiveAfter {
			t.Status = models.ThreadArchived
			out[i] = t
			report.Archived = append(report.Archived, t)
			continue
		}
		out[i] = t

		triaged := TriagedThread{Thread: t, Vitality: v, Bucket: bucket}
		switch {
		case t.Status == models.ThreadDormant:
			triaged.Bucket = BucketDormant
			report.Dormant = append(report.Dormant, triaged)
		case bucket == BucketActive:
			report.Active = append(report.Active, triaged)
		default:
			report.Cooling = append(report.Cooling, triaged)
		}
	}
	return out, report
}
