// Package signalgen produces synthetic behavioural signals for load tests
// and demos of the struggle engine.
package signalgen

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

// Sink delivers one generated event.
type Sink interface {
	Send(ctx context.Context, ev struggle.SignalEvent) error
}

type Config struct {
	Tenant       string
	Courses      int
	Learners     int
	Events       int
	Concurrency  int
	StruggleRate float64
	// Interval paces events per learner; zero sends as fast as the sink allows.
	Interval time.Duration
}

type Learner struct {
	Key        struggle.SessionKey
	Struggling bool
}

type Generator struct {
	cfg   Config
	faker *gofakeit.Faker
	now   func() time.Time
}

func New(cfg Config, seed uint64) *Generator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Courses <= 0 {
		cfg.Courses = 1
	}
	return &Generator{cfg: cfg, faker: gofakeit.New(seed), now: time.Now}
}

// Learners draws the simulated population. A StruggleRate fraction of them
// emit long idles, hovers and help requests.
func (g *Generator) Learners() []Learner {
	courses := make([]string, g.cfg.Courses)
	for i := range courses {
		courses[i] = fmt.Sprintf("%s-%d", g.faker.Word(), i)
	}
	out := make([]Learner, g.cfg.Learners)
	for i := range out {
		out[i] = Learner{
			Key: struggle.SessionKey{
				TenantID:  g.cfg.Tenant,
				LearnerID: g.faker.Username() + "-" + g.faker.DigitN(4),
				CourseID:  courses[g.faker.IntRange(0, len(courses)-1)],
			},
			Struggling: g.faker.Float64Range(0, 1) < g.cfg.StruggleRate,
		}
	}
	return out
}

// Event builds one signal for l at the given time.
func (g *Generator) Event(l Learner, at time.Time) struggle.SignalEvent {
	var (
		typ string
		mag float64
	)
	if l.Struggling {
		typ = g.faker.RandomString([]string{"idle", "hover", "scroll", "repeated_access", "help_request"})
		switch typ {
		case "idle":
			mag = g.faker.Float64Range(30, 400)
		case "hover":
			mag = g.faker.Float64Range(5, 40)
		case "scroll":
			mag = float64(g.faker.IntRange(3, 12))
		case "repeated_access":
			mag = float64(g.faker.IntRange(3, 8))
		default:
			mag = 1
		}
	} else {
		typ = g.faker.RandomString([]string{"hover", "scroll", "other"})
		switch typ {
		case "hover":
			mag = g.faker.Float64Range(0.5, 4)
		case "scroll":
			mag = float64(g.faker.IntRange(0, 2))
		default:
			mag = 1
		}
	}
	return struggle.SignalEvent{
		SessionKey: l.Key,
		RawSignal: struggle.RawSignal{
			Type:      typ,
			Timestamp: at.UTC(),
			Magnitude: mag,
			PageID:    "page-" + g.faker.DigitN(3),
		},
	}
}

// Report counts what a run delivered.
type Report struct {
	Sent   int
	Failed int
}

// Run sends Events signals per learner. Learners run in parallel up to
// Concurrency; each learner's events stay in timestamp order.
func (g *Generator) Run(ctx context.Context, sink Sink) (Report, error) {
	learners := g.Learners()
	// events are pre-built so the shared faker is only touched from one goroutine
	plans := make([][]struggle.SignalEvent, len(learners))
	start := g.now().Add(-time.Duration(g.cfg.Events) * time.Second)
	for i, l := range learners {
		plans[i] = make([]struggle.SignalEvent, g.cfg.Events)
		for j := range plans[i] {
			plans[i][j] = g.Event(l, start.Add(time.Duration(j)*time.Second))
		}
	}

	results := make([]Report, len(learners))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i := range plans {
		eg.Go(func() error {
			for _, ev := range plans[i] {
				if g.cfg.Interval > 0 {
					ev.Timestamp = g.now().UTC()
				}
				if err := sink.Send(ctx, ev); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					results[i].Failed++
				} else {
					results[i].Sent++
				}
				if g.cfg.Interval > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(g.cfg.Interval):
					}
				}
			}
			return nil
		})
	}
	err := eg.Wait()
	var total Report
	for _, r := range results {
		total.Sent += r.Sent
		total.Failed += r.Failed
	}
	return total, err
}
