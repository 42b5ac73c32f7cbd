package report

import (
	"math"
	"sort"
	"time"
)

// TaskInput is one task's contribution to a report: its event stream plus the
// metadata needed for display and override handling.
type TaskInput struct {
	ID       string
	Title    string
	Status   string
	Override *int64 // manual effort override, seconds
	Events   []Event
}

type UserInput struct {
	UserID string
	Name   string
	Tasks  []TaskInput
}

type TaskEffort struct {
	TaskID   string    `json:"task_id"`
	Title    string    `json:"title"`
	Status   string    `json:"status"`
	Sessions []Session `json:"sessions"`
	Seconds  int64     `json:"seconds"`
	Override *int64    `json:"override,omitempty"`
}

type UserReport struct {
	UserID  string       `json:"user_id"`
	Name    string       `json:"name,omitempty"`
	Tasks   []TaskEffort `json:"tasks"`
	Seconds int64        `json:"seconds"`
}

type DailyPoint struct {
	Date     string  `json:"date"`
	Hours    float64 `json:"hours"`
	Sessions int     `json:"sessions"`
}

type SharePoint struct {
	Label   string  `json:"label"`
	Seconds int64   `json:"seconds"`
	Percent float64 `json:"percent"`
}

type Chart struct {
	Daily        []DailyPoint `json:"daily"`
	Distribution []SharePoint `json:"distribution"`
}

type Report struct {
	GeneratedAt string       `json:"generated_at"`
	Users       []UserReport `json:"users"`
	Seconds     int64        `json:"seconds"`
	Chart       Chart        `json:"chart"`
}

// Build assembles a productivity report: sessions per task, totals per task
// and user with overrides applied, and the chart aggregates. Input order is
// preserved so identical input yields identical output.
func Build(inputs []UserInput, now time.Time, loc *time.Location, h Heuristics) Report {
	if loc == nil {
		loc = time.UTC
	}
	rep := Report{GeneratedAt: now.In(loc).Format(time.RFC3339)}
	for _, u := range inputs {
		ur := UserReport{UserID: u.UserID, Name: u.Name}
		for _, t := range u.Tasks {
			sessions, _ := h.Reconstruct(t.Events, now, loc)
			effort := TaskEffort{
				TaskID:   t.ID,
				Title:    t.Title,
				Status:   t.Status,
				Sessions: sessions,
				Seconds:  Total(sessions, t.Override),
				Override: t.Override,
			}
			ur.Seconds += effort.Seconds
			ur.Tasks = append(ur.Tasks, effort)
		}
		rep.Seconds += ur.Seconds
		rep.Users = append(rep.Users, ur)
	}
	rep.Chart = buildChart(rep)
	return rep
}

// buildChart aggregates the daily hours trend and the per-task share of the
// grand total. Overridden tasks contribute their override to the
// distribution but only raw sessions to the daily trend.
func buildChart(rep Report) Chart {
	daily := map[string]*DailyPoint{}
	var shares []SharePoint
	for _, u := range rep.Users {
		for _, t := range u.Tasks {
			for _, s := range t.Sessions {
				key := s.Start.Format("2006-01-02")
				p, ok := daily[key]
				if !ok {
					p = &DailyPoint{Date: key}
					daily[key] = p
				}
				p.Hours += float64(s.Seconds) / 3600
				p.Sessions++
			}
			if t.Seconds > 0 {
				shares = append(shares, SharePoint{Label: t.Title, Seconds: t.Seconds})
			}
		}
	}

	var chart Chart
	keys := make([]string, 0, len(daily))
	for k := range daily {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := daily[k]
		p.Hours = round2(p.Hours)
		chart.Daily = append(chart.Daily, *p)
	}

	if rep.Seconds > 0 {
		for i := range shares {
			shares[i].Percent = round1(float64(shares[i].Seconds) / float64(rep.Seconds) * 100)
		}
	}
	chart.Distribution = shares
	return chart
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
