package platform

import (
	"sort"
	"strings"
	"time"
)

// Ungrouped is the flow group for jobs without one.
const Ungrouped = "ungrouped"

// FlowGroup is a named set of jobs.
type FlowGroup struct {
	Name string `json:"name"`
	Jobs []Job  `json:"jobs"`
}

// GroupByFlow groups jobs by flow group. Groups keep the order in which they
// first appear; jobs inside a group are sorted by name.
func GroupByFlow(jobs []Job) []FlowGroup {
	index := map[string]int{}
	var groups []FlowGroup
	for _, job := range jobs {
		name := strings.TrimSpace(job.FlowGroup)
		if name == "" {
			name = Ungrouped
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, FlowGroup{Name: name})
		}
		groups[i].Jobs = append(groups[i].Jobs, job)
	}
	for i := range groups {
		jobs := groups[i].Jobs
		sort.SliceStable(jobs, func(a, b int) bool {
			return strings.ToLower(jobs[a].Name) < strings.ToLower(jobs[b].Name)
		})
	}
	return groups
}

// Agent moods, from most to least responsive.
const (
	MoodActive  = "active"
	MoodIdle    = "idle"
	MoodSleepy  = "sleepy"
	MoodOffline = "offline"
)

const (
	activeWithin = 30 * time.Second
	idleWithin   = 2 * time.Minute
	sleepyWithin = 10 * time.Minute
)

// Vitals is the derived liveness of an agent.
type Vitals struct {
	Mood   string        `json:"mood"`
	Energy int           `json:"energy"`
	Age    time.Duration `json:"ageNanos"`
}

// AgentVitals derives an agent's mood and energy from its heartbeat age.
// Energy decays linearly from 100 to 0 over ten minutes.
func AgentVitals(agent Agent, now time.Time) Vitals {
	if agent.LastHeartbeatAt == nil {
		return Vitals{Mood: MoodOffline}
	}
	age := now.Sub(*agent.LastHeartbeatAt)
	if age < 0 {
		age = 0
	}
	v := Vitals{Age: age}
	switch {
	case age < activeWithin:
		v.Mood = MoodActive
	case age < idleWithin:
		v.Mood = MoodIdle
	case age < sleepyWithin:
		v.Mood = MoodSleepy
	default:
		v.Mood = MoodOffline
	}
	if age < sleepyWithin {
		v.Energy = int(100 * (sleepyWithin - age) / sleepyWithin)
	}
	return v
}

// SummarizeRuns counts runs by status.
func SummarizeRuns(runs []Run) map[string]int {
	out := make(map[string]int)
	for _, run := range runs {
		status := strings.ToLower(strings.TrimSpace(run.Status))
		if status == "" {
			status = "unknown"
		}
		out[status]++
	}
	return out
}
